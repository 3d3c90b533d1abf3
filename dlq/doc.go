// Package dlq keeps dead letters: executions that failed with an error
// wrapping escrow.ErrFatal, such as a reversal whose transaction ID does
// not match the forward update.
//
// [Service.Push] records the failure. Unless the retry budget is spent,
// the entry gets a NextRetryAt computed from a backoff.Strategy, and
// [Service.RetryDue] (driven by the recovery scheduler) replays entries
// that are due through workflow.Runner.Retry. Operators replay an entry
// immediately with [Service.Replay]. A retry that ends without a fatal
// error resolves the entry.
package dlq
