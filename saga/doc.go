// Package saga builds compensating business transactions on the durable
// workflow substrate.
//
// A Saga moves through fixed phases:
//
//	started → reserving → awaiting_confirmation → committing | compensating → terminal
//
// Reserve runs forward steps and records their inverses in a Ledger.
// Handoff publishes an intermediate value (a payment URL, a payment ID)
// for the caller. Await blocks durably on a confirmation topic, falling
// back to a single re-check of the system of record when the deadline
// passes. Commit discards the ledger; Abort executes it. Notify publishes
// the final result, and Close, deferred by every saga workflow, releases
// callers still waiting on a declared topic with null.
//
// Expected business failures (insufficient funds or inventory, invalid
// requests, unreachable remote parties) are carried as Outcome values.
// Only fatal failures, such as a reversal that does not match its forward
// transaction, become Go errors via *FatalError.
//
// Cross-system calls go through Callout, which reports ordinary remote
// failures as false instead of an error.
package saga
