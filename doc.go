// Package escrow provides durable saga workflows for Go. It runs
// multi-step business transactions whose forward steps execute at most
// once, survive process crashes, and are compensated when a later step or
// an external confirmation fails.
//
// Escrow is a library first. Configure a store, register workflows and
// steps as ordinary Go functions, and start executions by ID:
//
//	eng, err := engine.New(memory.New(), engine.WithConfig(cfg))
//	h, err := workflow.StartOrResume(ctx, eng.Runner(), "order-42", "checkout", input)
//	url, err := eng.Bus().AwaitSignal(ctx, h.ID(), "payment_checkout_url", time.Minute)
//
// # Architecture
//
// The workflow and event packages form the durable substrate: checkpointed
// steps, single-writer signals, consumable messages and durable sleeps. The
// saga package builds the compensation ledger, the phase orchestrator and
// the outcome notifier on top of it. The bank, shop, widget and payment
// packages are business workflows expressed with those pieces.
//
// Each subsystem defines its own store interface and a single backend
// (memory, postgres or redis) implements them.
//
// Engine entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers. Execution IDs may also be supplied by callers as arbitrary
// idempotency keys.
package escrow
