// Package engine wires all Escrow subsystems together and is the entry
// point for applications embedding the bank, shop, widget store and
// payment processor.
//
// # Building an Engine
//
//	eng, err := engine.New(
//	    engine.WithStore(pgStore),
//	    engine.WithConfig(cfg),
//	    engine.WithLogger(logger),
//	    engine.WithExtension(audithook.New(audithook.NewLogRecorder(logger))),
//	)
//
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(ctx)
//
// New registers every business workflow and step, builds the step
// middleware chain (recover, tracing, metrics, logging, timeout), the
// Prometheus metrics extension, the dead letter service and the recovery
// scheduler.
//
// # Split persistence
//
// [WithEngineStore] keeps the engine records (executions, checkpoints,
// signals, messages, dead letters) in a separate backend such as Redis
// while business ledgers stay in the store given to [WithStore].
//
// # Options
//
//   - [WithStore]: aggregate store (required)
//   - [WithEngineStore]: separate store for engine records
//   - [WithConfig]: timeouts, hosts and recovery schedule
//   - [WithExtension]: register a lifecycle extension
//   - [WithMiddleware]: add step middleware
//   - [WithStepTimeout]: bound every step body
//   - [WithHTTPClient]: client for remote callouts
//   - [WithBackoff]: dead letter retry backoff
//   - [WithTracerProvider], [WithMeterProvider]: OpenTelemetry providers
//   - [WithPrometheusRegistry]: registry for execution metrics
package engine
