// Package middleware wraps durable step bodies with cross-cutting logic.
//
// A [Middleware] receives the step description and the next handler.
// Middleware is composed with [Chain] and applied by the workflow runner to
// every step that actually executes. Steps answered from a checkpoint on
// replay do not pass through the chain, so metrics count real work only.
//
// # Built-in Middleware
//
//   - [Logging] logs step start, duration and outcome
//   - [Recover] turns panics into step errors
//   - [Timeout] bounds each step body
//   - [Tracing] wraps each step in an OpenTelemetry span
//   - [Metrics] records step duration and outcome counters
package middleware
