// Package observability provides a Prometheus metrics extension for
// Escrow. The MetricsExtension implements lifecycle hooks to record
// execution starts, resumes and outcomes per workflow, step failures,
// dead letters and recovery sweeps, and serves them over HTTP.
//
// For per-step tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
