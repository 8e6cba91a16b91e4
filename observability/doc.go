// Package observability provides an OpenTelemetry metrics extension for
// saga. MetricsExtension implements the lifecycle hooks and records
// execution, step, compensation and fleet counters plus duration
// histograms, labelled by workflow type.
//
// For per-invocation tracing and metrics see middleware.Tracing and
// middleware.Metrics.
package observability
