// Package telemetry provides structured logging, Prometheus metrics, and
// OpenTelemetry tracing for the converge engine. Logging is built on
// zerolog; component loggers carry run, play, and host context so a
// multi-host convergence can be followed per host.
package telemetry
