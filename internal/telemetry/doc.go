// Package telemetry wraps OpenTelemetry SDK initialization, providing
// the service's TracerProvider and MeterProvider from one place. When
// telemetry is disabled the noop implementations are used and nothing
// connects out.
package telemetry
