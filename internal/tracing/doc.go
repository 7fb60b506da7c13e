// Package tracing wires the optional OpenTelemetry exporter.
package tracing
