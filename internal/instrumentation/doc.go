// Package instrumentation provides OpenTelemetry metrics and tracing
// for the TeamUp MCP server. It records tool invocations, upstream API
// operations, OAuth flow outcomes, and session lifecycle counts, and can
// expose them through a Prometheus endpoint or an OTLP exporter.
package instrumentation
