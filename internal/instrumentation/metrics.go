package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Result label values shared by all outcome counters.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics holds the instrument set for the server. All Record methods
// are safe on a nil receiver so callers can wire an optional *Metrics
// without guarding every call site.
type Metrics struct {
	toolInvocations metric.Int64Counter
	toolDuration    metric.Float64Histogram

	apiOperations  metric.Int64Counter
	apiDuration    metric.Float64Histogram
	oauthFlows     metric.Int64Counter
	tokenRefreshes metric.Int64Counter
	activeSessions metric.Int64UpDownCounter
}

// NewMetrics creates the instrument set on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.toolInvocations, err = meter.Int64Counter(
		"mcp_tool_invocations_total",
		metric.WithDescription("Total MCP tool invocations by tool and result"),
	); err != nil {
		return nil, err
	}

	if m.toolDuration, err = meter.Float64Histogram(
		"mcp_tool_duration_seconds",
		metric.WithDescription("MCP tool invocation duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.apiOperations, err = meter.Int64Counter(
		"teamup_api_operations_total",
		metric.WithDescription("Total upstream TeamUp API operations by method, resource and result"),
	); err != nil {
		return nil, err
	}

	if m.apiDuration, err = meter.Float64Histogram(
		"teamup_api_operation_duration_seconds",
		metric.WithDescription("Upstream TeamUp API operation duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.oauthFlows, err = meter.Int64Counter(
		"oauth_flow_total",
		metric.WithDescription("Completed OAuth authorization flows by result"),
	); err != nil {
		return nil, err
	}

	if m.tokenRefreshes, err = meter.Int64Counter(
		"oauth_token_refresh_total",
		metric.WithDescription("OAuth token refresh attempts by result"),
	); err != nil {
		return nil, err
	}

	if m.activeSessions, err = meter.Int64UpDownCounter(
		"active_sessions",
		metric.WithDescription("Sessions currently tracked by the registry"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordToolInvocation records one MCP tool call outcome.
func (m *Metrics) RecordToolInvocation(ctx context.Context, tool, result string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("result", result),
	)
	m.toolInvocations.Add(ctx, 1, attrs)
	m.toolDuration.Record(ctx, seconds, attrs)
}

// RecordAPIOperation records one upstream TeamUp API round trip. The
// resource label is the catalog path template, not the expanded URL, to
// keep cardinality bounded.
func (m *Metrics) RecordAPIOperation(ctx context.Context, method, resource, result string, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("resource", resource),
		attribute.String("result", result),
	)
	m.apiOperations.Add(ctx, 1, attrs)
	m.apiDuration.Record(ctx, seconds, attrs)
}

// RecordOAuthFlow records the outcome of one authorization-code flow.
func (m *Metrics) RecordOAuthFlow(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.oauthFlows.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordTokenRefresh records one refresh attempt against the token endpoint.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// IncrementActiveSessions bumps the session gauge when the registry
// mints a session.
func (m *Metrics) IncrementActiveSessions(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeSessions.Add(ctx, 1)
}

// DecrementActiveSessions lowers the session gauge by n, used both for
// single removals and for sweep batches.
func (m *Metrics) DecrementActiveSessions(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.activeSessions.Add(ctx, -n)
}
