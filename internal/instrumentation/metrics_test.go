package instrumentation

import (
	"context"
	"testing"
)

func metricsForTest(t *testing.T) *Metrics {
	t.Helper()
	provider := testProvider(t, Config{
		Enabled:         true,
		ServiceName:     "test-service",
		ServiceVersion:  "1.0.0",
		MetricsExporter: ExporterPrometheus,
		TracesExporter:  ExporterNone,
	})
	m := provider.Metrics()
	if m == nil {
		t.Fatal("expected metrics to be non-nil")
	}
	return m
}

func TestMetrics_RecordToolInvocation(t *testing.T) {
	ctx := context.Background()
	m := metricsForTest(t)

	// Should not panic
	m.RecordToolInvocation(ctx, "teamup_list_events", ResultSuccess, 0.12)
	m.RecordToolInvocation(ctx, "teamup_create_customer", ResultError, 0.5)
}

func TestMetrics_RecordAPIOperation(t *testing.T) {
	ctx := context.Background()
	m := metricsForTest(t)

	m.RecordAPIOperation(ctx, "GET", "/events", ResultSuccess, 0.2)
	m.RecordAPIOperation(ctx, "POST", "/customers", ResultError, 1.1)
	m.RecordAPIOperation(ctx, "DELETE", "/events/{id}", ResultSuccess, 0.05)
}

func TestMetrics_RecordOAuthOutcomes(t *testing.T) {
	ctx := context.Background()
	m := metricsForTest(t)

	m.RecordOAuthFlow(ctx, ResultSuccess)
	m.RecordOAuthFlow(ctx, ResultError)
	m.RecordTokenRefresh(ctx, ResultSuccess)
	m.RecordTokenRefresh(ctx, ResultError)
}

func TestMetrics_SessionGauge(t *testing.T) {
	ctx := context.Background()
	m := metricsForTest(t)

	m.IncrementActiveSessions(ctx)
	m.IncrementActiveSessions(ctx)
	m.DecrementActiveSessions(ctx, 2)
}

func TestMetrics_NilReceiver(t *testing.T) {
	ctx := context.Background()
	var m *Metrics

	// All recorders must tolerate nil so callers can leave metrics unwired.
	m.RecordToolInvocation(ctx, "teamup_list_events", ResultSuccess, 0.1)
	m.RecordAPIOperation(ctx, "GET", "/events", ResultSuccess, 0.1)
	m.RecordOAuthFlow(ctx, ResultSuccess)
	m.RecordTokenRefresh(ctx, ResultError)
	m.IncrementActiveSessions(ctx)
	m.DecrementActiveSessions(ctx, 1)
}
