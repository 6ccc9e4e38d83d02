package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestProvider(t *testing.T) (*Provider, *tracetest.InMemoryExporter, *sdkmetric.ManualReader) {
	t.Helper()
	spans := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.SpanExporter = spans
	cfg.MetricReader = reader

	p, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, spans, reader
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string, match ...attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
		points:
			for _, dp := range sum.DataPoints {
				for _, kv := range match {
					v, ok := dp.Attributes.Value(kv.Key)
					if !ok || v != kv.Value {
						continue points
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "regmonitor", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.False(t, cfg.Enabled)
}

func TestDisabledProviderIsNoop(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())

	ctx := context.Background()
	_, finish := p.TrackOperation(ctx, "cycle")
	finish(errors.New("boom"))
	p.RecordCollected(ctx, "OCC", "feed", 3)
	p.RecordCollectorPanic(ctx, "OCC", "web")
	p.RecordAlert(ctx, "OCC", "created")
	p.RecordNotification(ctx, "log", true)
	p.RecordSkippedCycle(ctx)
	AddSpanEvent(ctx, "noop")
	require.NoError(t, p.ForceFlush(ctx))
	require.NoError(t, p.Shutdown(ctx))
}

func TestTrackOperation_RecordsSpanAndErrors(t *testing.T) {
	p, spans, reader := newTestProvider(t)
	ctx := context.Background()

	_, finish := p.TrackOperation(ctx, "monitor.cycle")
	finish(nil)
	_, finish = p.TrackOperation(ctx, "collector.run", CollectorRun("SEC", "api")...)
	finish(errors.New("panic recovered"))

	require.NoError(t, p.ForceFlush(ctx))
	got := spans.GetSpans()
	require.Len(t, got, 2)
	assert.Equal(t, "monitor.cycle", got[0].Name)
	assert.Equal(t, "collector.run", got[1].Name)
	require.Len(t, got[1].Events, 1, "error is recorded on the span")

	assert.Equal(t, int64(2), sumOf(t, reader, "regmonitor.operations.total"))
	assert.Equal(t, int64(1), sumOf(t, reader, "regmonitor.errors.total", AttrOperation.String("collector.run")))
	assert.Equal(t, int64(0), sumOf(t, reader, "regmonitor.operations.active"))
}

func TestDomainCounters(t *testing.T) {
	p, _, reader := newTestProvider(t)
	ctx := context.Background()

	p.RecordCollected(ctx, "OCC", "feed", 2)
	p.RecordCollected(ctx, "OCC", "feed", 0)
	p.RecordCollected(ctx, "SEC", "api", 5)
	p.RecordAlert(ctx, "OCC", "created")
	p.RecordAlert(ctx, "OCC", "duplicate")
	p.RecordAlert(ctx, "OCC", "created")
	p.RecordNotification(ctx, "webhook", false)
	p.RecordSkippedCycle(ctx)
	p.RecordCollectorPanic(ctx, "FHFA", "web")

	assert.Equal(t, int64(7), sumOf(t, reader, "regmonitor.updates.collected"))
	assert.Equal(t, int64(2), sumOf(t, reader, "regmonitor.updates.collected", AttrAgency.String("OCC")))
	assert.Equal(t, int64(2), sumOf(t, reader, "regmonitor.alerts.processed", AttrOutcome.String("created")))
	assert.Equal(t, int64(1), sumOf(t, reader, "regmonitor.notifications", AttrOutcome.String("failed")))
	assert.Equal(t, int64(1), sumOf(t, reader, "regmonitor.cycles.skipped"))
	assert.Equal(t, int64(1), sumOf(t, reader, "regmonitor.collector.panics", AttrCollector.String("web")))
}

// TestStartAlertSpan verifies the alert id rides on the span.
// Invariant: alert ids never become metric labels.
func TestStartAlertSpan(t *testing.T) {
	p, spans, reader := newTestProvider(t)
	ctx := context.Background()

	_, span := p.StartAlertSpan(ctx, "alert.notify", "a-42", "SEC", AttrNotifier.String("webhook"))
	span.End()
	p.RecordNotification(ctx, "webhook", true)
	require.NoError(t, p.ForceFlush(ctx))

	got := spans.GetSpans()
	require.Len(t, got, 1)
	assert.Equal(t, "alert.notify", got[0].Name)
	assert.Contains(t, got[0].Attributes, AttrAlertID.String("a-42"))
	assert.Contains(t, got[0].Attributes, AttrAgency.String("SEC"))
	assert.Contains(t, got[0].Attributes, AttrNotifier.String("webhook"))

	assert.Equal(t, int64(1), sumOf(t, reader, "regmonitor.notifications"))
	assert.Zero(t, sumOf(t, reader, "regmonitor.notifications", AttrAlertID.String("a-42")))
}
