package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	AttrOperation = attribute.Key("regmonitor.operation")
	AttrAgency    = attribute.Key("regmonitor.agency")
	AttrCollector = attribute.Key("regmonitor.collector")
	AttrOutcome   = attribute.Key("regmonitor.outcome")
	AttrNotifier  = attribute.Key("regmonitor.notifier")
	AttrAlertID   = attribute.Key("regmonitor.alert.id")
)

// CollectorRun creates attributes for one collector invocation.
func CollectorRun(agencyID, kind string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrAgency.String(agencyID),
		AttrCollector.String(kind),
	}
}

// StartAlertSpan starts a span for work on one alert. The alert id is a
// span attribute only, never a metric label.
func (p *Provider) StartAlertSpan(ctx context.Context, name, alertID, agencyID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{AttrAlertID.String(alertID), AttrAgency.String(agencyID)}, attrs...)
	return p.StartSpan(ctx, name, trace.WithAttributes(attrs...))
}

// AddSpanEvent adds an event to the span in ctx.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
