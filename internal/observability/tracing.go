package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a tracer for the given name
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// StartSpan starts a new span from context
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, opts...)
}

// StartDBSpan starts a span for database operations
func StartDBSpan(ctx context.Context, system, operation, table string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("DB %s %s", operation, table),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", system),
			attribute.String("db.operation", operation),
			attribute.String("db.sql.table", table),
		),
	)
}

// StartServiceSpan starts a span for service operations
func StartServiceSpan(ctx context.Context, service, operation string) (context.Context, trace.Span) {
	return StartSpan(ctx, fmt.Sprintf("%s.%s", service, operation),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("service.component", service),
			attribute.String("service.operation", operation),
		),
	)
}

// RecordError records an error on the span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSuccess marks the span as successful
func SetSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds an event to the span
func AddEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// IngestionMetrics holds photo ingestion metrics
type IngestionMetrics struct {
	ingestions        metric.Int64Counter
	projectionUpdates metric.Int64Counter
	reportsNotified   metric.Int64Counter
	stepFailures      metric.Int64Counter
	duration          metric.Float64Histogram
}

// NewIngestionMetrics creates ingestion metrics instruments
func NewIngestionMetrics() (*IngestionMetrics, error) {
	meter := otel.Meter(instrumentationName)

	ingestions, err := meter.Int64Counter(
		"sitephoto.ingestion.count",
		metric.WithDescription("Total number of photo ingestions by outcome"),
		metric.WithUnit("{ingestions}"),
	)
	if err != nil {
		return nil, err
	}

	projectionUpdates, err := meter.Int64Counter(
		"sitephoto.projection.updates",
		metric.WithDescription("Latest-photo projection rows merged"),
		metric.WithUnit("{rows}"),
	)
	if err != nil {
		return nil, err
	}

	reportsNotified, err := meter.Int64Counter(
		"sitephoto.reports.notified",
		metric.WithDescription("Generated reports whose new-photo counter was incremented"),
		metric.WithUnit("{reports}"),
	)
	if err != nil {
		return nil, err
	}

	stepFailures, err := meter.Int64Counter(
		"sitephoto.ingestion.step_failures",
		metric.WithDescription("Best-effort ingestion steps that failed"),
		metric.WithUnit("{failures}"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"sitephoto.ingestion.duration",
		metric.WithDescription("Photo ingestion duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &IngestionMetrics{
		ingestions:        ingestions,
		projectionUpdates: projectionUpdates,
		reportsNotified:   reportsNotified,
		stepFailures:      stepFailures,
		duration:          duration,
	}, nil
}

// RecordIngestion records one finished ingestion
func (m *IngestionMetrics) RecordIngestion(ctx context.Context, reportType, state string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("report_type", reportType),
		attribute.String("state", state),
	)
	m.ingestions.Add(ctx, 1, attrs)
	m.duration.Record(ctx, float64(d.Milliseconds()), attrs)
}

// RecordProjectionUpdate records a merged projection row
func (m *IngestionMetrics) RecordProjectionUpdate(ctx context.Context) {
	m.projectionUpdates.Add(ctx, 1)
}

// RecordReportsNotified records how many reports were bumped for a photo
func (m *IngestionMetrics) RecordReportsNotified(ctx context.Context, n int) {
	if n > 0 {
		m.reportsNotified.Add(ctx, int64(n))
	}
}

// RecordStepFailure records a swallowed failure of a best-effort step
func (m *IngestionMetrics) RecordStepFailure(ctx context.Context, step string) {
	m.stepFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}
