package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// SlogLogger adapts the standard library's structured logger to Logger. The
// teacher repo delegates to goa.design/clue/log, an internal Goa package;
// this project uses log/slog for the same "structured keyvals over a
// context-free logger" shape since clue is not a generally available
// dependency (see DESIGN.md).
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps l, or the default slog logger if l is nil.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return SlogLogger{logger: l}
}

func (s SlogLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	s.logger.DebugContext(ctx, msg, keyvals...)
}
func (s SlogLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	s.logger.InfoContext(ctx, msg, keyvals...)
}
func (s SlogLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	s.logger.WarnContext(ctx, msg, keyvals...)
}
func (s SlogLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	s.logger.ErrorContext(ctx, msg, keyvals...)
}

// OtelMetrics records counters/histograms via the global OTEL MeterProvider.
type OtelMetrics struct {
	meter metric.Meter
}

// NewOtelMetrics constructs a Metrics recorder backed by OTEL. Configure the
// global MeterProvider via otel.SetMeterProvider before use.
func NewOtelMetrics() Metrics {
	return &OtelMetrics{meter: otel.Meter("github.com/pmflow/orchestrator")}
}

func (m *OtelMetrics) IncCounter(name string, value float64, tags ...string) {
	counter, err := m.meter.Float64Counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *OtelMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	histogram, err := m.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	histogram.Record(context.Background(), duration.Seconds(), metric.WithAttributes(tagsToAttrs(tags)...))
}

func (m *OtelMetrics) RecordGauge(name string, value float64, tags ...string) {
	histogram, err := m.meter.Float64Histogram(name + "_gauge")
	if err != nil {
		return
	}
	histogram.Record(context.Background(), value, metric.WithAttributes(tagsToAttrs(tags)...))
}

// OtelTracer creates spans via the global OTEL TracerProvider.
type OtelTracer struct {
	tracer oteltrace.Tracer
}

// NewOtelTracer constructs a Tracer backed by OTEL. Configure the global
// TracerProvider via otel.SetTracerProvider before use.
func NewOtelTracer() Tracer {
	return &OtelTracer{tracer: otel.Tracer("github.com/pmflow/orchestrator")}
}

func (t *OtelTracer) Start(ctx context.Context, name string, opts ...oteltrace.SpanStartOption) (context.Context, Span) {
	newCtx, span := t.tracer.Start(ctx, name, opts...)
	return newCtx, &otelSpan{span: span}
}

func (t *OtelTracer) Span(ctx context.Context) Span {
	return &otelSpan{span: oteltrace.SpanFromContext(ctx)}
}

type otelSpan struct {
	span oteltrace.Span
}

func (s *otelSpan) End(opts ...oteltrace.SpanEndOption) { s.span.End(opts...) }
func (s *otelSpan) AddEvent(name string, attrs ...any) {
	s.span.AddEvent(name, oteltrace.WithAttributes(kvToAttrs(attrs)...))
}
func (s *otelSpan) SetStatus(code codes.Code, description string) { s.span.SetStatus(code, description) }
func (s *otelSpan) RecordError(err error, opts ...oteltrace.EventOption) {
	s.span.RecordError(err, opts...)
}

func tagsToAttrs(tags []string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(tags)/2)
	for i := 0; i+1 < len(tags); i += 2 {
		out = append(out, attribute.String(tags[i], tags[i+1]))
	}
	return out
}

func kvToAttrs(keyvals []any) []attribute.KeyValue {
	var out []attribute.KeyValue
	for i := 0; i+1 < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		out = append(out, attribute.String(k, toString(keyvals[i+1])))
	}
	return out
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
