package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

// Scope is the instrumentation scope of the meters and tracers created by
// NewClueSet.
const Scope = "goa.design/symposium/runtime/agent"

type (
	// clueLogger writes through goa.design/clue/log. Formatting and debug
	// output are controlled by the context (log.Context, log.WithFormat,
	// log.WithDebug).
	clueLogger struct {
		fields []log.Fielder
	}

	// otelMetrics records on instruments of the global MeterProvider.
	// Instruments are created on first use and cached by name.
	otelMetrics struct {
		meter      metric.Meter
		counters   sync.Map // name -> metric.Float64Counter
		histograms sync.Map // name -> metric.Float64Histogram
		gauges     sync.Map // name -> metric.Float64Gauge
	}

	otelTracer struct {
		tracer trace.Tracer
	}

	otelSpan struct {
		span trace.Span
	}
)

// NewClueSet returns a Set logging through Clue and recording metrics and
// spans with the global OTEL providers. Configure the providers first, for
// example with clue.ConfigureOpenTelemetry. keyvals are attached to every
// log entry.
func NewClueSet(keyvals ...any) Set {
	return Set{
		Logger:  &clueLogger{fields: fielders(keyvals)},
		Metrics: &otelMetrics{meter: otel.Meter(Scope)},
		Tracer:  &otelTracer{tracer: otel.Tracer(Scope)},
	}
}

func (l *clueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, l.entry(msg, keyvals)...)
}

func (l *clueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, l.entry(msg, keyvals)...)
}

func (l *clueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Warn(ctx, l.entry(msg, keyvals)...)
}

// Error logs msg at error level. An "err" value in keyvals becomes the
// entry error.
func (l *clueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	var err error
	rest := make([]any, 0, len(keyvals))
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 < len(keyvals) && keyvals[i] == "err" {
			if e, ok := keyvals[i+1].(error); ok {
				err = e
				continue
			}
		}
		rest = append(rest, keyvals[i:min(i+2, len(keyvals))]...)
	}
	log.Error(ctx, err, l.entry(msg, rest)...)
}

func (l *clueLogger) entry(msg string, keyvals []any) []log.Fielder {
	out := make([]log.Fielder, 0, 1+len(l.fields)+len(keyvals)/2)
	out = append(out, log.KV{K: "msg", V: msg})
	out = append(out, l.fields...)
	return append(out, fielders(keyvals)...)
}

func (m *otelMetrics) IncCounter(name string, value float64, tags ...string) {
	c, ok := instrument(&m.counters, name, m.meter.Float64Counter)
	if !ok {
		return
	}
	c.Add(context.Background(), value, metric.WithAttributes(tagAttrs(tags)...))
}

func (m *otelMetrics) RecordTimer(name string, d time.Duration, tags ...string) {
	h, ok := instrument(&m.histograms, name, func(n string, _ ...metric.Float64HistogramOption) (metric.Float64Histogram, error) {
		return m.meter.Float64Histogram(n, metric.WithUnit("s"))
	})
	if !ok {
		return
	}
	h.Record(context.Background(), d.Seconds(), metric.WithAttributes(tagAttrs(tags)...))
}

func (m *otelMetrics) RecordGauge(name string, value float64, tags ...string) {
	g, ok := instrument(&m.gauges, name, m.meter.Float64Gauge)
	if !ok {
		return
	}
	g.Record(context.Background(), value, metric.WithAttributes(tagAttrs(tags)...))
}

// instrument returns the cached instrument name, creating it with create on
// first use. Creation errors are not cached.
func instrument[T any, O any](cache *sync.Map, name string, create func(string, ...O) (T, error)) (T, bool) {
	if v, ok := cache.Load(name); ok {
		return v.(T), true
	}
	inst, err := create(name)
	if err != nil {
		var zero T
		return zero, false
	}
	v, _ := cache.LoadOrStore(name, inst)
	return v.(T), true
}

func (t *otelTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, opts...)
	return ctx, otelSpan{span: span}
}

func (t *otelTracer) Span(ctx context.Context) Span {
	return otelSpan{span: trace.SpanFromContext(ctx)}
}

func (s otelSpan) End(opts ...trace.SpanEndOption) { s.span.End(opts...) }

func (s otelSpan) AddEvent(name string, keyvals ...any) {
	s.span.AddEvent(name, trace.WithAttributes(attrs(keyvals)...))
}

func (s otelSpan) SetStatus(code codes.Code, description string) {
	s.span.SetStatus(code, description)
}

func (s otelSpan) RecordError(err error, opts ...trace.EventOption) {
	s.span.RecordError(err, opts...)
}

// fielders converts alternating keys and values to Clue fields. Pairs with
// a non string key are dropped and a trailing key gets a nil value.
func fielders(keyvals []any) []log.Fielder {
	out := make([]log.Fielder, 0, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		k, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		out = append(out, log.KV{K: k, V: v})
	}
	return out
}

func tagAttrs(tags []string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, (len(tags)+1)/2)
	for i := 0; i < len(tags); i += 2 {
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		out = append(out, attribute.String(tags[i], v))
	}
	return out
}

// attrs converts span event pairs to attributes. Values of other types
// than string, bool, int, int64 and float64 are formatted with %v.
func attrs(keyvals []any) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		k, _ := keyvals[i].(string)
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case int64:
			out = append(out, attribute.Int64(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		case nil:
			out = append(out, attribute.String(k, ""))
		default:
			out = append(out, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return out
}
