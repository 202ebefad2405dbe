// Package telemetry integrates agent turns with Clue logging, OpenTelemetry
// tracing and metrics.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Instrument names recorded by the engine.
const (
	SpanTurn     = "symposium.turn"
	SpanGenerate = "symposium.generate"

	CounterGenerateRetries = "symposium.generate.retries"
	CounterToolCalls       = "symposium.tool.calls"
	TimerGenerate          = "symposium.generate.duration"
	TimerProviderGenerate  = "symposium.provider.generate.duration"
)

type (
	// Logger captures structured logging used throughout the engine.
	// Implementations typically delegate to Clue but the interface is small so
	// tests can provide lightweight stubs.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics exposes counter and histogram helpers.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer abstracts span creation so engine code remains agnostic of the
	// underlying OpenTelemetry provider.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span represents an in-flight tracing span.
	//
	//	ctx, span := tracer.Start(ctx, telemetry.SpanTurn)
	//	defer span.End()
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}

	// Set bundles the three signals. Zero fields are replaced with no-op
	// implementations by WithDefaults.
	Set struct {
		Logger  Logger
		Metrics Metrics
		Tracer  Tracer
	}
)

// WithDefaults returns s with nil signals replaced by no-op ones.
func (s Set) WithDefaults() Set {
	if s.Logger == nil {
		s.Logger = NewNoopLogger()
	}
	if s.Metrics == nil {
		s.Metrics = NewNoopMetrics()
	}
	if s.Tracer == nil {
		s.Tracer = NewNoopTracer()
	}
	return s
}
