package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// discard implements every signal by dropping it.
type discard struct{}

// NewNoopLogger returns a Logger that drops every message.
func NewNoopLogger() Logger { return discard{} }

// NewNoopMetrics returns a Metrics recorder that drops every sample.
func NewNoopMetrics() Metrics { return discard{} }

// NewNoopTracer returns a Tracer whose spans record nothing. The context is
// returned unchanged by Start.
func NewNoopTracer() Tracer { return discard{} }

func (discard) Debug(context.Context, string, ...any) {}

func (discard) Info(context.Context, string, ...any) {}

func (discard) Warn(context.Context, string, ...any) {}

func (discard) Error(context.Context, string, ...any) {}

func (discard) IncCounter(string, float64, ...string) {}

func (discard) RecordTimer(string, time.Duration, ...string) {}

func (discard) RecordGauge(string, float64, ...string) {}

func (discard) Span(context.Context) Span { return discard{} }

func (discard) End(...trace.SpanEndOption) {}

func (discard) AddEvent(string, ...any) {}

func (discard) SetStatus(codes.Code, string) {}

func (discard) RecordError(error, ...trace.EventOption) {}

func (discard) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, Span) {
	return ctx, discard{}
}
