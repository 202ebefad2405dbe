package telemetry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"goa.design/clue/log"

	"goa.design/symposium/runtime/agent/telemetry"
)

func TestNoopSignals(t *testing.T) {
	ctx := context.Background()
	set := telemetry.Set{}.WithDefaults()

	set.Logger.Info(ctx, "info message", "key", "value")
	set.Metrics.IncCounter(telemetry.CounterToolCalls, 1, "function", "create_todo")
	set.Metrics.RecordTimer(telemetry.TimerGenerate, 100*time.Millisecond)

	newCtx, span := set.Tracer.Start(ctx, telemetry.SpanTurn)
	require.Equal(t, ctx, newCtx)
	span.AddEvent("retry", "attempt", 2)
	span.SetStatus(codes.Error, "failed")
	span.RecordError(errors.New("boom"))
	span.End()
}

func TestClueSignals(t *testing.T) {
	ctx := log.Context(context.Background(), log.WithFormat(log.FormatJSON))
	set := telemetry.NewClueSet("agent", "assistant")

	set.Logger.Debug(ctx, "debug", "thread", "t1")
	set.Logger.Warn(ctx, "warn", "odd")
	set.Metrics.IncCounter(telemetry.CounterGenerateRetries, 1, "model", "gpt-4o")
	set.Metrics.IncCounter(telemetry.CounterGenerateRetries, 1, "model", "gpt-4o")
	set.Metrics.RecordGauge("symposium.thread.tokens", 42)
	set.Metrics.RecordTimer(telemetry.TimerGenerate, time.Second, "model")
	set.Logger.Error(ctx, "turn failed", "err", errors.New("boom"), "thread", "t1")

	spanCtx, span := set.Tracer.Start(ctx, telemetry.SpanGenerate)
	require.NotNil(t, set.Tracer.Span(spanCtx))
	span.AddEvent("generate.retry", "attempt", 2, "status", 503, "cause", errors.New("unavailable"))
	span.End()
}
