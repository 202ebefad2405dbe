package runtime

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"goa.design/symposium/runtime/agent/model"
	"goa.design/symposium/runtime/agent/telemetry"
)

// summarizer gives the memory compressor access to the thread's model.
type summarizer struct {
	agent *Agent
	entry model.Entry
}

// generate sends req to adapter, retrying transient backend failures up to
// the configured number of attempts with a fixed delay in between.
func (a *Agent) generate(ctx context.Context, adapter model.Adapter, req *model.Request) ([]*model.Message, error) {
	ctx, span := a.tracer.Start(ctx, telemetry.SpanGenerate,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("model", req.Model.Name),
			attribute.String("provider", req.Model.Provider),
			attribute.Int("messages", len(req.Messages)),
			attribute.Int("functions", len(req.Functions)),
		),
	)
	defer span.End()

	for attempt := 1; ; attempt++ {
		start := time.Now()
		msgs, err := adapter.Generate(ctx, req)
		a.metrics.RecordTimer(telemetry.TimerGenerate, time.Since(start), "model", req.Model.Name)
		if err == nil {
			span.SetStatus(codes.Ok, "ok")
			return msgs, nil
		}
		te, ok := model.AsTransportError(err)
		if !ok || !te.Retryable() || attempt >= a.maxAttempts {
			span.RecordError(err)
			span.SetStatus(codes.Error, "generate failed")
			return nil, err
		}
		a.metrics.IncCounter(telemetry.CounterGenerateRetries, 1, "model", req.Model.Name, "status", strconv.Itoa(te.Status()))
		a.logger.Warn(ctx, "completion failed, retrying",
			"model", req.Model.Name,
			"attempt", attempt,
			"status", te.Status(),
			"err", err,
		)
		span.AddEvent("generate.retry", "attempt", attempt, "status", te.Status())
		if err := a.sleep(ctx, a.retryDelay); err != nil {
			return nil, err
		}
	}
}

// transcribe fills the transcription of audio parts the model cannot
// consume natively. Messages are replaced, never mutated.
func (a *Agent) transcribe(ctx context.Context, thread *model.Thread, desc model.Descriptor) error {
	if a.transcriber == nil || desc.Audio {
		return nil
	}
	for i, m := range thread.Messages {
		var clone *model.Message
		for j, p := range m.Parts {
			audio, ok := p.(model.AudioPart)
			if !ok || audio.Transcription != "" {
				continue
			}
			text, err := a.transcriber.Transcribe(ctx, audio, a.name)
			if err != nil {
				return fmt.Errorf("transcribe audio: %w", err)
			}
			if clone == nil {
				clone = m.Clone()
			}
			audio.Transcription = text
			clone.Parts[j] = audio
		}
		if clone != nil {
			thread.Messages[i] = clone
		}
	}
	return nil
}

// CountTokens implements memory.Summarizer.
func (s summarizer) CountTokens(ctx context.Context, thread *model.Thread) (int, error) {
	return s.entry.Adapter.CountTokens(ctx, s.entry.Descriptor, thread.Messages)
}

// Summarize implements memory.Summarizer.
func (s summarizer) Summarize(ctx context.Context, thread *model.Thread, fn *model.FunctionDefinition) ([]*model.Message, error) {
	return s.agent.generate(ctx, s.entry.Adapter, &model.Request{
		Model:         s.entry.Descriptor,
		Messages:      thread.Messages,
		Functions:     []*model.FunctionDefinition{fn},
		ForceFunction: fn.Name,
	})
}
