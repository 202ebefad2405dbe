package runtime

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"goa.design/symposium/runtime/agent/model"
	"goa.design/symposium/runtime/agent/runlog"
	"goa.design/symposium/runtime/agent/stream"
	"goa.design/symposium/runtime/agent/telemetry"
	"goa.design/symposium/runtime/agent/tools"
)

type (
	// Approval is the answer to a confirmation request.
	Approval struct {
		// Approved lets the pending calls run. Denied calls get an
		// {"error": "denied"} response.
		Approved bool
		// Always approves the pending functions for the rest of the thread.
		Always bool
	}

	// turn is the state of one top-level call.
	turn struct {
		thread *model.Thread
		// ch is nil in utility mode.
		ch      *stream.Channel
		utility bool
		// confirm is emitted once the turn released the thread.
		confirm *stream.ConfirmPayload
		// stopped is set when a middleware ended the turn.
		stopped bool
	}

	// stepError marks failures of the steps that follow a completion. They
	// are retried by the loop, unlike generation and configuration errors.
	stepError struct {
		err error
	}

	snapshot struct {
		messages []*model.Message
		planned  []*model.Message
		state    map[string]any
	}
)

// StatePendingConfirmation is the thread state key set while the thread
// waits for Confirm.
const StatePendingConfirmation = "pending_confirmation"

var (
	// DeniedResponse is the response recorded for calls the user denied.
	DeniedResponse = tools.ErrorResponse("denied")
	// UtilityResponse answers the function calls that carry a Run value.
	UtilityResponse = map[string]any{"success": true}
)

// Chat appends input to thread id as a user message and runs a turn in the
// background. input is a string, a model.Part or a []model.Part, or nil to
// let the model continue. The returned channel receives output, reasoning,
// tool, confirm and error events and is done once the turn is over.
//
// An empty id starts a new thread; its ID is available through
// Channel.ThreadID.
//
// Handlers of output, reasoning and tool events run while the turn holds
// the thread: they must not call Thread, Reset, SetModel, Confirm, Chat or
// Run for the same thread and wait for the result. Confirm, error and done
// events are emitted after the thread is released, so their handlers may
// call any Agent method.
func (a *Agent) Chat(ctx context.Context, id string, input any) (*stream.Channel, error) {
	msg, err := userMessage(input)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	ch := stream.NewChannel(id)
	go a.chat(ctx, ch, func(ctx context.Context, t *turn) (bool, error) {
		if pendingConfirmation(t.thread) {
			// A new message implicitly denies the calls awaiting confirmation.
			if err := a.resolve(ctx, t, Approval{}); err != nil {
				return false, err
			}
		}
		return true, a.add(ctx, t, msg)
	})
	return ch, nil
}

// Confirm answers the confirmation request of thread id and resumes its
// turn in the background. It returns ErrNoPendingCalls when the thread is not
// waiting for a confirmation.
func (a *Agent) Confirm(ctx context.Context, id string, approval Approval) (*stream.Channel, error) {
	thread, err := a.Thread(ctx, id)
	if err != nil {
		return nil, err
	}
	if !pendingConfirmation(thread) {
		return nil, ErrNoPendingCalls
	}
	ch := stream.NewChannel(id)
	go a.chat(ctx, ch, func(ctx context.Context, t *turn) (bool, error) {
		return false, a.resolve(ctx, t, approval)
	})
	return ch, nil
}

// Run appends input to thread id and blocks until the model produces the
// value described by the agent utility descriptor. Function calls requested
// along the way run without confirmation. An empty id uses a new thread.
// Run returns ErrStopped when a middleware ends the turn before a value is
// produced.
func (a *Agent) Run(ctx context.Context, id string, input any) (any, error) {
	msg, err := userMessage(input)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	defer a.lock(id)()
	ctx, span := a.startTurn(ctx, id, "utility")
	defer span.End()

	thread, err := a.load(ctx, id)
	if err != nil {
		return nil, a.failed(ctx, span, id, err)
	}
	t := &turn{thread: thread, utility: true}
	if err := a.add(ctx, t, msg); err != nil {
		return nil, a.failed(ctx, span, id, err)
	}
	if t.stopped {
		return nil, ErrStopped
	}
	v, err := a.execute(ctx, t, true)
	if err != nil {
		return nil, a.failed(ctx, span, id, err)
	}
	if t.stopped {
		return nil, ErrStopped
	}
	span.SetStatus(codes.Ok, "ok")
	return v, nil
}

// chat runs a turn on ch. start prepares the loaded thread and reports
// whether the loop starts with BeforeExecute. The thread lock is released
// before the confirm, error and done events are emitted.
func (a *Agent) chat(ctx context.Context, ch *stream.Channel, start func(context.Context, *turn) (bool, error)) {
	id := ch.ThreadID()
	ctx, span := a.startTurn(ctx, id, "chat")
	defer span.End()

	var confirm *stream.ConfirmPayload
	err := func() error {
		defer a.lock(id)()
		thread, err := a.load(ctx, id)
		if err != nil {
			return err
		}
		t := &turn{thread: thread, ch: ch}
		first, err := start(ctx, t)
		if err != nil || t.stopped {
			return err
		}
		_, err = a.execute(ctx, t, first)
		confirm = t.confirm
		return err
	}()
	if err != nil {
		err = a.failed(ctx, span, id, err)
		ch.Emit(stream.EventError, stream.NewErrorPayload(err))
	} else {
		span.SetStatus(codes.Ok, "ok")
	}
	if confirm != nil {
		ch.Emit(stream.EventConfirm, *confirm)
	}
	ch.Emit(stream.EventDone, nil)
}

// execute is the turn loop. first selects whether the first iteration runs
// BeforeExecute. Failures after a completion are retried up to maxRetries
// times from the state the failed iteration started with.
func (a *Agent) execute(ctx context.Context, t *turn, first bool) (any, error) {
	retries := 0
	for {
		snap := t.snapshot()
		res, err := a.iterate(ctx, t, first)
		if err != nil {
			var se *stepError
			if !errors.As(err, &se) || model.IsValidationError(err) || retries >= a.maxRetries || ctx.Err() != nil {
				return nil, err
			}
			retries++
			t.restore(snap)
			a.logger.Warn(ctx, "turn iteration failed, retrying",
				"agent", a.name,
				"thread", t.thread.ID,
				"retry", retries,
				"err", err,
			)
			continue
		}
		first = false
		switch res.Outcome {
		case model.ResultContinue:
			continue
		case model.ResultResponse:
			return res.Value, nil
		default:
			return nil, nil
		}
	}
}

// iterate runs one iteration of the loop.
func (a *Agent) iterate(ctx context.Context, t *turn, first bool) (model.Result, error) {
	entry, err := a.entry(t.thread)
	if err != nil {
		return model.Result{}, err
	}
	if first {
		if err := a.beforeExecute(ctx, t, entry); err != nil {
			return model.Result{}, err
		}
		if err := a.middlewareBeforeExecute(ctx, t); err != nil || t.stopped {
			return model.Result{Outcome: model.ResultVoid}, err
		}
	}

	funcs, err := a.dispatcher.Functions(ctx)
	if err != nil {
		return model.Result{}, err
	}
	req := &model.Request{
		Model:           entry.Descriptor,
		Messages:        slices.Clone(t.thread.Messages),
		Functions:       slices.Clone(funcs),
		ImageGeneration: entry.Descriptor.ImageGeneration && !t.utility,
	}
	if t.utility {
		if err := a.utility.apply(req); err != nil {
			return model.Result{}, err
		}
	}

	msgs, err := a.generate(ctx, entry.Adapter, req)
	if err != nil {
		return model.Result{}, err
	}

	if a.afterExecute != nil {
		if err := a.afterExecute(ctx, t.thread); err != nil {
			return model.Result{}, step(fmt.Errorf("after execute: %w", err))
		}
	}
	res, err := a.classify(ctx, t, entry, msgs)
	if err != nil {
		return model.Result{}, step(err)
	}
	proceed, err := a.middlewareAfterExecute(ctx, t, msgs)
	if err != nil {
		return model.Result{}, step(err)
	}
	if !proceed && res.Outcome == model.ResultContinue {
		t.stopped = true
		res = model.Result{Outcome: model.ResultVoid}
	}
	return res, nil
}

// beforeExecute merges the planned messages, transcribes audio and
// compresses the thread. Compression failures are logged and ignored.
func (a *Agent) beforeExecute(ctx context.Context, t *turn, entry model.Entry) error {
	t.thread.MergePlanned()
	if err := a.transcribe(ctx, t.thread, entry.Descriptor); err != nil {
		return err
	}
	if a.compressor == nil {
		return nil
	}
	res, err := a.compressor.Compress(ctx, t.thread, entry.Descriptor.MaxTokens, summarizer{agent: a, entry: entry})
	if err != nil {
		a.logger.Warn(ctx, "memory compression failed",
			"agent", a.name,
			"thread", t.thread.ID,
			"err", err,
		)
		return nil
	}
	if res.Compressed {
		a.logger.Info(ctx, "thread compressed",
			"agent", a.name,
			"thread", t.thread.ID,
			"tokens_before", res.Before,
			"messages_before", len(t.thread.Messages),
			"messages_after", len(res.Thread.Messages),
		)
		t.thread.Messages = res.Thread.Messages
	}
	return nil
}

// classify appends msgs to the thread, streams their content and decides
// the outcome of the iteration.
func (a *Agent) classify(ctx context.Context, t *turn, entry model.Entry, msgs []*model.Message) (model.Result, error) {
	var (
		calls     []model.ToolCall
		response  any
		responded bool
	)
	for _, m := range msgs {
		t.thread.AddMessage(m)
		for _, p := range m.Parts {
			switch part := p.(type) {
			case model.TextPart:
				if part.Text == "" {
					continue
				}
				a.log(ctx, t, runlog.EventAIMessage, map[string]any{"content": part.Text})
				switch {
				case t.utility && a.utility.Type == UtilityText:
					if !responded {
						response, responded = part.Text, true
					}
				case t.utility && a.utility.Type == UtilityJSON && entry.Descriptor.StructuredOutput:
					if !responded {
						v, err := parseText(part.Text)
						if err != nil {
							return model.Result{}, err
						}
						response, responded = v, true
					}
				default:
					t.emit(stream.EventOutput, stream.OutputPayload{Text: part.Text})
				}
			case model.ImagePart:
				img := part
				t.emit(stream.EventOutput, stream.OutputPayload{Image: &img})
			case model.ReasoningPart:
				t.emit(stream.EventReasoning, stream.ReasoningPayload{Text: part.Text})
			case model.ToolCallsPart:
				calls = append(calls, part.Calls...)
			}
		}
	}

	if len(calls) == 0 {
		if err := a.persist(ctx, t.thread); err != nil {
			return model.Result{}, err
		}
		if responded {
			return model.Result{Outcome: model.ResultResponse, Value: response}, nil
		}
		if t.utility {
			return model.Result{}, fmt.Errorf("model produced no %s value", a.utility.Type)
		}
		return model.Result{Outcome: model.ResultVoid}, nil
	}

	if t.utility && a.utility.Type != UtilityText {
		// The forced call carries the value; answer it so the thread stays
		// valid for the next request.
		for _, c := range calls {
			t.thread.AddToolMessage(c, maps.Clone(UtilityResponse))
		}
		if err := a.persist(ctx, t.thread); err != nil {
			return model.Result{}, err
		}
		return model.Result{Outcome: model.ResultResponse, Value: calls[0].Arguments}, nil
	}
	for _, c := range calls {
		if _, err := a.dispatcher.Lookup(ctx, c.Name); err != nil {
			return model.Result{}, err
		}
	}
	if !t.utility {
		pending, err := a.dispatcher.Authorize(ctx, t.thread, calls)
		if err != nil {
			return model.Result{}, err
		}
		if len(pending) > 0 {
			return a.suspend(ctx, t, pending)
		}
	}
	results := a.dispatch(ctx, t, calls)
	for i, c := range calls {
		t.thread.AddToolMessage(c, results[i])
	}
	if err := a.persist(ctx, t.thread); err != nil {
		return model.Result{}, err
	}
	return model.Result{Outcome: model.ResultContinue}, nil
}

// suspend persists the thread without function results and asks the caller
// to confirm the pending calls.
func (a *Agent) suspend(ctx context.Context, t *turn, pending []model.ToolCall) (model.Result, error) {
	t.thread.SetState(map[string]any{StatePendingConfirmation: true})
	if err := a.persist(ctx, t.thread); err != nil {
		return model.Result{}, err
	}
	names := make([]string, len(pending))
	for i, c := range pending {
		names[i] = c.Name
	}
	a.logger.Info(ctx, "function calls awaiting confirmation",
		"agent", a.name,
		"thread", t.thread.ID,
		"functions", names,
	)
	t.confirm = &stream.ConfirmPayload{ThreadID: t.thread.ID, Calls: pending}
	return model.Result{Outcome: model.ResultVoid}, nil
}

// resolve answers the calls awaiting confirmation. Approved calls run
// without going through the gate again; denied calls that the gate still
// holds back get DeniedResponse.
func (a *Agent) resolve(ctx context.Context, t *turn, approval Approval) error {
	calls := unansweredCalls(t.thread)
	delete(t.thread.State, StatePendingConfirmation)
	if len(calls) == 0 {
		return a.persist(ctx, t.thread)
	}
	gated, err := a.dispatcher.Authorize(ctx, t.thread, calls)
	if err != nil {
		return err
	}
	if approval.Approved && approval.Always {
		if err := a.dispatcher.ApproveAlways(ctx, t.thread, gated); err != nil {
			return err
		}
	}

	results := make([]any, len(calls))
	var run []model.ToolCall
	var idx []int
	for i, c := range calls {
		if !approval.Approved && containsCall(gated, c) {
			results[i] = DeniedResponse
			t.emit(stream.EventToolResponded, stream.ToolRespondedPayload{Call: c, Response: DeniedResponse, Error: "denied"})
			continue
		}
		run = append(run, c)
		idx = append(idx, i)
	}
	if len(run) > 0 {
		for j, res := range a.dispatch(ctx, t, run) {
			results[idx[j]] = res
		}
	}
	for i, c := range calls {
		t.thread.AddToolMessage(c, results[i])
	}
	return a.persist(ctx, t.thread)
}

// dispatch runs calls concurrently and returns their responses in order.
func (a *Agent) dispatch(ctx context.Context, t *turn, calls []model.ToolCall) []any {
	for _, c := range calls {
		a.log(ctx, t, runlog.EventFunctionCall, map[string]any{"id": c.ID, "name": c.Name, "arguments": c.Arguments})
	}
	var emit tools.Emitter
	if t.ch != nil {
		emit = t.ch
	}
	results := a.dispatcher.Dispatch(ctx, t.thread, calls, emit)
	for i, c := range calls {
		a.log(ctx, t, runlog.EventFunctionResponse, map[string]any{"id": c.ID, "name": c.Name, "response": results[i]})
	}
	a.metrics.IncCounter(telemetry.CounterToolCalls, float64(len(calls)), "agent", a.name)
	return results
}

func (a *Agent) startTurn(ctx context.Context, id, mode string) (context.Context, telemetry.Span) {
	return a.tracer.Start(ctx, telemetry.SpanTurn, trace.WithAttributes(
		attribute.String("agent", a.name),
		attribute.String("thread", id),
		attribute.String("mode", mode),
	))
}

// failed records a fatal turn error and returns it.
func (a *Agent) failed(ctx context.Context, span telemetry.Span, id string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "turn failed")
	a.logger.Error(ctx, "turn failed", "agent", a.name, "thread", id, "err", err)
	a.runlog.Log(ctx, a.name, runlog.EventError, map[string]any{"thread": id, "error": err.Error()})
	return err
}

func (a *Agent) log(ctx context.Context, t *turn, eventType runlog.EventType, payload map[string]any) {
	payload["thread"] = t.thread.ID
	a.runlog.Log(ctx, a.name, eventType, payload)
}

func (t *turn) emit(name stream.EventType, payload any) {
	if t.ch != nil {
		t.ch.Emit(name, payload)
	}
}

func (t *turn) snapshot() snapshot {
	return snapshot{
		messages: slices.Clone(t.thread.Messages),
		planned:  slices.Clone(t.thread.Planned),
		state:    maps.Clone(t.thread.State),
	}
}

func (t *turn) restore(s snapshot) {
	t.thread.Messages, t.thread.Planned, t.thread.State = s.messages, s.planned, s.state
}

func step(err error) error { return &stepError{err: err} }

func (e *stepError) Error() string { return e.err.Error() }

func (e *stepError) Unwrap() error { return e.err }

// userMessage builds the user message for input. A nil input yields no
// message.
func userMessage(input any) (*model.Message, error) {
	switch in := input.(type) {
	case nil:
		return nil, nil
	case *model.Message:
		if in.Role != model.RoleUser {
			return nil, model.NewValidationError("input message must have role %q", model.RoleUser)
		}
		return in, nil
	default:
		return model.NewMessage(model.RoleUser, input)
	}
}

func contentOf(m *model.Message) any {
	if len(m.Parts) == 1 {
		if t, ok := m.Parts[0].(model.TextPart); ok {
			return t.Text
		}
	}
	return m.Parts
}

func pendingConfirmation(thread *model.Thread) bool {
	v, _ := thread.State[StatePendingConfirmation].(bool)
	return v
}

// unansweredCalls returns the calls of the trailing assistant messages.
func unansweredCalls(thread *model.Thread) []model.ToolCall {
	var calls []model.ToolCall
	for i := len(thread.Messages) - 1; i >= 0; i-- {
		m := thread.Messages[i]
		if m.Role != model.RoleAssistant {
			break
		}
		calls = append(m.ToolCalls(), calls...)
	}
	return calls
}

func containsCall(calls []model.ToolCall, c model.ToolCall) bool {
	for _, x := range calls {
		if x.ID == c.ID && x.Name == c.Name {
			return true
		}
	}
	return false
}
