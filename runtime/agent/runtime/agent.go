// Package runtime implements the Symposium execution engine. An Agent drives
// the turn loop of its threads: it compresses history, requests completions
// from the thread's model adapter, streams output, gates and dispatches
// function calls, and persists the thread after every step.
//
// Two modes share the loop. Chat returns a live event channel immediately
// and runs the turn in the background; Run blocks until the model produces
// a value for the configured utility descriptor.
//
//	reg := model.NewRegistry()
//	_ = reg.Register(desc, adapter)
//	a, err := runtime.New(runtime.Options{
//		Name:         "assistant",
//		Registry:     reg,
//		DefaultModel: desc.Name,
//		Tools:        []tools.Tool{todos},
//	})
//	ch, err := a.Chat(ctx, "thread-1", "Hello")
//	ch.Subscribe(stream.EventOutput, func(e stream.Event) { ... })
//	_ = ch.Wait(ctx)
package runtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"goa.design/symposium/runtime/agent/memory"
	"goa.design/symposium/runtime/agent/model"
	"goa.design/symposium/runtime/agent/runlog"
	"goa.design/symposium/runtime/agent/session"
	sessioninmem "goa.design/symposium/runtime/agent/session/inmem"
	"goa.design/symposium/runtime/agent/telemetry"
	"goa.design/symposium/runtime/agent/tools"
)

type (
	// Options configures an Agent.
	Options struct {
		// Name identifies the agent in storage keys and logs. Defaults to
		// "assistant".
		Name string
		// Registry resolves thread model names to adapters. Required.
		Registry *model.Registry
		// DefaultModel is the model assigned to new threads. Required.
		DefaultModel string
		// Tools serve the functions exposed to the model.
		Tools []tools.Tool
		// Store persists threads. Defaults to an in-memory store.
		Store session.Store
		// TTL is the expiry of persisted threads. Zero keeps them forever.
		TTL time.Duration
		// InitThread seeds new and reset threads, typically with system
		// messages or state.
		InitThread func(ctx context.Context, thread *model.Thread) error
		// AfterExecute may rewrite the thread after each completion and
		// before its messages are classified.
		AfterExecute func(ctx context.Context, thread *model.Thread) error
		// Middleware intercepts the turn loop, see Middleware.
		Middleware []Middleware
		// Utility describes the value Run produces. Defaults to text.
		Utility *Utility
		// Compressor keeps threads within their model window. Nil disables
		// compression.
		Compressor *memory.Compressor
		// Transcriber converts audio input for models without audio support.
		Transcriber Transcriber
		// RunLog receives user messages, model output and function calls.
		RunLog runlog.Logger
		// MaxRetries bounds whole-iteration retries of one top-level call.
		// Defaults to 2; a negative value disables retries.
		MaxRetries int
		// MaxGenerateAttempts bounds the attempts of one completion request
		// against a failing backend. Defaults to 5.
		MaxGenerateAttempts int
		// RetryDelay is the pause between completion attempts. Defaults to
		// one second.
		RetryDelay time.Duration
		// Telemetry provides logging, metrics and tracing. Zero signals are
		// replaced with no-op implementations.
		Telemetry telemetry.Set
	}

	// Option mutates Options. See New.
	Option func(*Options)

	// Transcriber converts audio to text. prompt carries words that help
	// recognition, such as the agent name.
	Transcriber interface {
		Transcribe(ctx context.Context, audio model.AudioPart, prompt string) (string, error)
	}

	// Agent runs conversations against the models of its registry. It is
	// safe for concurrent use; turns on the same thread are serialized.
	Agent struct {
		name         string
		registry     *model.Registry
		defaultModel string
		dispatcher   *tools.Dispatcher
		store        session.Store
		ttl          time.Duration
		initThread   func(context.Context, *model.Thread) error
		afterExecute func(context.Context, *model.Thread) error
		middleware   []Middleware
		utility      Utility
		compressor   *memory.Compressor
		transcriber  Transcriber
		runlog       runlog.Logger
		maxRetries   int
		maxAttempts  int
		retryDelay   time.Duration

		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer

		// locks serializes turns per thread ID.
		locks sync.Map

		// sleep is replaced in tests.
		sleep func(ctx context.Context, d time.Duration) error
	}
)

// Defaults.
const (
	DefaultName                = "assistant"
	DefaultMaxRetries          = 2
	DefaultMaxGenerateAttempts = 5
	DefaultRetryDelay          = time.Second
)

// ErrNoPendingCalls is returned by Confirm when the thread is not waiting
// for a confirmation.
var ErrNoPendingCalls = errors.New("thread has no calls awaiting confirmation")

// New returns an agent configured by base and the given options. Tools and
// the utility descriptor are validated eagerly.
func New(base Options, opts ...Option) (*Agent, error) {
	for _, o := range opts {
		o(&base)
	}
	if base.Registry == nil {
		return nil, model.NewValidationError("model registry is required")
	}
	if base.DefaultModel == "" {
		return nil, model.NewValidationError("default model is required")
	}
	if _, err := base.Registry.Lookup(base.DefaultModel); err != nil {
		return nil, model.NewValidationError("default model: %v", err)
	}
	a := &Agent{
		name:         base.Name,
		registry:     base.Registry,
		defaultModel: base.DefaultModel,
		dispatcher:   tools.NewDispatcher(base.Tools...),
		store:        base.Store,
		ttl:          base.TTL,
		initThread:   base.InitThread,
		afterExecute: base.AfterExecute,
		middleware:   base.Middleware,
		utility:      Utility{Type: UtilityText},
		compressor:   base.Compressor,
		transcriber:  base.Transcriber,
		runlog:       base.RunLog,
		maxRetries:   base.MaxRetries,
		maxAttempts:  base.MaxGenerateAttempts,
		retryDelay:   base.RetryDelay,
		sleep:        sleepContext,
	}
	if a.name == "" {
		a.name = DefaultName
	}
	if a.store == nil {
		a.store = sessioninmem.New()
	}
	if base.Utility != nil {
		a.utility = *base.Utility
	}
	if err := a.utility.Validate(); err != nil {
		return nil, err
	}
	if a.runlog == nil {
		a.runlog = runlog.Noop()
	}
	switch {
	case a.maxRetries == 0:
		a.maxRetries = DefaultMaxRetries
	case a.maxRetries < 0:
		a.maxRetries = 0
	}
	if a.maxAttempts <= 0 {
		a.maxAttempts = DefaultMaxGenerateAttempts
	}
	if a.retryDelay == 0 {
		a.retryDelay = DefaultRetryDelay
	}
	set := base.Telemetry.WithDefaults()
	a.logger, a.metrics, a.tracer = set.Logger, set.Metrics, set.Tracer
	return a, nil
}

// WithTools appends tools to the agent.
func WithTools(ts ...tools.Tool) Option {
	return func(o *Options) { o.Tools = append(o.Tools, ts...) }
}

// WithContexts exposes contexts to the model. Contexts served up front are
// added to new threads as a system message; the others are listed in that
// message and served through the get_context function.
func WithContexts(contexts ...tools.Context) Option {
	return func(o *Options) {
		ct := tools.NewContextTool(contexts...)
		o.Tools = append(o.Tools, ct)
		prev := o.InitThread
		o.InitThread = func(ctx context.Context, thread *model.Thread) error {
			if prev != nil {
				if err := prev(ctx, thread); err != nil {
					return err
				}
			}
			preamble, err := ct.Preamble(ctx)
			if err != nil {
				return err
			}
			text := preamble
			if idx := ct.Index(); idx != "" {
				if text != "" {
					text += "\n\n"
				}
				text += idx
			}
			if text != "" {
				thread.AddSystemMessage(text)
			}
			return nil
		}
	}
}

// WithStore sets the thread store and record TTL.
func WithStore(s session.Store, ttl time.Duration) Option {
	return func(o *Options) { o.Store, o.TTL = s, ttl }
}

// WithUtility sets the descriptor of the value Run produces.
func WithUtility(u Utility) Option {
	return func(o *Options) { o.Utility = &u }
}

// WithCompressor enables memory compression.
func WithCompressor(c *memory.Compressor) Option {
	return func(o *Options) { o.Compressor = c }
}

// WithRunLog sets the run log.
func WithRunLog(l runlog.Logger) Option {
	return func(o *Options) { o.RunLog = l }
}

// WithTelemetry sets the logging, metrics and tracing signals.
func WithTelemetry(s telemetry.Set) Option {
	return func(o *Options) { o.Telemetry = s }
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Functions returns the function definitions exposed by the agent tools.
func (a *Agent) Functions(ctx context.Context) ([]*model.FunctionDefinition, error) {
	return a.dispatcher.Functions(ctx)
}

// ExtractFunctionArguments returns the arguments of every function call in
// msgs, in order.
func (a *Agent) ExtractFunctionArguments(msgs []*model.Message) []map[string]any {
	return model.ExtractFunctionArguments(msgs)
}

// lock acquires the turn lock of thread id and returns its release.
func (a *Agent) lock(id string) func() {
	v, _ := a.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
