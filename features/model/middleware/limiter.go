// Package middleware provides model.Adapter decorators. The adaptive rate
// limiter paces generation calls against a tokens-per-minute budget that
// shrinks when the backend answers 429 and recovers on success.
package middleware

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"goa.design/symposium/runtime/agent/model"
)

type (
	// AdaptiveRateLimiter applies an AIMD token bucket on top of a
	// model.Adapter. It estimates the token cost of each request, blocks
	// callers until capacity is available and halves its budget whenever the
	// backend reports rate limiting. Each successful call adds back a fixed
	// recovery step up to the configured ceiling.
	//
	// Build one limiter per backend account and share it across the adapters
	// using that account.
	AdaptiveRateLimiter struct {
		mu sync.Mutex

		limiter *rate.Limiter

		currentTPM float64
		minTPM     float64
		maxTPM     float64
		step       float64

		onBackoff func(newTPM float64)
		onProbe   func(newTPM float64)
	}

	// Option customizes a limiter.
	Option func(*AdaptiveRateLimiter)

	limitedAdapter struct {
		next    model.Adapter
		limiter *AdaptiveRateLimiter
	}
)

// DefaultTPM is the budget used when none is configured.
const DefaultTPM = 60000

// WithRecoveryStep overrides the number of tokens per minute added back after
// each successful call. Defaults to 5% of the initial budget.
func WithRecoveryStep(step float64) Option {
	return func(l *AdaptiveRateLimiter) {
		if step > 0 {
			l.step = step
		}
	}
}

// NewAdaptiveRateLimiter returns a process local limiter. initialTPM and
// maxTPM are tokens per minute; maxTPM is clamped to at least initialTPM and
// the floor is 10% of initialTPM.
func NewAdaptiveRateLimiter(initialTPM, maxTPM float64, opts ...Option) *AdaptiveRateLimiter {
	if initialTPM <= 0 {
		initialTPM = DefaultTPM
	}
	if maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	l := &AdaptiveRateLimiter{
		limiter:    rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM: initialTPM,
		minTPM:     max(initialTPM*0.1, 1),
		maxTPM:     maxTPM,
		step:       max(initialTPM*0.05, 1),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Wrap returns an adapter that enforces the limiter before delegating
// Generate to next. CountTokens is not paced.
func (l *AdaptiveRateLimiter) Wrap(next model.Adapter) model.Adapter {
	if next == nil {
		return nil
	}
	return &limitedAdapter{next: next, limiter: l}
}

// TPM returns the current budget.
func (l *AdaptiveRateLimiter) TPM() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentTPM
}

func (a *limitedAdapter) Generate(ctx context.Context, req *model.Request) ([]*model.Message, error) {
	if err := a.limiter.limiter.WaitN(ctx, a.limiter.cost(req)); err != nil {
		return nil, err
	}
	msgs, err := a.next.Generate(ctx, req)
	a.limiter.observe(err)
	return msgs, err
}

func (a *limitedAdapter) CountTokens(ctx context.Context, desc model.Descriptor, msgs []*model.Message) (int, error) {
	return a.next.CountTokens(ctx, desc, msgs)
}

// cost estimates the request and caps it at the bucket size so oversized
// requests wait for a full bucket instead of failing.
func (l *AdaptiveRateLimiter) cost(req *model.Request) int {
	n := estimateTokens(req)
	if burst := l.limiter.Burst(); n > burst && burst > 0 {
		return burst
	}
	return n
}

func (l *AdaptiveRateLimiter) observe(err error) {
	if err == nil {
		l.adjust(func(cur float64) float64 { return cur + l.step }, l.onProbe)
		return
	}
	if te, ok := model.AsTransportError(err); ok && te.RateLimited() {
		l.adjust(func(cur float64) float64 { return cur * 0.5 }, l.onBackoff)
	}
}

// adjust applies next to the current budget, clamps the result and notifies
// cb outside the lock when the budget changed.
func (l *AdaptiveRateLimiter) adjust(next func(float64) float64, cb func(float64)) {
	l.mu.Lock()
	tpm := min(max(next(l.currentTPM), l.minTPM), l.maxTPM)
	if tpm == l.currentTPM {
		l.mu.Unlock()
		return
	}
	l.setLocked(tpm)
	l.mu.Unlock()
	if cb != nil {
		cb(tpm)
	}
}

// replaceTPM sets the budget to tpm, clamped to [minTPM, maxTPM], without
// notifying callbacks.
func (l *AdaptiveRateLimiter) replaceTPM(tpm float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tpm = min(max(tpm, l.minTPM), l.maxTPM)
	if tpm != l.currentTPM {
		l.setLocked(tpm)
	}
}

func (l *AdaptiveRateLimiter) setLocked(tpm float64) {
	l.currentTPM = tpm
	l.limiter.SetLimit(rate.Limit(tpm / 60.0))
	l.limiter.SetBurst(int(tpm))
}

// estimateTokens approximates the prompt size at one token per three
// characters of text plus a fixed allowance for framing and the completion.
func estimateTokens(req *model.Request) int {
	chars := 0
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			switch v := p.(type) {
			case model.TextPart:
				chars += len(v.Text)
			case model.ReasoningPart:
				chars += len(v.Text)
			case model.AudioPart:
				chars += len(v.Transcription)
			case model.ToolResultPart:
				if s, ok := v.Response.(string); ok {
					chars += len(s)
				} else {
					chars += 64
				}
			case model.ToolCallsPart:
				chars += 64 * len(v.Calls)
			}
		}
	}
	return chars/3 + 500
}
