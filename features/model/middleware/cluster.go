package middleware

import (
	"context"
	"strconv"
	"time"

	"goa.design/pulse/rmap"
)

type (
	// clusterMap is the subset of rmap.Map used by the cluster-aware limiter.
	clusterMap interface {
		Get(key string) (string, bool)
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)
		TestAndSet(ctx context.Context, key, test, value string) (string, error)
		Subscribe() <-chan rmap.EventKind
	}
)

// NewClusterRateLimiter returns a limiter whose budget is shared by every
// process using the same Pulse replicated map and key. Local backoffs and
// probes are published to the map and changes made by peers are applied to
// the local bucket. A nil map or empty key yields a process local limiter.
func NewClusterRateLimiter(ctx context.Context, m *rmap.Map, key string, initialTPM, maxTPM float64, opts ...Option) *AdaptiveRateLimiter {
	if m == nil {
		return NewAdaptiveRateLimiter(initialTPM, maxTPM, opts...)
	}
	return newClusterLimiter(ctx, m, key, initialTPM, maxTPM, opts...)
}

func newClusterLimiter(ctx context.Context, m clusterMap, key string, initialTPM, maxTPM float64, opts ...Option) *AdaptiveRateLimiter {
	if key == "" || m == nil {
		return NewAdaptiveRateLimiter(initialTPM, maxTPM, opts...)
	}
	if _, ok := m.Get(key); !ok {
		if _, err := m.SetIfNotExists(ctx, key, strconv.Itoa(int(initialTPM))); err != nil {
			return NewAdaptiveRateLimiter(initialTPM, maxTPM, opts...)
		}
	}
	shared := initialTPM
	if v, ok := readTPM(m, key); ok {
		shared = v
	}
	l := NewAdaptiveRateLimiter(shared, maxTPM, opts...)

	floor, ceiling, step := l.minTPM, l.maxTPM, l.step
	l.mu.Lock()
	l.onBackoff = func(float64) {
		go publish(m, key, func(cur float64) float64 { return max(cur*0.5, floor) })
	}
	l.onProbe = func(float64) {
		go publish(m, key, func(cur float64) float64 { return min(cur+step, ceiling) })
	}
	l.mu.Unlock()

	ch := m.Subscribe()
	go func() {
		for range ch {
			if v, ok := readTPM(m, key); ok {
				l.replaceTPM(v)
			}
		}
	}()
	return l
}

// publish applies next to the shared budget with a bounded compare and swap
// loop.
func publish(m clusterMap, key string, next func(float64) float64) {
	const maxAttempts = 3

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for range maxAttempts {
		curStr, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		nextStr := strconv.Itoa(int(next(cur)))
		if nextStr == curStr {
			return
		}
		prev, err := m.TestAndSet(ctx, key, curStr, nextStr)
		if err != nil || prev == curStr {
			return
		}
	}
}

func readTPM(m clusterMap, key string) (float64, bool) {
	cur, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(cur, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
