package middleware

import (
	"context"

	"goa.design/pulse/rmap"

	"goa.design/symposium/runtime/agent/config"
)

// FromConfig returns the limiter described by cfg, or nil when rate limiting
// is disabled. m is used for cluster coordination when cfg names a key.
func FromConfig(ctx context.Context, cfg config.RateLimit, m *rmap.Map) *AdaptiveRateLimiter {
	if cfg.TPM <= 0 {
		return nil
	}
	maxTPM := cfg.MaxTPM
	if maxTPM == 0 {
		maxTPM = cfg.TPM
	}
	if cfg.Key == "" {
		return NewAdaptiveRateLimiter(cfg.TPM, maxTPM)
	}
	return NewClusterRateLimiter(ctx, m, cfg.Key, cfg.TPM, maxTPM)
}
