package gateway

import (
	"context"
	"time"

	"goa.design/symposium/runtime/agent/model"
	"goa.design/symposium/runtime/agent/telemetry"
)

type (
	// Gateway adapts a provider adapter into a composable request handler.
	// Middleware is applied in registration order: the first middleware
	// registered wraps all subsequent ones and the innermost layer invokes the
	// provider.
	Gateway struct {
		provider model.Adapter
		generate GenerateHandler
	}

	// GenerateHandler processes a single generation request.
	GenerateHandler func(ctx context.Context, req *model.Request) ([]*model.Message, error)

	// Middleware wraps a GenerateHandler to add behavior around it.
	Middleware func(next GenerateHandler) GenerateHandler

	// Option configures a Gateway during construction.
	Option func(*config)

	config struct {
		provider   model.Adapter
		middleware []Middleware
	}
)

var _ model.Adapter = (*Gateway)(nil)

// WithProvider sets the adapter that fulfills requests. Required.
func WithProvider(p model.Adapter) Option {
	return func(c *config) { c.provider = p }
}

// WithMiddleware appends middleware to the generation chain.
func WithMiddleware(mw ...Middleware) Option {
	return func(c *config) { c.middleware = append(c.middleware, mw...) }
}

// New constructs a Gateway. It returns ErrProviderRequired when no provider
// is configured.
func New(opts ...Option) (*Gateway, error) {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.provider == nil {
		return nil, ErrProviderRequired
	}
	handler := GenerateHandler(cfg.provider.Generate)
	for i := len(cfg.middleware) - 1; i >= 0; i-- {
		handler = cfg.middleware[i](handler)
	}
	return &Gateway{provider: cfg.provider, generate: handler}, nil
}

// Generate runs req through the middleware chain.
func (g *Gateway) Generate(ctx context.Context, req *model.Request) ([]*model.Message, error) {
	return g.generate(ctx, req)
}

// CountTokens is served by the provider directly.
func (g *Gateway) CountTokens(ctx context.Context, desc model.Descriptor, msgs []*model.Message) (int, error) {
	return g.provider.CountTokens(ctx, desc, msgs)
}

// Logging returns a middleware that logs each generation with its duration
// and outcome.
func Logging(logger telemetry.Logger) Middleware {
	return func(next GenerateHandler) GenerateHandler {
		return func(ctx context.Context, req *model.Request) ([]*model.Message, error) {
			start := time.Now()
			msgs, err := next(ctx, req)
			kv := []any{
				"model", req.Model.Name,
				"messages", len(req.Messages),
				"duration", time.Since(start),
			}
			if err != nil {
				logger.Warn(ctx, "generation failed", append(kv, "err", err)...)
				return nil, err
			}
			logger.Debug(ctx, "generation completed", append(kv, "replies", len(msgs))...)
			return msgs, nil
		}
	}
}

// Metrics returns a middleware that records generation latency under the
// model name.
func Metrics(metrics telemetry.Metrics) Middleware {
	return func(next GenerateHandler) GenerateHandler {
		return func(ctx context.Context, req *model.Request) ([]*model.Message, error) {
			start := time.Now()
			msgs, err := next(ctx, req)
			metrics.RecordTimer(telemetry.TimerProviderGenerate, time.Since(start), "model", req.Model.Name, "provider", req.Model.Provider)
			return msgs, err
		}
	}
}
