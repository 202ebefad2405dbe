package runtime

import (
	"goa.design/symposium/runtime/agent/config"
	"goa.design/symposium/runtime/agent/memory"
)

// WithConfig applies the agent and memory sections of a validated
// configuration. Options given after it take precedence.
func WithConfig(cfg *config.Config) Option {
	return func(o *Options) {
		if cfg == nil {
			return
		}
		o.Name = cfg.Agent.Name
		if cfg.Agent.DefaultModel != "" {
			o.DefaultModel = cfg.Agent.DefaultModel
		}
		o.MaxRetries = cfg.Agent.MaxRetries
		o.MaxGenerateAttempts = cfg.Agent.MaxGenerateAttempts
		o.RetryDelay = cfg.Agent.RetryDelay
		o.TTL = cfg.Storage.TTL
		o.Compressor = memory.New(cfg.Memory.Threshold, cfg.Memory.SummaryLength)
	}
}
