// Package config loads the YAML configuration of a Symposium deployment:
// agent loop settings, memory thresholds, extra model descriptors, storage
// backends, rate limits and transcription. References of the form ${NAME}
// are replaced with the value of the environment variable NAME before the
// document is decoded.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"goa.design/symposium/runtime/agent/model"
)

type (
	// Config is the root of the configuration document.
	Config struct {
		Agent         Agent         `yaml:"agent"`
		Memory        Memory        `yaml:"memory"`
		Models        []Model       `yaml:"models"`
		Storage       Storage       `yaml:"storage"`
		RateLimit     RateLimit     `yaml:"rate_limit"`
		Transcription Transcription `yaml:"transcription"`
	}

	// Agent configures the execution loop.
	Agent struct {
		Name                string        `yaml:"name"`
		DefaultModel        string        `yaml:"default_model"`
		MaxRetries          int           `yaml:"max_retries"`
		MaxGenerateAttempts int           `yaml:"max_generate_attempts"`
		RetryDelay          time.Duration `yaml:"retry_delay"`
	}

	// Memory configures the compressor. Both values are fractions of the
	// model context window.
	Memory struct {
		Threshold     float64 `yaml:"threshold"`
		SummaryLength float64 `yaml:"summary_length"`
	}

	// Model declares a model in addition to the built-in catalog, or
	// overrides a built-in entry with the same name.
	Model struct {
		model.Descriptor `yaml:",inline"`
		// BaseURL selects an OpenAI compatible endpoint.
		BaseURL string `yaml:"base_url"`
		// APIKeyEnv names the environment variable holding the credential.
		APIKeyEnv string `yaml:"api_key_env"`
		// Region is the AWS region of bedrock models.
		Region string `yaml:"region"`
	}

	// Storage selects and configures the thread store.
	Storage struct {
		// Backend is one of "memory", "redis" or "mongo".
		Backend string        `yaml:"backend"`
		Redis   Redis         `yaml:"redis"`
		Mongo   Mongo         `yaml:"mongo"`
		TTL     time.Duration `yaml:"ttl"`
	}

	// Redis configures the Redis client used by the thread store and the
	// Pulse run log.
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	}

	// Mongo configures the MongoDB thread store.
	Mongo struct {
		URI        string `yaml:"uri"`
		Database   string `yaml:"database"`
		Collection string `yaml:"collection"`
	}

	// RateLimit configures the adaptive limiter wrapped around adapters.
	// A zero TPM disables rate limiting.
	RateLimit struct {
		TPM    float64 `yaml:"tpm"`
		MaxTPM float64 `yaml:"max_tpm"`
		// Key enables cluster coordination through a Pulse replicated map
		// when Redis is configured.
		Key string `yaml:"key"`
	}

	// Transcription configures the speech to text model.
	Transcription struct {
		Model string `yaml:"model"`
	}
)

// Defaults.
const (
	DefaultAgentName           = "assistant"
	DefaultMaxRetries          = 2
	DefaultMaxGenerateAttempts = 5
	DefaultRetryDelay          = time.Second
	DefaultThreshold           = 0.7
	DefaultSummaryLength       = 0.5
	DefaultTranscriptionModel  = "gpt-4o-transcribe"
	DefaultMongoDatabase       = "symposium"
	DefaultMongoCollection     = "threads"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, expands and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is provided by the operator
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse expands environment references in data, decodes it and validates
// the result.
func Parse(data []byte) (*Config, error) {
	expanded := envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		name := envRef.FindSubmatch(ref)[1]
		return []byte(os.Getenv(string(name)))
	})
	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies defaults and checks ranges.
func (c *Config) Validate() error {
	var errs []error

	if c.Agent.Name == "" {
		c.Agent.Name = DefaultAgentName
	}
	if c.Agent.MaxRetries == 0 {
		c.Agent.MaxRetries = DefaultMaxRetries
	}
	if c.Agent.MaxGenerateAttempts == 0 {
		c.Agent.MaxGenerateAttempts = DefaultMaxGenerateAttempts
	}
	if c.Agent.RetryDelay == 0 {
		c.Agent.RetryDelay = DefaultRetryDelay
	}
	if c.Agent.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("agent.max_retries must not be negative, got %d", c.Agent.MaxRetries))
	}
	if c.Agent.MaxGenerateAttempts < 0 {
		errs = append(errs, fmt.Errorf("agent.max_generate_attempts must not be negative, got %d", c.Agent.MaxGenerateAttempts))
	}
	if c.Agent.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("agent.retry_delay must not be negative, got %s", c.Agent.RetryDelay))
	}

	if c.Memory.Threshold == 0 {
		c.Memory.Threshold = DefaultThreshold
	}
	if c.Memory.SummaryLength == 0 {
		c.Memory.SummaryLength = DefaultSummaryLength
	}
	if c.Memory.Threshold <= 0 || c.Memory.Threshold > 1 {
		errs = append(errs, fmt.Errorf("memory.threshold must be in (0, 1], got %v", c.Memory.Threshold))
	}
	if c.Memory.SummaryLength <= 0 || c.Memory.SummaryLength >= c.Memory.Threshold {
		errs = append(errs, fmt.Errorf("memory.summary_length must be in (0, threshold), got %v", c.Memory.SummaryLength))
	}

	seen := make(map[string]struct{}, len(c.Models))
	for i, m := range c.Models {
		if m.Name == "" {
			errs = append(errs, fmt.Errorf("models[%d]: name is required", i))
			continue
		}
		if _, dup := seen[m.Name]; dup {
			errs = append(errs, fmt.Errorf("models[%d]: duplicate model %q", i, m.Name))
		}
		seen[m.Name] = struct{}{}
		if m.Provider == "" {
			errs = append(errs, fmt.Errorf("models[%d]: provider is required", i))
		}
		if m.MaxTokens <= 0 {
			errs = append(errs, fmt.Errorf("models[%d]: tokens must be positive", i))
		}
	}

	switch c.Storage.Backend {
	case "":
		c.Storage.Backend = BackendMemory
	case BackendMemory:
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, errors.New("storage.redis.addr is required"))
		}
	case BackendMongo:
		if c.Storage.Mongo.URI == "" {
			errs = append(errs, errors.New("storage.mongo.uri is required"))
		}
		if c.Storage.Mongo.Database == "" {
			c.Storage.Mongo.Database = DefaultMongoDatabase
		}
		if c.Storage.Mongo.Collection == "" {
			c.Storage.Mongo.Collection = DefaultMongoCollection
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q is not one of memory, redis, mongo", c.Storage.Backend))
	}
	if c.Storage.TTL < 0 {
		errs = append(errs, fmt.Errorf("storage.ttl must not be negative, got %s", c.Storage.TTL))
	}

	if c.RateLimit.TPM < 0 || c.RateLimit.MaxTPM < 0 {
		errs = append(errs, errors.New("rate_limit values must not be negative"))
	}
	if c.RateLimit.MaxTPM != 0 && c.RateLimit.MaxTPM < c.RateLimit.TPM {
		errs = append(errs, fmt.Errorf("rate_limit.max_tpm %v is lower than tpm %v", c.RateLimit.MaxTPM, c.RateLimit.TPM))
	}

	if c.Transcription.Model == "" {
		c.Transcription.Model = DefaultTranscriptionModel
	}
	return errors.Join(errs...)
}
