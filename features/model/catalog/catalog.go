// Package catalog assembles a model.Registry from the built-in model list
// and the models declared in configuration. Adapters are created once per
// backend endpoint and shared by every model served by that endpoint.
package catalog

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"

	"goa.design/symposium/features/model/anthropic"
	"goa.design/symposium/features/model/bedrock"
	"goa.design/symposium/features/model/middleware"
	"goa.design/symposium/features/model/openai"
	"goa.design/symposium/runtime/agent/config"
	"goa.design/symposium/runtime/agent/model"
	"goa.design/symposium/runtime/agent/telemetry"
)

type (
	// Entry is a model descriptor together with the endpoint serving it.
	Entry struct {
		model.Descriptor
		// BaseURL selects an OpenAI compatible endpoint.
		BaseURL string
		// APIKeyEnv names the environment variable holding the credential.
		APIKeyEnv string
		// Region is the AWS region of bedrock models.
		Region string
	}

	// Options configures Build.
	Options struct {
		// Getenv resolves credentials. Defaults to os.Getenv.
		Getenv func(string) string
		// AWS is the base configuration used for bedrock models. Bedrock
		// models are skipped when nil.
		AWS *aws.Config
		// Limiter, when set, wraps every adapter.
		Limiter *middleware.AdaptiveRateLimiter
		// Logger reports skipped models. Defaults to a no-op logger.
		Logger telemetry.Logger
		// Adapters overrides the adapter built for a provider.
		Adapters map[string]model.Adapter
	}
)

// Providers.
const (
	ProviderOpenAI    = "openai"
	ProviderDeepSeek  = "deepseek"
	ProviderGrok      = "grok"
	ProviderGroq      = "groq"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

const defaultRegion = "us-east-1"

// Builtins returns the models known out of the box.
func Builtins() []Entry {
	return []Entry{
		{Descriptor: model.Descriptor{Name: "gpt-4o", Provider: ProviderOpenAI, MaxTokens: 128000, Tools: true, StructuredOutput: true, Tokenizer: "gpt-4"}, APIKeyEnv: "OPENAI_API_KEY"},
		{Descriptor: model.Descriptor{Name: "gpt-5", Provider: ProviderOpenAI, MaxTokens: 400000, Tools: true, StructuredOutput: true, Audio: true, ImageGeneration: true}, APIKeyEnv: "OPENAI_API_KEY"},
		{Descriptor: model.Descriptor{Name: "gpt-5-mini", Provider: ProviderOpenAI, MaxTokens: 400000, Tools: true, StructuredOutput: true}, APIKeyEnv: "OPENAI_API_KEY"},
		{Descriptor: model.Descriptor{Name: "deepseek-chat", Provider: ProviderDeepSeek, MaxTokens: 64000}, BaseURL: openai.DeepSeekBaseURL, APIKeyEnv: "DEEPSEEK_API_KEY"},
		{Descriptor: model.Descriptor{Name: "deepseek-reasoner", Provider: ProviderDeepSeek, MaxTokens: 64000}, BaseURL: openai.DeepSeekBaseURL, APIKeyEnv: "DEEPSEEK_API_KEY"},
		{Descriptor: model.Descriptor{Name: "grok-4", Provider: ProviderGrok, MaxTokens: 256000, Tools: true, ImageGeneration: true}, BaseURL: openai.GrokBaseURL, APIKeyEnv: "GROK_API_KEY"},
		{Descriptor: model.Descriptor{Name: "claude-sonnet-4-5-20250929", Label: "claude-4.5-sonnet", Provider: ProviderAnthropic, MaxTokens: 200000, Tools: true}, APIKeyEnv: "ANTHROPIC_API_KEY"},
		{Descriptor: model.Descriptor{Name: "claude-opus-4-20250514", Label: "claude-4-opus", Provider: ProviderAnthropic, MaxTokens: 200000, Tools: true}, APIKeyEnv: "ANTHROPIC_API_KEY"},
		{Descriptor: model.Descriptor{Name: "claude-haiku-4-5-20251001", Label: "claude-4.5-haiku", Provider: ProviderAnthropic, MaxTokens: 200000, Tools: true}, APIKeyEnv: "ANTHROPIC_API_KEY"},
		{Descriptor: model.Descriptor{Name: "us.anthropic.claude-sonnet-4-5-20250929-v1:0", Label: "bedrock-claude-4.5-sonnet", Provider: ProviderBedrock, MaxTokens: 200000, Tools: true}, Region: defaultRegion},
	}
}

// Entries merges the built-in list with the models declared in cfg. A
// declared model replaces the built-in entry with the same name.
func Entries(cfg *config.Config) []Entry {
	entries := Builtins()
	if cfg == nil {
		return entries
	}
	index := make(map[string]int, len(entries))
	for i, e := range entries {
		index[e.Name] = i
	}
	for _, m := range cfg.Models {
		e := Entry{Descriptor: m.Descriptor, BaseURL: m.BaseURL, APIKeyEnv: m.APIKeyEnv, Region: m.Region}
		if i, ok := index[m.Name]; ok {
			entries[i] = e
			continue
		}
		index[m.Name] = len(entries)
		entries = append(entries, e)
	}
	return entries
}

// Build registers every entry whose backend can be reached with the
// available credentials. Built-in models without credentials are skipped;
// declared models without credentials are an error.
func Build(ctx context.Context, cfg *config.Config, opts Options) (*model.Registry, error) {
	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	declared := make(map[string]struct{})
	if cfg != nil {
		for _, m := range cfg.Models {
			declared[m.Name] = struct{}{}
		}
	}

	reg := model.NewRegistry()
	adapters := make(map[string]model.Adapter)
	for _, e := range Entries(cfg) {
		key := e.Provider + "|" + e.BaseURL + "|" + e.APIKeyEnv + "|" + e.Region
		adapter, ok := adapters[key]
		if !ok {
			var err error
			adapter, err = newAdapter(e, getenv, opts)
			if err != nil {
				if _, explicit := declared[e.Name]; explicit {
					return nil, fmt.Errorf("model %q: %w", e.Name, err)
				}
				logger.Debug(ctx, "skipping model", "model", e.Name, "reason", err.Error())
				continue
			}
			if opts.Limiter != nil {
				adapter = opts.Limiter.Wrap(adapter)
			}
			adapters[key] = adapter
		}
		if err := reg.Register(e.Descriptor, adapter); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func newAdapter(e Entry, getenv func(string) string, opts Options) (model.Adapter, error) {
	if a, ok := opts.Adapters[e.Provider]; ok {
		return a, nil
	}
	switch e.Provider {
	case ProviderBedrock:
		if opts.AWS == nil {
			return nil, fmt.Errorf("no AWS configuration")
		}
		awsCfg := opts.AWS.Copy()
		if e.Region != "" {
			awsCfg.Region = e.Region
		}
		return bedrock.NewFromConfig(awsCfg, bedrock.Options{Logger: opts.Logger})
	case ProviderAnthropic:
		key, err := credential(e, getenv)
		if err != nil {
			return nil, err
		}
		return anthropic.NewFromAPIKey(key, anthropic.Options{})
	default:
		baseURL := e.BaseURL
		if baseURL == "" {
			switch e.Provider {
			case ProviderOpenAI:
			case ProviderOllama:
				baseURL = openai.OllamaBaseURL
			case ProviderGroq:
				baseURL = openai.GroqBaseURL
			default:
				return nil, fmt.Errorf("provider %q requires a base_url", e.Provider)
			}
		}
		key, err := credential(e, getenv)
		if err != nil {
			if e.Provider != ProviderOllama {
				return nil, err
			}
			// Ollama ignores the key but the client requires one.
			key = ProviderOllama
		}
		return openai.NewFromAPIKey(e.Provider, key, baseURL)
	}
}

func credential(e Entry, getenv func(string) string) (string, error) {
	if e.APIKeyEnv == "" {
		return "", fmt.Errorf("no api_key_env for provider %q", e.Provider)
	}
	key := getenv(e.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%s is not set", e.APIKeyEnv)
	}
	return key, nil
}

// Transcriber returns the transcriber configured by cfg, or nil when no
// OpenAI credential is available.
func Transcriber(cfg *config.Config, getenv func(string) string) (*openai.Transcriber, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	key := getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, nil
	}
	modelName := ""
	if cfg != nil {
		modelName = cfg.Transcription.Model
	}
	return openai.NewTranscriberFromAPIKey(key, modelName)
}
