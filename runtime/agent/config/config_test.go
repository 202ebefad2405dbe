package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("agent:\n  default_model: gpt-4o\n"))
	require.NoError(t, err)
	require.Equal(t, DefaultAgentName, cfg.Agent.Name)
	require.Equal(t, "gpt-4o", cfg.Agent.DefaultModel)
	require.Equal(t, 2, cfg.Agent.MaxRetries)
	require.Equal(t, 5, cfg.Agent.MaxGenerateAttempts)
	require.Equal(t, time.Second, cfg.Agent.RetryDelay)
	require.Equal(t, 0.7, cfg.Memory.Threshold)
	require.Equal(t, 0.5, cfg.Memory.SummaryLength)
	require.Equal(t, BackendMemory, cfg.Storage.Backend)
	require.Equal(t, DefaultTranscriptionModel, cfg.Transcription.Model)
}

func TestParseExpandsEnvironment(t *testing.T) {
	t.Setenv("SYMPOSIUM_REDIS", "localhost:6379")
	doc := `
agent:
  name: support
  retry_delay: 250ms
storage:
  backend: redis
  ttl: 24h
  redis:
    addr: ${SYMPOSIUM_REDIS}
models:
  - name: llama3.1
    provider: ollama
    tokens: 131072
    base_url: http://localhost:11434/v1
    api_key_env: OLLAMA_API_KEY
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Equal(t, "support", cfg.Agent.Name)
	require.Equal(t, 250*time.Millisecond, cfg.Agent.RetryDelay)
	require.Equal(t, "localhost:6379", cfg.Storage.Redis.Addr)
	require.Equal(t, 24*time.Hour, cfg.Storage.TTL)
	require.Len(t, cfg.Models, 1)
	require.Equal(t, "llama3.1", cfg.Models[0].Name)
	require.Equal(t, 131072, cfg.Models[0].MaxTokens)
	require.Equal(t, "http://localhost:11434/v1", cfg.Models[0].BaseURL)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"threshold":      "memory:\n  threshold: 1.5\n",
		"summary length": "memory:\n  threshold: 0.5\n  summary_length: 0.6\n",
		"backend":        "storage:\n  backend: sqlite\n",
		"mongo uri":      "storage:\n  backend: mongo\n",
		"model tokens":   "models:\n  - name: x\n    provider: openai\n",
		"duplicate":      "models:\n  - {name: x, provider: openai, tokens: 1}\n  - {name: x, provider: openai, tokens: 1}\n",
		"rate limit":     "rate_limit:\n  tpm: 100\n  max_tpm: 10\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "symposium.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  backend: mongo\n  mongo:\n    uri: mongodb://localhost\n"), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DefaultMongoDatabase, cfg.Storage.Mongo.Database)
	require.Equal(t, DefaultMongoCollection, cfg.Storage.Mongo.Collection)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
