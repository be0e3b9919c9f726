package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TEXT_LENGTH_THRESHOLD", "")
	t.Setenv("RUN_POLL_TIMEOUT", "")
	t.Setenv("LLM_PROVIDER", "")

	cfg := Load()
	require.Equal(t, 3000, cfg.Chunking.TextLengthThreshold)
	require.Equal(t, 5000, cfg.Chunking.TokenChunkSize)
	require.Equal(t, 3*time.Minute, cfg.Polling.Timeout)
	require.Equal(t, ProviderAzure, cfg.LLM.Provider)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TEXT_LENGTH_THRESHOLD", "42")
	t.Setenv("RUN_POLL_TIMEOUT", "10s")
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test,")

	cfg := Load()
	require.Equal(t, 42, cfg.Chunking.TextLengthThreshold)
	require.Equal(t, 10*time.Second, cfg.Polling.Timeout)
	require.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	require.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("RUN_POLL_MAX_ATTEMPTS", "many")
	t.Setenv("RUN_POLL_MAX_INTERVAL", "soon")

	cfg := Load()
	require.Equal(t, 120, cfg.Polling.MaxAttempts)
	require.Equal(t, 5*time.Second, cfg.Polling.MaxInterval)
}

func TestValidateLLM(t *testing.T) {
	cfg := Config{LLM: LLMConfig{Provider: ProviderAzure}}
	err := cfg.ValidateLLM()
	require.Error(t, err)
	require.Contains(t, err.Error(), "OPENAI_BASE_URL")
	require.Contains(t, err.Error(), "OPENAI_API_KEY")

	cfg = Config{LLM: LLMConfig{Provider: ProviderOpenAI, APIKeyParam: "/contract/openai"}}
	require.NoError(t, cfg.ValidateLLM())

	cfg = Config{LLM: LLMConfig{Provider: "ollama", APIKey: "k"}}
	require.ErrorContains(t, cfg.ValidateLLM(), "unknown llm provider")
}
