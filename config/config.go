package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
)

type LLMConfig struct {
	Provider     string
	APIKey       string
	APIKeyParam  string
	BaseURL      string
	APIVersion   string
	AssistantID  string
	DefaultModel string
}

type PollingConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     int
	Timeout         time.Duration
}

type ChunkingConfig struct {
	TextLengthThreshold int
	SentenceChunkWords  int
	TokenChunkSize      int
	TokenModel          string
}

type StorageConfig struct {
	Bucket       string
	Region       string
	AwsAccessKey string
	AwsSecretKey string
}

type Config struct {
	Addr           string
	LogLevel       string
	LogFormat      string
	// RequestTimeout bounds a whole HTTP request, every chained run included.
	// RUN_POLL_TIMEOUT bounds each run on its own, so keep this the larger
	// of the two or a single slow run is cut off by the request deadline.
	RequestTimeout time.Duration
	AllowedOrigins []string
	JWTSecret      string
	WorkDir        string

	PostgresDSN string

	LLM      LLMConfig
	Polling  PollingConfig
	Chunking ChunkingConfig
	Storage  StorageConfig
}

func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:           getEnv("ADDR", ":8000"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 5*time.Minute),
		AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		WorkDir:        getEnv("WORK_DIR", os.TempDir()),

		PostgresDSN: getEnv("POSTGRES_DSN", ""),

		LLM: LLMConfig{
			Provider:     strings.ToLower(getEnv("LLM_PROVIDER", ProviderAzure)),
			APIKey:       getEnv("OPENAI_API_KEY", ""),
			APIKeyParam:  getEnv("OPENAI_API_KEY_PARAM", ""),
			BaseURL:      getEnv("OPENAI_BASE_URL", ""),
			APIVersion:   getEnv("OPENAI_API_VERSION", "2024-02-15-preview"),
			AssistantID:  getEnv("ASSISTANT_ID", ""),
			DefaultModel: getEnv("DEFAULT_ASSISTANT_MODEL", "gpt-4o"),
		},
		Polling: PollingConfig{
			InitialInterval: getEnvDuration("RUN_POLL_INITIAL_INTERVAL", 500*time.Millisecond),
			MaxInterval:     getEnvDuration("RUN_POLL_MAX_INTERVAL", 5*time.Second),
			MaxAttempts:     getEnvInt("RUN_POLL_MAX_ATTEMPTS", 120),
			Timeout:         getEnvDuration("RUN_POLL_TIMEOUT", 3*time.Minute),
		},
		Chunking: ChunkingConfig{
			TextLengthThreshold: getEnvInt("TEXT_LENGTH_THRESHOLD", 3000),
			SentenceChunkWords:  getEnvInt("MAX_TOKEN", 1500),
			TokenChunkSize:      getEnvInt("TOKEN_CHUNK_SIZE", 5000),
			TokenModel:          getEnv("TOKEN_MODEL", "gpt-3.5-turbo"),
		},
		Storage: StorageConfig{
			Bucket:       getEnv("BUCKET_NAME", ""),
			Region:       getEnv("AWS_REGION", "us-east-1"),
			AwsAccessKey: getEnv("AWS_ACCESS_KEY", ""),
			AwsSecretKey: getEnv("AWS_SECRET_KEY", ""),
		},
	}
}

// ValidateLLM reports missing settings required to talk to the assistant API.
// The API key may be absent when it is resolved from the parameter store.
func (c Config) ValidateLLM() error {
	var errs []error
	switch c.LLM.Provider {
	case ProviderOpenAI:
	case ProviderAzure:
		if c.LLM.BaseURL == "" {
			errs = append(errs, errors.New("azure provider selected but OPENAI_BASE_URL not set"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown llm provider: %s", c.LLM.Provider))
	}
	if c.LLM.APIKey == "" && c.LLM.APIKeyParam == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY or OPENAI_API_KEY_PARAM must be set"))
	}
	return errors.Join(errs...)
}

func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config value is not an int, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("config value is not a duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
