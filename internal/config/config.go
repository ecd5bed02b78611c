package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     int
	LogLevel string
	Debug    bool

	LLMBaseURL   string
	LLMAPIKey    string
	DefaultModel string
	RetryBackoff time.Duration

	MIMICNotesDir string
	N2C2Dir       string
	DatabaseURL   string
	DefaultStore  string

	CacheDir string
	AuditDir string

	NatsURL   string
	NatsToken string

	Executor string

	CacheHitDelayMin time.Duration
	CacheHitDelayMax time.Duration
}

func Load() Config {
	// A .env file in the working directory is honoured but not required.
	_ = godotenv.Load()

	env := envStr("ENVIRONMENT", "dev")

	return Config{
		Port:     envInt("CHART_PORT", 8600),
		LogLevel: envStr("LOG_LEVEL", "info"),
		Debug:    env == "dev",

		LLMBaseURL:   envStr("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMAPIKey:    envStr("LLM_API_KEY", ""),
		DefaultModel: envStr("DEFAULT_MODEL", "gpt-4o-mini"),
		RetryBackoff: envDuration("LLM_RETRY_BACKOFF", 15*time.Second),

		MIMICNotesDir: envStr("MIMICIV_NOTES_DIR", ""),
		N2C2Dir:       envStr("N2C2_2018_DIR", ""),
		DatabaseURL:   envStr("DATABASE_URL", ""),
		DefaultStore:  envStr("DEFAULT_STORE", "mimiciv-notes"),

		CacheDir: envStr("RESPONSE_CACHE_DIR", "cache/responses"),
		AuditDir: envStr("LLM_AUDIT_DIR", "cache/llm-audit"),

		NatsURL:   envStr("NATS_URL", ""),
		NatsToken: envStr("NATS_TOKEN", ""),

		Executor: envStr("EXECUTOR", "parallel"),

		CacheHitDelayMin: envDuration("CACHE_HIT_DELAY_MIN", 1*time.Second),
		CacheHitDelayMax: envDuration("CACHE_HIT_DELAY_MAX", 2500*time.Millisecond),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
