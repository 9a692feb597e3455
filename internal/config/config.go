// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as platform tokens, model selection, quota policy, streaming behavior,
// billing, logging, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-telegram-llm-bot")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// Config holds all configuration values for the application.
type Config struct {
	// Platform tokens
	TelegramToken        string // TELEGRAM_BOT_TOKEN (required)
	PaymentProviderToken string // PAYMENT_PROVIDER_TOKEN (empty disables billing)

	// Completion API
	OpenAIKey        string        // OPENAI_API_KEY (required)
	OpenAIBaseURL    string        // OPENAI_BASE_URL
	FreeModel        string        // FREE_MODEL
	PremiumModel     string        // PREMIUM_MODEL
	FreeMaxTokens    int           // FREE_MAX_TOKENS
	PremiumMaxTokens int           // PREMIUM_MAX_TOKENS
	Temperature      float64       // TEMPERATURE
	SystemPrompt     string        // SYSTEM_PROMPT
	StreamTimeout    time.Duration // LLM_STREAM_TIMEOUT

	// Quota policy
	FreeDailyLimit    int    // FREE_DAILY_LIMIT
	PremiumDailyLimit int    // PREMIUM_DAILY_LIMIT
	QuotaResetMode    string // QUOTA_RESET_MODE: rolling|calendar
	QuotaResetTZ      string // QUOTA_RESET_TZ (calendar mode reference zone)

	// Conversation
	ContextWindow  int // CONTEXT_WINDOW
	ChunkThreshold int // CHUNK_THRESHOLD
	MaxPromptRunes int // MAX_PROMPT_RUNES

	// Attachments
	AttachPremiumOnly  bool  // ATTACH_PREMIUM_ONLY
	MaxAttachmentBytes int64 // MAX_ATTACHMENT_BYTES

	// Billing
	PremiumPriceCents   int64  // PREMIUM_PRICE_CENTS (smallest currency unit)
	PremiumCurrency     string // PREMIUM_CURRENCY
	PremiumDurationDays int    // PREMIUM_DURATION_DAYS

	// App
	DBPath string // SQLite path

	// Logging / ops
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev
	OpsPort   string // internal health/metrics listener; just the number
	GinMode   string // debug|release|test

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Platform tokens
		TelegramToken:        getenv("TELEGRAM_BOT_TOKEN", ""),
		PaymentProviderToken: getenv("PAYMENT_PROVIDER_TOKEN", ""),

		// Completion API
		OpenAIKey:        getenv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		FreeModel:        getenv("FREE_MODEL", "gpt-4o-mini"),
		PremiumModel:     getenv("PREMIUM_MODEL", "gpt-4o"),
		FreeMaxTokens:    getint("FREE_MAX_TOKENS", 1024),
		PremiumMaxTokens: getint("PREMIUM_MAX_TOKENS", 4096),
		Temperature:      getfloat("TEMPERATURE", 0.7),
		SystemPrompt:     getenv("SYSTEM_PROMPT", ""),
		StreamTimeout:    getdur("LLM_STREAM_TIMEOUT", 5*time.Minute),

		// Quota policy
		FreeDailyLimit:    getint("FREE_DAILY_LIMIT", 10),
		PremiumDailyLimit: getint("PREMIUM_DAILY_LIMIT", 100),
		QuotaResetMode:    strings.ToLower(getenv("QUOTA_RESET_MODE", "rolling")),
		QuotaResetTZ:      getenv("QUOTA_RESET_TZ", "UTC"),

		// Conversation
		ContextWindow:  getint("CONTEXT_WINDOW", 8),
		ChunkThreshold: getint("CHUNK_THRESHOLD", 100),
		MaxPromptRunes: getint("MAX_PROMPT_RUNES", 4096),

		// Attachments
		AttachPremiumOnly:  getbool("ATTACH_PREMIUM_ONLY", true),
		MaxAttachmentBytes: getint64("MAX_ATTACHMENT_BYTES", 20<<20),

		// Billing
		PremiumPriceCents:   getint64("PREMIUM_PRICE_CENTS", 499),
		PremiumCurrency:     getenv("PREMIUM_CURRENCY", "USD"),
		PremiumDurationDays: getint("PREMIUM_DURATION_DAYS", 30),

		// App
		DBPath: getenv("DB_PATH", "bot.db"),

		// Logging / ops
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),
		OpsPort:   getenv("OPS_PORT", "9090"),
		GinMode:   strings.ToLower(getenv("GIN_MODE", "release")),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-telegram-llm-bot"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	switch cfg.QuotaResetMode {
	case "rolling", "calendar":
	default:
		cfg.QuotaResetMode = "rolling"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return cfg, errors.New("TELEGRAM_BOT_TOKEN must not be empty")
	}
	if strings.TrimSpace(cfg.OpenAIKey) == "" {
		return cfg, errors.New("OPENAI_API_KEY must not be empty")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.FreeDailyLimit < 1 || cfg.PremiumDailyLimit < 1 {
		return cfg, errors.New("daily limits must be >= 1")
	}
	if cfg.ContextWindow < 1 {
		return cfg, errors.New("CONTEXT_WINDOW must be >= 1")
	}
	if cfg.ChunkThreshold < 1 {
		return cfg, errors.New("CHUNK_THRESHOLD must be >= 1")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return cfg, errors.New("TEMPERATURE must be in [0,2]")
	}
	if cfg.StreamTimeout <= 0 {
		return cfg, errors.New("LLM_STREAM_TIMEOUT must be > 0")
	}
	if cfg.PremiumPriceCents <= 0 {
		return cfg, errors.New("PREMIUM_PRICE_CENTS must be > 0")
	}
	if cfg.PremiumDurationDays < 1 {
		return cfg, errors.New("PREMIUM_DURATION_DAYS must be >= 1")
	}
	if cfg.MaxAttachmentBytes <= 0 {
		return cfg, errors.New("MAX_ATTACHMENT_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.OpsPort) == "" {
		return cfg, errors.New("OPS_PORT must not be empty")
	}
	if _, err := time.LoadLocation(cfg.QuotaResetTZ); err != nil {
		return cfg, errors.New("QUOTA_RESET_TZ must be a valid IANA timezone")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ResetLocation returns the parsed calendar-reset timezone. Load has already
// validated the name, so failures fall back to UTC.
func (c Config) ResetLocation() *time.Location {
	loc, err := time.LoadLocation(c.QuotaResetTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
