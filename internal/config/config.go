package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server    ServerConfig
	OpenAI    OpenAIConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Limits    LimitsConfig
	Extract   ExtractConfig
	Dispatch  DispatchConfig
	Pricing   PricingConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port         string        `envconfig:"PORT" default:"8000"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"180s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	// RequestTimeout must outlast every upstream attempt plus backoff.
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"150s"`
}

type OpenAIConfig struct {
	APIKey          string `envconfig:"OPENAI_API_KEY"`
	BaseURL         string `envconfig:"OPENAI_BASE_URL"`
	Model           string `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	TranscribeModel string `envconfig:"TRANSCRIBE_MODEL" default:"whisper-1"`
}

// RedisConfig is optional. An empty Addr keeps rate limiting in process.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `envconfig:"RATE_LIMIT_RPM" default:"60"`
	BurstSize         int `envconfig:"RATE_LIMIT_BURST" default:"10"`
}

type LimitsConfig struct {
	MaxFileSize         int64 `envconfig:"MAX_FILE_SIZE" default:"10485760"`
	ExtractPreviewChars int   `envconfig:"EXTRACT_PREVIEW_CHARS" default:"500"`
}

type ExtractConfig struct {
	MinPDFTextChars int      `envconfig:"PDF_MIN_TEXT_CHARS" default:"50"`
	PDFOCRDPI       float64  `envconfig:"PDF_OCR_DPI" default:"300"`
	OCRConcurrency  int      `envconfig:"OCR_CONCURRENCY" default:"4"`
	OCRLanguages    []string `envconfig:"OCR_LANGUAGES" default:"eng"`
}

type DispatchConfig struct {
	UpstreamTimeout time.Duration `envconfig:"UPSTREAM_TIMEOUT" default:"60s"`
	MaxAttempts     int           `envconfig:"UPSTREAM_MAX_ATTEMPTS" default:"2"`
	RetryBackoff    time.Duration `envconfig:"UPSTREAM_RETRY_BACKOFF" default:"500ms"`
}

type PricingConfig struct {
	InputPerMTok          float64 `envconfig:"PRICE_INPUT_PER_MTOK" default:"3"`
	OutputPerMTok         float64 `envconfig:"PRICE_OUTPUT_PER_MTOK" default:"15"`
	EstimatedOutputTokens int     `envconfig:"ESTIMATED_OUTPUT_TOKENS" default:"500"`
}

type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if cfg.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.Limits.MaxFileSize <= 0 {
		return nil, fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", cfg.Limits.MaxFileSize)
	}
	if cfg.Dispatch.MaxAttempts < 1 || cfg.Dispatch.MaxAttempts > 2 {
		return nil, fmt.Errorf("UPSTREAM_MAX_ATTEMPTS must be 1 or 2, got %d", cfg.Dispatch.MaxAttempts)
	}

	if budget := cfg.Dispatch.UpstreamBudget(); cfg.Server.RequestTimeout > 0 && cfg.Server.RequestTimeout <= budget {
		return nil, fmt.Errorf("REQUEST_TIMEOUT (%s) must exceed UPSTREAM_MAX_ATTEMPTS x UPSTREAM_TIMEOUT plus backoff (%s)", cfg.Server.RequestTimeout, budget)
	}
	if cfg.Server.RequestTimeout > 0 && cfg.Server.WriteTimeout > 0 && cfg.Server.WriteTimeout <= cfg.Server.RequestTimeout {
		return nil, fmt.Errorf("WRITE_TIMEOUT (%s) must exceed REQUEST_TIMEOUT (%s)", cfg.Server.WriteTimeout, cfg.Server.RequestTimeout)
	}

	return cfg, nil
}

// UpstreamBudget is the longest a dispatch can take: every attempt timing out
// plus the linear backoff between them.
func (d DispatchConfig) UpstreamBudget() time.Duration {
	budget := time.Duration(d.MaxAttempts) * d.UpstreamTimeout
	for attempt := 2; attempt <= d.MaxAttempts; attempt++ {
		budget += d.RetryBackoff * time.Duration(attempt-1)
	}
	return budget
}
