package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Transcription service (Speechmatics-compatible batch API)
	ASRBaseURL        string        `env:"ASR_BASE_URL" envDefault:"https://asr.api.speechmatics.com/v2"`
	ASRAPIKey         string        `env:"ASR_API_KEY,required"`
	ASRLanguage       string        `env:"ASR_LANGUAGE" envDefault:"en"`
	ASROperatingPoint string        `env:"ASR_OPERATING_POINT" envDefault:"enhanced"`
	ASRDiarization    string        `env:"ASR_DIARIZATION"`
	PollInterval      time.Duration `env:"ASR_POLL_INTERVAL" envDefault:"1s"`
	PollAttempts      int           `env:"ASR_POLL_ATTEMPTS" envDefault:"1800"`

	// Summarization service
	SummaryBaseURL string        `env:"SUMMARY_BASE_URL" envDefault:"https://kagi.com/api/v0"`
	SummaryAPIKey  string        `env:"SUMMARY_API_KEY"`
	SummaryTimeout time.Duration `env:"SUMMARY_TIMEOUT" envDefault:"90s"`

	// Billing service
	BillingBaseURL  string   `env:"BILLING_BASE_URL,required"`
	BillingAPIKey   string   `env:"BILLING_API_KEY"`
	BalanceSlackUSD float64  `env:"BALANCE_SLACK_USD" envDefault:"0.01"`
	FreeUsers       []string `env:"FREE_USERS" envSeparator:","`

	// Optional memo history store. Empty disables persistence.
	DatabaseURL string `env:"DATABASE_URL"`

	MediaDir string `env:"MEDIA_DIR" envDefault:"./media"`

	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"35m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	// Transcripts shorter than this are delivered inline; longer ones as a file.
	InlineLimit int `env:"INLINE_LIMIT" envDefault:"512"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	MediaDir    string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.MediaDir != "" {
		cfg.MediaDir = overrides.MediaDir
	}

	return cfg, nil
}
