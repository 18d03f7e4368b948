package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/cash-audit/internal/anomaly"
	"github.com/dvloznov/cash-audit/internal/gemini"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultDenominations is the IDR note and coin table used for cash counts.
var DefaultDenominations = []int64{100000, 50000, 20000, 10000, 5000, 2000, 1000, 500, 200, 100}

// Config holds the service configuration.
type Config struct {
	// HTTP server
	Port string

	// Logging
	LogLevel  string
	LogFormat string // "console" or "json"

	// Gemini
	GeminiAPIKey          string
	GeminiModel           string
	ClassifierTimeout     time.Duration
	ClassifierSampleLimit int

	// Cash count
	Denominations []int64
	BookBalance   decimal.Decimal

	// Planning-stage materiality, reported alongside summaries
	MaterialityOverall     decimal.Decimal
	MaterialityPerformance decimal.Decimal

	// Cloud Storage
	GCSBucket          string
	GCSCredentialsFile string

	// Jobs
	JobQueueSize int
	JobWorkers   int
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present; variables already set win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port: getEnv("PORT", "8080"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		GeminiAPIKey:          firstEnv("GEMINI_API_KEY", "API_KEY"),
		GeminiModel:           getEnv("GEMINI_MODEL", gemini.DefaultModelName),
		ClassifierTimeout:     getEnvDuration("CLASSIFIER_TIMEOUT", 60*time.Second),
		ClassifierSampleLimit: getEnvInt("CLASSIFIER_SAMPLE_LIMIT", anomaly.DefaultSampleLimit),

		Denominations: getEnvInt64List("CASH_DENOMINATIONS", DefaultDenominations),
		BookBalance:   getEnvDecimal("CASH_BOOK_BALANCE", decimal.Zero),

		MaterialityOverall:     getEnvDecimal("MATERIALITY_OVERALL", decimal.NewFromInt(50000)),
		MaterialityPerformance: getEnvDecimal("MATERIALITY_PERFORMANCE", decimal.NewFromInt(35000)),

		GCSBucket:          getEnv("GCS_BUCKET", ""),
		GCSCredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),

		JobQueueSize: getEnvInt("JOB_QUEUE_SIZE", 100),
		JobWorkers:   getEnvInt("JOB_WORKERS", 1),
	}
}

// Validate returns an error listing every invalid setting.
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errors = append(errors, fmt.Sprintf("invalid log level '%s'", c.LogLevel))
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be console or json", c.LogFormat))
	}

	if c.ClassifierTimeout <= 0 {
		errors = append(errors, "classifier timeout must be positive")
	}
	if c.ClassifierSampleLimit <= 0 {
		errors = append(errors, "classifier sample limit must be positive")
	}

	if len(c.Denominations) == 0 {
		errors = append(errors, "at least one cash denomination is required")
	}
	for _, d := range c.Denominations {
		if d <= 0 {
			errors = append(errors, fmt.Sprintf("invalid denomination %d: must be positive", d))
		}
	}
	if c.BookBalance.IsNegative() {
		errors = append(errors, "book balance must not be negative")
	}

	if c.JobQueueSize <= 0 {
		errors = append(errors, "job queue size must be positive")
	}
	if c.JobWorkers <= 0 {
		errors = append(errors, "job workers must be positive")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}
	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// firstEnv returns the first non-empty value among keys.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvDecimal(key string, def decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

// getEnvInt64List parses a comma-separated list. Any bad element makes the
// whole value fall back to def.
func getEnvInt64List(key string, def []int64) []int64 {
	v := os.Getenv(key)
	if v == "" {
		return append([]int64(nil), def...)
	}
	var out []int64
	for _, part := range strings.Split(v, ",") {
		n, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return append([]int64(nil), def...)
		}
		out = append(out, n)
	}
	return out
}
