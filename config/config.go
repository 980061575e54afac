package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 4021

	// Payment
	PayToAddress    string
	Price           string // dollar amount, default: "$0.001"
	Network         string // optional override of the facilitator's default network
	UseMainnet      bool
	FacilitatorURL  string
	CDPAPIKeyID     string
	CDPAPIKeySecret string

	// Upstream provider
	OpenRouterAPIKey      string
	OpenRouterModel       string
	OpenRouterHTTPReferer string
	OpenRouterXTitle      string

	// Prompt profile (optional YAML file)
	PromptConfigPath string

	// Ledger and rate limiting, both optional
	PostgresDSN  string
	RedisAddr    string
	RateLimitRPM int64 // requests per minute per client, default: 60

	// Observability
	LogLevel             string // default: "info"
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
}

// MissingEnvError reports a required environment variable that is unset.
type MissingEnvError struct {
	Key string
}

func (e *MissingEnvError) Error() string {
	return fmt.Sprintf("%s is required", e.Key)
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                  getEnv("PORT", "4021"),
		PayToAddress:          os.Getenv("ADDRESS"),
		Price:                 getEnv("PRICE", "$0.001"),
		Network:               os.Getenv("NETWORK"),
		UseMainnet:            ParseFlag(os.Getenv("USE_MAINNET")),
		FacilitatorURL:        os.Getenv("FACILITATOR_URL"),
		CDPAPIKeyID:           os.Getenv("CDP_API_KEY_ID"),
		CDPAPIKeySecret:       os.Getenv("CDP_API_KEY_SECRET"),
		OpenRouterAPIKey:      os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:       os.Getenv("OPENROUTER_MODEL"),
		OpenRouterHTTPReferer: os.Getenv("OPENROUTER_HTTP_REFERER"),
		OpenRouterXTitle:      os.Getenv("OPENROUTER_X_TITLE"),
		PromptConfigPath:      os.Getenv("PROMPT_CONFIG"),
		PostgresDSN:           os.Getenv("POSTGRES_DSN"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		OTELExporterType:      getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint:  getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	rpmStr := getEnv("RATE_LIMIT_RPM", "60")
	rpm, err := strconv.ParseInt(rpmStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPM: %w", err)
	}
	cfg.RateLimitRPM = rpm

	// Validation. Facilitator credentials are checked by facilitator.Select,
	// they are only required on mainnet.
	if cfg.PayToAddress == "" {
		return nil, &MissingEnvError{Key: "ADDRESS"}
	}
	if cfg.OpenRouterAPIKey == "" {
		return nil, &MissingEnvError{Key: "OPENROUTER_API_KEY"}
	}

	return cfg, nil
}

// ParseFlag reports whether a boolean-like environment value is set.
func ParseFlag(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
