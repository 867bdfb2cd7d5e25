package server

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the prediction server.
type Config struct {
	DataDir     string
	BindAddress string
	Port        int
	AdminKey    string
	BaseURL     string

	SessionSecret string

	StripeAPIKey        string
	StripeWebhookSecret string
	PremiumPriceID      string

	MatchFeedPath string

	LogLevel  string
	LogFormat string
}

// AllowlistDir returns the directory where the grant database lives.
func (c *Config) AllowlistDir() string {
	return filepath.Join(c.DataDir, "allowlist")
}

// LoadConfig loads server configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	port, err := envOrDefaultInt("PREDICT_PORT", 8787)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:             envOrDefault("PREDICT_DATA_DIR", "/data"),
		BindAddress:         envOrDefault("PREDICT_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		AdminKey:            strings.TrimSpace(os.Getenv("PREDICT_ADMIN_KEY")),
		BaseURL:             strings.TrimSpace(os.Getenv("PREDICT_BASE_URL")),
		SessionSecret:       strings.TrimSpace(os.Getenv("PREDICT_SESSION_SECRET")),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		PremiumPriceID:      strings.TrimSpace(os.Getenv("STRIPE_PREMIUM_PRICE_ID")),
		MatchFeedPath:       envOrDefault("PREDICT_MATCH_FEED", "/data/matches.csv"),
		LogLevel:            envOrDefault("PREDICT_LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("PREDICT_LOG_FORMAT", "auto"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate server config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.AdminKey == "" {
		missing = append(missing, "PREDICT_ADMIN_KEY")
	}
	if c.BaseURL == "" {
		missing = append(missing, "PREDICT_BASE_URL")
	}
	if c.SessionSecret == "" {
		missing = append(missing, "PREDICT_SESSION_SECRET")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PREDICT_PORT must be between 1 and 65535, got %d", c.Port)
	}

	parsedBaseURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("PREDICT_BASE_URL must be a valid URL: %w", err)
	}
	if parsedBaseURL.Scheme != "http" && parsedBaseURL.Scheme != "https" {
		return fmt.Errorf("PREDICT_BASE_URL must use http or https scheme")
	}
	if parsedBaseURL.Host == "" {
		return fmt.Errorf("PREDICT_BASE_URL must include a host")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
		}
		return n, nil
	}
	return fallback, nil
}
