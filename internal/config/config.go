package config

import (
	"os"
	"strconv"

	"qrscreen/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Screen ScreenConfig
	Ledger LedgerConfig
	Report ReportConfig
}

// ScreenConfig holds screening defaults
type ScreenConfig struct {
	Threshold  float64 // adjusted p-value cutoff for the threshold selection set
	TopCount   int     // size of the top-count selection set
	TopPercent float64 // percentage for the top-percent selection set
	Workers    int     // parallel predictor workers; 0 means sequential
}

// LedgerConfig holds the optional Postgres results ledger settings
type LedgerConfig struct {
	DatabaseURL string
	Enabled     bool
}

// ReportConfig holds report output settings
type ReportConfig struct {
	OutputDir string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := &Config{
		Screen: ScreenConfig{
			Threshold:  getEnvFloat("SCREEN_THRESHOLD", 0.05),
			TopCount:   getEnvInt("SCREEN_TOP_COUNT", 10),
			TopPercent: getEnvFloat("SCREEN_TOP_PERCENT", 1.0),
			Workers:    getEnvInt("SCREEN_WORKERS", 4),
		},
		Ledger: LedgerConfig{
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		Report: ReportConfig{
			OutputDir: getEnv("REPORT_DIR", "."),
		},
	}
	cfg.Ledger.Enabled = cfg.Ledger.DatabaseURL != ""

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Screen.Threshold <= 0 || c.Screen.Threshold >= 1 {
		return errors.ConfigInvalid("SCREEN_THRESHOLD must be in (0,1)")
	}
	if c.Screen.TopCount < 1 {
		return errors.ConfigInvalid("SCREEN_TOP_COUNT must be positive")
	}
	if c.Screen.TopPercent <= 0 || c.Screen.TopPercent > 100 {
		return errors.ConfigInvalid("SCREEN_TOP_PERCENT must be in (0,100]")
	}
	if c.Screen.Workers < 0 {
		return errors.ConfigInvalid("SCREEN_WORKERS must be non-negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
