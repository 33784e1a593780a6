// Package config reads service configuration from flags and environment
// variables. Environment variables take precedence over flags.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the service configuration.
type Config struct {
	RunAddress        string        `env:"RUN_ADDRESS"`
	DatabasePath      string        `env:"DATABASE_PATH"`
	AuthSecret        string        `env:"AUTH_SECRET"`
	LateSweepInterval time.Duration `env:"LATE_SWEEP_INTERVAL"`

	// Optional underwriter account seeded at startup. Both must be set.
	UnderwriterLogin    string `env:"UNDERWRITER_LOGIN"`
	UnderwriterPassword string `env:"UNDERWRITER_PASSWORD"`
}

// Parse reads configuration from command line flags and environment
// variables.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabasePath := cfg.DatabasePath
	envAuthSecret := cfg.AuthSecret
	envLateSweepInterval := cfg.LateSweepInterval

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabasePath, "d", "loanbook.db", "path to the SQLite database file")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for signing auth tokens")
	flag.DurationVar(&cfg.LateSweepInterval, "i", time.Hour, "interval between late-installment sweeps")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabasePath != "" {
		cfg.DatabasePath = envDatabasePath
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envLateSweepInterval != 0 {
		cfg.LateSweepInterval = envLateSweepInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
