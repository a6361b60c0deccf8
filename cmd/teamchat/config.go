package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the CLI settings. Flags override the environment.
type Config struct {
	URL         string `env:"TEAMCHAT_URL" envDefault:"http://localhost:3000"`
	Email       string `env:"TEAMCHAT_EMAIL"`
	Password    string `env:"TEAMCHAT_PASSWORD"`
	SessionFile string `env:"TEAMCHAT_SESSION_FILE"`
	LogLevel    string `env:"TEAMCHAT_LOG_LEVEL" envDefault:"warn"`
}

func loadConfig() (Config, error) {
	// A missing .env is not an error.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.SessionFile == "" {
		cfg.SessionFile = defaultSessionFile()
	}
	return cfg, nil
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".teamchat-session.json"
	}
	return filepath.Join(dir, "teamchat", "session.json")
}

// parseLevel accepts the slog level names plus "warning".
func parseLevel(s string) (slog.Level, error) {
	if strings.EqualFold(s, "warning") {
		s = "warn"
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}
