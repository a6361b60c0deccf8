package main

import (
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	t.Setenv("JWT_SECRET_KEY", "s3cret")
	t.Setenv("MESSAGE_RATE_LIMIT", "3")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Port != "4000" {
		t.Errorf("Port = %q, want 4000", cfg.Port)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 30s", cfg.ShutdownTimeout)
	}

	authCfg := cfg.authConfig()
	if authCfg.JWT.SecretKey != "s3cret" || authCfg.JWT.AccessTokenDuration != 5*time.Minute {
		t.Errorf("JWT = %+v", authCfg.JWT)
	}
	if authCfg.JWT.RefreshTokenDuration != 168*time.Hour {
		t.Errorf("RefreshTokenDuration = %v, want 168h", authCfg.JWT.RefreshTokenDuration)
	}
	if got := cfg.apiConfig().MessageRateLimit; got != 3 {
		t.Errorf("MessageRateLimit = %d, want 3", got)
	}
}

func TestLoadConfig_AdminNeedsPassword(t *testing.T) {
	t.Setenv("ADMIN_EMAIL", "admin@example.com")
	t.Setenv("ADMIN_PASSWORD", "")

	if _, err := loadConfig(); err == nil {
		t.Fatal("loadConfig() error = nil, want missing password error")
	}
}
