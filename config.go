package main

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/example/team-chat/modules/api"
	"github.com/example/team-chat/modules/auth"
)

// Config is the backend configuration read from the environment.
type Config struct {
	Port               string        `env:"PORT" envDefault:"3000"`
	DBPath             string        `env:"DB_PATH" envDefault:"team_chat.db"`
	JWTSecretKey       string        `env:"JWT_SECRET_KEY"`
	JWTIssuer          string        `env:"JWT_ISSUER" envDefault:"team-chat"`
	AccessTokenTTL     time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL    time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	BcryptCost         int           `env:"BCRYPT_COST" envDefault:"12"`
	RedisAddr          string        `env:"REDIS_ADDR"`
	CORSAllowedOrigins string        `env:"CORS_ALLOWED_ORIGINS"`
	MessageRateLimit   int           `env:"MESSAGE_RATE_LIMIT" envDefault:"10"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	AdminEmail     string `env:"ADMIN_EMAIL"`
	AdminPassword  string `env:"ADMIN_PASSWORD"`
	AdminFirstName string `env:"ADMIN_FIRST_NAME" envDefault:"Admin"`
}

// loadConfig reads an optional .env file and parses the environment.
func loadConfig() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.AdminEmail != "" && cfg.AdminPassword == "" {
		return Config{}, fmt.Errorf("ADMIN_PASSWORD is required when ADMIN_EMAIL is set")
	}
	return cfg, nil
}

func (c Config) authConfig() auth.Config {
	jwt := auth.DefaultJWTConfig()
	if c.JWTSecretKey != "" {
		jwt.SecretKey = c.JWTSecretKey
	}
	jwt.Issuer = c.JWTIssuer
	jwt.AccessTokenDuration = c.AccessTokenTTL
	jwt.RefreshTokenDuration = c.RefreshTokenTTL

	return auth.Config{
		DBPath:     c.DBPath,
		JWT:        jwt,
		BcryptCost: c.BcryptCost,
		RedisAddr:  c.RedisAddr,
		Admin: auth.CreateUserInput{
			Email:     c.AdminEmail,
			Password:  c.AdminPassword,
			FirstName: c.AdminFirstName,
		},
	}
}

func (c Config) apiConfig() api.Config {
	return api.Config{
		Port:               c.Port,
		CORSAllowedOrigins: c.CORSAllowedOrigins,
		MessageRateLimit:   c.MessageRateLimit,
	}
}
