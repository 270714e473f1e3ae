// Package config loads runtime settings from the environment and an optional .env file
// and holds the timing constants shared by the server and the client core.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	AppEnv           string   `mapstructure:"APP_ENV"`
	HTTPAddr         string   `mapstructure:"HTTP_ADDR"`
	DatabaseDSN      string   `mapstructure:"DATABASE_DSN"`
	RedisAddr        string   `mapstructure:"REDIS_ADDR"`
	RedisPassword    string   `mapstructure:"REDIS_PASSWORD"`
	RedisDB          int      `mapstructure:"REDIS_DB"`
	JWTSecret        string   `mapstructure:"JWT_SECRET"`
	CORSOrigins      []string `mapstructure:"CORS_ORIGINS"`
	TelegramBotToken string   `mapstructure:"TELEGRAM_BOT_TOKEN"`
}

var keys = []string{
	"APP_ENV", "HTTP_ADDR", "DATABASE_DSN", "REDIS_ADDR", "REDIS_PASSWORD",
	"REDIS_DB", "JWT_SECRET", "CORS_ORIGINS", "TELEGRAM_BOT_TOKEN",
}

// Load reads .env (if present) into the process environment and unmarshals the
// environment into a Config. The returned bool reports whether .env was found.
func Load() (*Config, bool, error) {
	dotenv := godotenv.Load() == nil

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("APP_ENV", EnvDevelopment)
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_DSN", "host=localhost user=user password=password dbname=medchat port=5432 sslmode=disable")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, dotenv, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitOrigins(v.GetString("CORS_ORIGINS"))

	return cfg, dotenv, cfg.Validate()
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.AppEnv == EnvDevelopment
}

// Validate refuses production settings that would run without a signing key or database.
func (c *Config) Validate() error {
	if c.AppEnv != EnvDevelopment && c.AppEnv != EnvProduction {
		return fmt.Errorf("APP_ENV must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.AppEnv)
	}
	if c.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	if !c.IsDev() && c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required in production")
	}
	if c.JWTSecret == "" {
		c.JWTSecret = "dev-only-secret"
	}
	return nil
}
