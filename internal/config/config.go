package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// minSecretLen is the shortest HS256 secret accepted outside development.
const minSecretLen = 32

type Config struct {
	Port                  string   `mapstructure:"PORT"`
	Env                   string   `mapstructure:"ENV"`
	LogLevel              string   `mapstructure:"LOG_LEVEL"`
	DatabaseURL           string   `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL              string   `mapstructure:"REDIS_URL"`
	RedisChannel          string   `mapstructure:"REDIS_CHANNEL"`
	JWTSecret             string   `mapstructure:"JWT_SECRET"`
	AccessTokenTTLMinutes int      `mapstructure:"ACCESS_TOKEN_TTL_MINUTES"`
	CORSOrigins           []string `mapstructure:"CORS_ORIGINS"`
	MetricsEnabled        bool     `mapstructure:"METRICS_ENABLED"`
	DevHeaderAuth         bool     `mapstructure:"DEV_HEADER_AUTH"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "REDIS_CHANNEL", "JWT_SECRET", "ACCESS_TOKEN_TTL_MINUTES",
	"CORS_ORIGINS", "METRICS_ENABLED", "DEV_HEADER_AUTH",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("REDIS_CHANNEL", "hospital:notifications")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 30)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("DEV_HEADER_AUTH", false)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// CORS_ORIGINS is a comma separated list in the environment
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AccessTokenTTL is the lifetime of issued access tokens.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

// Validate checks that the configuration is safe to run. Outside development
// a signing secret of at least minSecretLen bytes is required and header
// based identity is refused.
func (c *Config) Validate() error {
	if c.AccessTokenTTLMinutes <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL_MINUTES must be positive, got %d", c.AccessTokenTTLMinutes)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.IsDev() {
		return nil
	}
	if len(c.JWTSecret) < minSecretLen {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes when ENV=%q", minSecretLen, c.Env)
	}
	if c.DevHeaderAuth {
		return fmt.Errorf("DEV_HEADER_AUTH is only allowed in development (current ENV=%q)", c.Env)
	}
	return nil
}

// SigningSecret returns the HS256 secret. Development falls back to a fixed
// key so a local server starts without configuration.
func (c *Config) SigningSecret() []byte {
	if c.JWTSecret == "" && c.IsDev() {
		return []byte("development-only-signing-secret-change-me")
	}
	return []byte(c.JWTSecret)
}
