package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	JWTSecret   string `env:"JWT_SECRET,required"`
	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`

	IdentifyTimeoutMS          int `env:"IDENTIFY_TIMEOUT_MS" envDefault:"5000"`
	IdleTimeoutSeconds         int `env:"IDLE_TIMEOUT_SECONDS" envDefault:"300"`
	SweepIntervalMS            int `env:"SWEEP_INTERVAL_MS" envDefault:"1000"`
	TokenRecheckSeconds        int `env:"TOKEN_RECHECK_SECONDS" envDefault:"300"`
	TokenRefreshWarningMinutes int `env:"TOKEN_REFRESH_WARNING_MINUTES" envDefault:"30"`
	PairingCodeTTLSeconds      int `env:"PAIRING_CODE_TTL_SECONDS" envDefault:"600"`
	ShutdownReconnectMS        int `env:"SHUTDOWN_RECONNECT_MS" envDefault:"3000"`
	RateLimitPerMin            int `env:"RATE_LIMIT_PER_MIN" envDefault:"30"`
}

func (c *Config) IdentifyTimeout() time.Duration {
	return time.Duration(c.IdentifyTimeoutMS) * time.Millisecond
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMS) * time.Millisecond
}

func (c *Config) TokenRecheck() time.Duration {
	return time.Duration(c.TokenRecheckSeconds) * time.Second
}

func (c *Config) TokenRefreshWarning() time.Duration {
	return time.Duration(c.TokenRefreshWarningMinutes) * time.Minute
}

func (c *Config) PairingCodeTTL() time.Duration {
	return time.Duration(c.PairingCodeTTLSeconds) * time.Second
}

func (c *Config) ShutdownReconnect() time.Duration {
	return time.Duration(c.ShutdownReconnectMS) * time.Millisecond
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Validate(isProduction bool) error {
	if c.IdentifyTimeoutMS <= 0 {
		return fmt.Errorf("IDENTIFY_TIMEOUT_MS must be positive")
	}
	if c.SweepIntervalMS <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_MS must be positive")
	}
	if c.SweepInterval() > c.IdentifyTimeout() {
		return fmt.Errorf("SWEEP_INTERVAL_MS must not exceed IDENTIFY_TIMEOUT_MS; timeout enforcement would be too coarse")
	}

	if isProduction {
		if err := validateSecret("JWT_SECRET", c.JWTSecret); err != nil {
			return err
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.RedisURL == "" {
			log.Warn().Msg("REDIS_URL is empty in production: rate limiting falls back to the in-memory limiter")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
		}
	}
	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
