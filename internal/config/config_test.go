package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigMethods(t *testing.T) {
	t.Run("Addr returns formatted port", func(t *testing.T) {
		cfg := &Config{Port: 3000}
		assert.Equal(t, ":3000", cfg.Addr())
	})

	t.Run("IdentifyTimeout converts milliseconds to duration", func(t *testing.T) {
		cfg := &Config{IdentifyTimeoutMS: 5000}
		assert.Equal(t, 5*time.Second, cfg.IdentifyTimeout())
	})

	t.Run("IdleTimeout converts seconds to duration", func(t *testing.T) {
		cfg := &Config{IdleTimeoutSeconds: 300}
		assert.Equal(t, 5*time.Minute, cfg.IdleTimeout())
	})

	t.Run("TokenRefreshWarning converts minutes to duration", func(t *testing.T) {
		cfg := &Config{TokenRefreshWarningMinutes: 30}
		assert.Equal(t, 30*time.Minute, cfg.TokenRefreshWarning())
	})
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			JWTSecret:         "a-sufficiently-long-secret-for-testing!!",
			IdentifyTimeoutMS: 5000,
			SweepIntervalMS:   1000,
		}
	}

	t.Run("accepts sane defaults", func(t *testing.T) {
		assert.NoError(t, base().Validate(false))
	})

	t.Run("rejects sweep interval longer than identify timeout", func(t *testing.T) {
		cfg := base()
		cfg.SweepIntervalMS = 10000
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects non-positive identify timeout", func(t *testing.T) {
		cfg := base()
		cfg.IdentifyTimeoutMS = 0
		assert.Error(t, cfg.Validate(false))
	})

	t.Run("rejects short secret in production", func(t *testing.T) {
		cfg := base()
		cfg.JWTSecret = "short"
		assert.Error(t, cfg.Validate(true))
		assert.NoError(t, cfg.Validate(false))
	})

	t.Run("rejects known weak secret in production", func(t *testing.T) {
		cfg := base()
		cfg.JWTSecret = "change-me"
		assert.Error(t, cfg.Validate(true))
	})
}

func TestLoad(t *testing.T) {
	originalEnv := map[string]string{
		"PORT":                os.Getenv("PORT"),
		"JWT_SECRET":          os.Getenv("JWT_SECRET"),
		"LOG_LEVEL":           os.Getenv("LOG_LEVEL"),
		"IDENTIFY_TIMEOUT_MS": os.Getenv("IDENTIFY_TIMEOUT_MS"),
		"SWEEP_INTERVAL_MS":   os.Getenv("SWEEP_INTERVAL_MS"),
	}

	defer func() {
		for k, v := range originalEnv {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}()

	t.Run("loads config with defaults", func(t *testing.T) {
		os.Setenv("JWT_SECRET", "test-secret")
		os.Unsetenv("PORT")
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("IDENTIFY_TIMEOUT_MS")
		os.Unsetenv("SWEEP_INTERVAL_MS")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, "info", cfg.LogLevel)
		assert.Equal(t, 5000, cfg.IdentifyTimeoutMS)
		assert.Equal(t, 1000, cfg.SweepIntervalMS)
		assert.Equal(t, 600, cfg.PairingCodeTTLSeconds)
		assert.Equal(t, 30, cfg.TokenRefreshWarningMinutes)
	})

	t.Run("fails without required JWT secret", func(t *testing.T) {
		os.Unsetenv("JWT_SECRET")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("honors overrides", func(t *testing.T) {
		os.Setenv("JWT_SECRET", "test-secret")
		os.Setenv("PORT", "9090")
		os.Setenv("IDENTIFY_TIMEOUT_MS", "2500")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Port)
		assert.Equal(t, 2500*time.Millisecond, cfg.IdentifyTimeout())
	})
}
