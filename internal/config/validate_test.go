package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syerrors "github.com/mrz1836/switchyard/internal/errors"
)

// validConfig returns a configuration that passes validation.
func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := LoadFromPaths(context.Background(), "", "")
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, Validate(validConfig(t)))
	})

	t.Run("nil config rejected", func(t *testing.T) {
		assert.ErrorIs(t, Validate(nil), syerrors.ErrConfigInvalid)
	})

	t.Run("missing default branch rejected", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Deploy.DefaultBranch = "  "
		assert.ErrorIs(t, Validate(cfg), syerrors.ErrConfigInvalid)
	})

	t.Run("missing build command rejected", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Frontend.BuildCommand = ""
		assert.ErrorIs(t, Validate(cfg), syerrors.ErrConfigInvalid)
	})

	t.Run("unknown display timezone rejected", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Deploy.DisplayTimezone = "Mars/Olympus"
		assert.ErrorIs(t, Validate(cfg), syerrors.ErrConfigInvalid)
	})

	t.Run("partial blue green config rejected", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.BlueGreen.GreenPath = "/var/www/green"
		assert.ErrorIs(t, Validate(cfg), syerrors.ErrConfigInvalid)

		cfg.BlueGreen.BluePath = "/var/www/blue"
		cfg.BlueGreen.LiveSymlink = "/var/www/current"
		assert.NoError(t, Validate(cfg))
	})

	t.Run("compare without repo rejected", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Preview.UseGithubCompare = true
		assert.ErrorIs(t, Validate(cfg), syerrors.ErrConfigInvalid)

		cfg.Preview.GithubCompareRepo = "acme/frontend"
		assert.NoError(t, Validate(cfg))
	})
}
