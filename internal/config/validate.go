package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mrz1836/switchyard/internal/errors"
)

// Validate checks the configuration for values that would make the
// pipeline misbehave at runtime. Path existence is deliberately not
// checked here: paths are validated at the point of use so dry-run and
// preview work on machines without the deploy tree.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.Wrap(errors.ErrConfigInvalid, "config is nil")
	}

	if strings.TrimSpace(cfg.Deploy.DefaultBranch) == "" {
		return fmt.Errorf("%w: deploy.default_branch is required", errors.ErrConfigInvalid)
	}
	if cfg.Deploy.CommandTimeout < 0 {
		return fmt.Errorf("%w: deploy.command_timeout must not be negative", errors.ErrConfigInvalid)
	}
	if cfg.Deploy.DisplayTimezone != "" {
		if _, err := time.LoadLocation(cfg.Deploy.DisplayTimezone); err != nil {
			return fmt.Errorf("%w: deploy.display_timezone %q is unknown", errors.ErrConfigInvalid, cfg.Deploy.DisplayTimezone)
		}
	}

	if strings.TrimSpace(cfg.Frontend.BuildCommand) == "" {
		return fmt.Errorf("%w: frontend.build_command is required", errors.ErrConfigInvalid)
	}

	if cfg.Preview.DiffMaxChars <= 0 {
		return fmt.Errorf("%w: preview.diff_max_chars must be positive", errors.ErrConfigInvalid)
	}
	if cfg.Preview.GithubCompareCacheTTL < 0 {
		return fmt.Errorf("%w: preview.github_compare_cache_ttl must not be negative", errors.ErrConfigInvalid)
	}
	if cfg.Preview.UseGithubCompare && strings.TrimSpace(cfg.Preview.GithubCompareRepo) == "" {
		return fmt.Errorf("%w: preview.github_compare_repo is required when use_github_compare is set", errors.ErrConfigInvalid)
	}

	// Cutover needs all three paths or none (dev-server deployments may
	// leave the slots unset along with the build output dir).
	bg := cfg.BlueGreen
	configured := 0
	for _, path := range []string{bg.GreenPath, bg.BluePath, bg.LiveSymlink} {
		if strings.TrimSpace(path) != "" {
			configured++
		}
	}
	if configured != 0 && configured != 3 {
		return fmt.Errorf("%w: blue_green requires green_path, blue_path, and live_symlink together", errors.ErrConfigInvalid)
	}

	return nil
}
