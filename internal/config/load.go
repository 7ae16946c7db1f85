package config

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/mrz1836/switchyard/internal/constants"
	"github.com/mrz1836/switchyard/internal/errors"
)

// Load reads configuration from all available sources with proper
// precedence. Missing config files are not an error; only actual
// configuration problems are reported.
//
// The context parameter is accepted for API consistency; config file
// reads are fast local I/O.
func Load(_ context.Context) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SWITCHYARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := loadGlobalConfig(v); err != nil {
		return nil, err
	}
	if err := loadProjectConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viperDecoderOption()); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if err := Validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return &cfg, nil
}

// LoadFromPaths loads configuration from specific file paths. Either
// path can be empty to skip that level. Used by tests and by hosts that
// manage config locations themselves.
func LoadFromPaths(_ context.Context, projectConfigPath, globalConfigPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("SWITCHYARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if globalConfigPath != "" {
		v.SetConfigFile(globalConfigPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !stderrors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, errors.Wrapf(err, "failed to read global config: %s", globalConfigPath)
			}
		}
	}

	if projectConfigPath != "" {
		v.SetConfigFile(projectConfigPath)
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !stderrors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, errors.Wrapf(err, "failed to read project config: %s", projectConfigPath)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viperDecoderOption()); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if err := Validate(&cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return &cfg, nil
}

// loadGlobalConfig attempts to load ~/.switchyard/config.yaml.
// Returns nil if the file doesn't exist or the home directory cannot be
// determined.
func loadGlobalConfig(v *viper.Viper) error {
	globalConfigPath, ok := globalConfigPathIfExists()
	if !ok {
		return nil
	}

	v.SetConfigFile(globalConfigPath)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return errors.Wrap(err, "failed to read global config file")
		}
	}
	return nil
}

// loadProjectConfig attempts to load .switchyard/config.yaml from the
// working directory. Returns nil if the file doesn't exist.
func loadProjectConfig(v *viper.Viper) error {
	projectConfigPath := ProjectConfigPath()
	if !fileExists(projectConfigPath) {
		return nil
	}

	v.SetConfigFile(projectConfigPath)
	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return errors.Wrap(err, "failed to read project config file")
		}
	}
	return nil
}

// GlobalConfigDir returns the directory holding global configuration.
// SWITCHYARD_HOME overrides the ~/.switchyard default.
func GlobalConfigDir() (string, error) {
	if home := os.Getenv("SWITCHYARD_HOME"); home != "" {
		return home, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get user home directory")
	}
	return filepath.Join(home, constants.SwitchyardHome), nil
}

// ProjectConfigPath returns the project-level config path relative to
// the working directory.
func ProjectConfigPath() string {
	return filepath.Join(".switchyard", "config.yaml")
}

func globalConfigPathIfExists() (string, bool) {
	globalDir, err := GlobalConfigDir()
	if err != nil {
		return "", false
	}
	globalConfigPath := filepath.Join(globalDir, "config.yaml")
	if _, err := os.Stat(globalConfigPath); err != nil {
		return "", false
	}
	return globalConfigPath, true
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// setDefaults configures all default values on the Viper instance.
// Keys must match the YAML tag names exactly for proper mapping.
func setDefaults(v *viper.Viper) {
	v.SetDefault("deploy.dry_run", false)
	v.SetDefault("deploy.default_branch", "deploy")
	v.SetDefault("deploy.allowed_branches", "deploy,main")
	v.SetDefault("deploy.repo_path", "")
	v.SetDefault("deploy.command_timeout", constants.DefaultCommandTimeout)
	v.SetDefault("deploy.display_timezone", "UTC")

	v.SetDefault("frontend.project_subdir", "")
	v.SetDefault("frontend.install_command", "npm install")
	v.SetDefault("frontend.build_command", "npm run build")
	v.SetDefault("frontend.export_command", "")
	v.SetDefault("frontend.build_output_subdir", "")

	v.SetDefault("blue_green.green_path", "")
	v.SetDefault("blue_green.blue_path", "")
	v.SetDefault("blue_green.live_symlink", "")

	v.SetDefault("preview.llm_model", "gemini-2.5-flash")
	v.SetDefault("preview.diff_max_chars", constants.DefaultDiffMaxChars)
	v.SetDefault("preview.use_github_compare", false)
	v.SetDefault("preview.github_compare_repo", "")
	v.SetDefault("preview.github_compare_head_ref", "")
	v.SetDefault("preview.github_compare_token", "")
	v.SetDefault("preview.github_compare_cache_ttl", constants.DefaultCompareCacheTTL)
	v.SetDefault("preview.cache_redis_addr", "")

	v.SetDefault("store.mongo_uri", "")
	v.SetDefault("store.mongo_database", "switchyard")
}

// viperDecoderOption returns the decoder options for Viper unmarshal.
// This configures mapstructure to handle time.Duration conversion from
// strings.
func viperDecoderOption() viper.DecoderConfigOption {
	return viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	)
}
