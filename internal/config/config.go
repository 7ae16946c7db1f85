// Package config provides configuration management for Switchyard with
// layered precedence.
//
// Configuration sources are loaded in the following order (highest
// precedence first):
//  1. Environment variables (SWITCHYARD_* prefix)
//  2. Project config (.switchyard/config.yaml)
//  3. Global config (~/.switchyard/config.yaml)
//  4. Built-in defaults
//
// IMPORTANT: This package may import internal/constants and
// internal/errors, but MUST NOT import internal/domain or other
// internal packages.
package config

import (
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration structure for Switchyard.
type Config struct {
	// Deploy contains pipeline execution settings.
	Deploy DeployConfig `yaml:"deploy" mapstructure:"deploy"`

	// Frontend contains build command settings for the deployed project.
	Frontend FrontendConfig `yaml:"frontend" mapstructure:"frontend"`

	// BlueGreen contains slot directory and symlink settings.
	BlueGreen BlueGreenConfig `yaml:"blue_green" mapstructure:"blue_green"`

	// Preview contains diff analysis and LLM summary settings.
	Preview PreviewConfig `yaml:"preview" mapstructure:"preview"`

	// Store contains task persistence settings.
	Store StoreConfig `yaml:"store" mapstructure:"store"`
}

// DeployConfig contains pipeline execution settings.
type DeployConfig struct {
	// DryRun records command intent without spawning processes and skips
	// filesystem mutations during cutover.
	DryRun bool `yaml:"dry_run" mapstructure:"dry_run"`

	// DefaultBranch is used when a deploy request carries no branch.
	// Default: "deploy"
	DefaultBranch string `yaml:"default_branch" mapstructure:"default_branch"`

	// AllowedBranches is the comma-separated branch allow-list.
	// Default: "deploy,main"
	AllowedBranches string `yaml:"allowed_branches" mapstructure:"allowed_branches"`

	// RepoPath is the checked-out source tree the pipeline operates on.
	RepoPath string `yaml:"repo_path" mapstructure:"repo_path"`

	// CommandTimeout bounds every spawned pipeline command.
	// Default: 10m
	CommandTimeout time.Duration `yaml:"command_timeout" mapstructure:"command_timeout"`

	// DisplayTimezone names the zone used for operator-facing timestamps.
	// Invalid or empty values fall back to UTC.
	DisplayTimezone string `yaml:"display_timezone" mapstructure:"display_timezone"`
}

// AllowedBranchSet parses the allow-list into a set. An empty list
// degenerates to the default branch.
func (c *DeployConfig) AllowedBranchSet() map[string]struct{} {
	set := make(map[string]struct{})
	for _, branch := range strings.Split(c.AllowedBranches, ",") {
		branch = strings.TrimSpace(branch)
		if branch != "" {
			set[branch] = struct{}{}
		}
	}
	if len(set) == 0 {
		set[strings.TrimSpace(c.DefaultBranch)] = struct{}{}
	}
	return set
}

// FrontendConfig contains build command settings.
type FrontendConfig struct {
	// ProjectSubdir is the frontend project path relative to the repo root.
	ProjectSubdir string `yaml:"project_subdir" mapstructure:"project_subdir"`

	// InstallCommand installs dependencies before the build. Empty skips
	// the install step.
	// Default: "npm install"
	InstallCommand string `yaml:"install_command" mapstructure:"install_command"`

	// BuildCommand produces the deployable artifacts.
	// Default: "npm run build"
	BuildCommand string `yaml:"build_command" mapstructure:"build_command"`

	// ExportCommand optionally generates static export artifacts after
	// the build. Empty skips the export step.
	ExportCommand string `yaml:"export_command" mapstructure:"export_command"`

	// BuildOutputSubdir is the directory containing deployable assets
	// after build/export, relative to the project dir. Empty enables
	// dev-server mode: the cutover stage is skipped.
	BuildOutputSubdir string `yaml:"build_output_subdir" mapstructure:"build_output_subdir"`
}

// BlueGreenConfig contains slot directory and symlink settings.
type BlueGreenConfig struct {
	// GreenPath is the green slot directory.
	GreenPath string `yaml:"green_path" mapstructure:"green_path"`

	// BluePath is the blue slot directory.
	BluePath string `yaml:"blue_path" mapstructure:"blue_path"`

	// LiveSymlink is the symlink the web server uses as document root.
	LiveSymlink string `yaml:"live_symlink" mapstructure:"live_symlink"`
}

// PreviewConfig contains diff analysis and LLM summary settings.
type PreviewConfig struct {
	// LLMModel is the generative model used to summarize upcoming diffs.
	// Empty disables the LLM preview.
	// Default: "gemini-2.5-flash"
	LLMModel string `yaml:"llm_model" mapstructure:"llm_model"`

	// DiffMaxChars caps the diff text handed to the preview LLM.
	// Default: 4000
	DiffMaxChars int `yaml:"diff_max_chars" mapstructure:"diff_max_chars"`

	// UseGithubCompare enables the hosting provider's compare endpoint
	// before falling back to a local diff.
	UseGithubCompare bool `yaml:"use_github_compare" mapstructure:"use_github_compare"`

	// GithubCompareRepo is the owner/name slug for the compare endpoint.
	GithubCompareRepo string `yaml:"github_compare_repo" mapstructure:"github_compare_repo"`

	// GithubCompareHeadRef overrides the head ref sent to the compare
	// endpoint. Empty uses the resolved HEAD commit.
	GithubCompareHeadRef string `yaml:"github_compare_head_ref" mapstructure:"github_compare_head_ref"`

	// GithubCompareToken is the optional bearer token for the compare
	// endpoint. Never logged.
	GithubCompareToken string `yaml:"github_compare_token" mapstructure:"github_compare_token"`

	// GithubCompareCacheTTL bounds compare result reuse per
	// (repo, base, head).
	// Default: 60s
	GithubCompareCacheTTL time.Duration `yaml:"github_compare_cache_ttl" mapstructure:"github_compare_cache_ttl"`

	// CacheRedisAddr switches the compare cache from the in-process map
	// to a shared Redis instance when set (host:port).
	CacheRedisAddr string `yaml:"cache_redis_addr" mapstructure:"cache_redis_addr"`
}

// StoreConfig contains task persistence settings.
type StoreConfig struct {
	// MongoURI selects the MongoDB-backed store when set. Empty selects
	// the in-memory store.
	MongoURI string `yaml:"mongo_uri" mapstructure:"mongo_uri"`

	// MongoDatabase is the database name for the MongoDB store.
	// Default: "switchyard"
	MongoDatabase string `yaml:"mongo_database" mapstructure:"mongo_database"`
}

// FrontendProjectPath resolves the absolute frontend project directory.
func (c *Config) FrontendProjectPath() string {
	if c.Frontend.ProjectSubdir == "" {
		return c.Deploy.RepoPath
	}
	return filepath.Join(c.Deploy.RepoPath, c.Frontend.ProjectSubdir)
}

// FrontendOutputPath resolves the absolute build output directory, or
// empty in dev-server mode.
func (c *Config) FrontendOutputPath() string {
	if c.DevServerMode() {
		return ""
	}
	return filepath.Join(c.FrontendProjectPath(), c.Frontend.BuildOutputSubdir)
}

// DevServerMode reports whether no build output path is configured, in
// which case the cutover stage is skipped and the build command is
// assumed to (re)start a dev server.
func (c *Config) DevServerMode() bool {
	return strings.TrimSpace(c.Frontend.BuildOutputSubdir) == ""
}
