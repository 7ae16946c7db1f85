// Package diff derives deploy previews from version-control changes:
// name-status summaries, path-heuristic risk flags, human warnings, and
// stage-time/cost estimates. Diffs come from the hosting provider's
// compare API when configured, falling back to a local git diff.
package diff

import (
	"strings"

	"github.com/mrz1836/switchyard/internal/constants"
)

// Risk levels derived from a diff.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Diff sources recorded on the preview context.
const (
	SourceCompareAPI = "compare_api"
	SourceLocalGit   = "local_git"
	SourceNone       = "none"
)

// Stats summarizes a name-status diff.
type Stats struct {
	FileCount int      `json:"file_count"`
	Added     int      `json:"added"`
	Modified  int      `json:"modified"`
	Deleted   int      `json:"deleted"`
	Paths     []string `json:"paths"`

	LockfileChanged  bool `json:"lockfile_changed"`
	EnvChanged       bool `json:"env_changed"`
	ConfigChanged    bool `json:"config_changed"`
	SensitiveChanged bool `json:"sensitive_changed"`
	TestFilesChanged bool `json:"test_files_changed"`

	RiskLevel string `json:"risk_level"`
}

// Summarize parses `git diff --name-status` output into Stats.
// Each line is `STATUS\tPATH` (renames carry an extra path; the new
// path is counted). Empty input produces a zero, low-risk summary.
func Summarize(nameStatus string) *Stats {
	stats := &Stats{}
	for _, line := range strings.Split(nameStatus, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 2 {
			continue
		}
		status := strings.ToUpper(strings.TrimSpace(parts[0]))
		path := strings.TrimSpace(parts[len(parts)-1])
		stats.record(status, path)
	}
	stats.RiskLevel = stats.riskLevel()
	return stats
}

// record registers one changed path under its change kind.
func (s *Stats) record(status, path string) {
	if path == "" {
		return
	}
	s.FileCount++
	s.Paths = append(s.Paths, path)

	switch {
	case strings.HasPrefix(status, "A"):
		s.Added++
	case strings.HasPrefix(status, "D"):
		s.Deleted++
	default:
		// Modified, renamed, copied, and type changes all count as
		// modifications for risk purposes.
		s.Modified++
	}

	s.flagPath(path)
}

// flagPath applies the path heuristics that feed risk and warnings.
func (s *Stats) flagPath(path string) {
	lower := strings.ToLower(path)
	base := lower
	if idx := strings.LastIndex(lower, "/"); idx >= 0 {
		base = lower[idx+1:]
	}

	switch base {
	case "package-lock.json", "pnpm-lock.yaml", "yarn.lock", "npm-shrinkwrap.json":
		s.LockfileChanged = true
	}

	if strings.HasPrefix(base, ".env") || strings.Contains(lower, "secrets") {
		s.EnvChanged = true
	}

	if strings.HasSuffix(lower, ".yml") || strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".json") {
		if strings.Contains(lower, "infra") || strings.Contains(lower, "deploy") || strings.Contains(lower, "config") {
			s.ConfigChanged = true
		}
	}

	if strings.Contains(lower, "secret") || strings.Contains(lower, "cert") ||
		strings.HasSuffix(lower, ".pem") || strings.HasSuffix(lower, ".key") || strings.HasSuffix(lower, ".crt") {
		s.SensitiveChanged = true
	}

	if strings.Contains(lower, "tests/") || strings.Contains(lower, "/test/") ||
		strings.Contains(lower, ".spec") || strings.Contains(lower, ".test") {
		s.TestFilesChanged = true
	}
}

// riskLevel classifies the diff. Empty diffs are low risk; env changes
// always push to high; config changes rule out low.
func (s *Stats) riskLevel() string {
	if s.FileCount == 0 {
		return RiskLow
	}
	if s.FileCount < 5 && !s.EnvChanged && !s.ConfigChanged {
		return RiskLow
	}
	if s.FileCount < 15 && !s.EnvChanged {
		return RiskMedium
	}
	return RiskHigh
}

// IsLargeDiff reports whether the diff crosses the large-change
// warning threshold.
func (s *Stats) IsLargeDiff() bool {
	return s.FileCount >= constants.LargeDiffThreshold
}
