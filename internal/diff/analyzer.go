package diff

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mrz1836/switchyard/internal/ctxutil"
	"github.com/mrz1836/switchyard/internal/domain"
	"github.com/mrz1836/switchyard/internal/git"
)

// SuccessLookup is the slice of the task store the analyzer needs to
// find the last successful deploy.
type SuccessLookup interface {
	GetRecentSuccesses(ctx context.Context, branch string, limit int) ([]*domain.DeployTask, error)
}

// PreviewContext is the internal record that feeds both the preview API
// and the LLM client.
type PreviewContext struct {
	Ready           bool           `json:"ready"`
	Reason          string         `json:"reason,omitempty"`
	BaseCommit      string         `json:"base_commit,omitempty"`
	HeadCommit      string         `json:"head_commit,omitempty"`
	DiffOutput      string         `json:"diff_output,omitempty"`
	DiffStats       *Stats         `json:"diff_stats,omitempty"`
	DiffSource      string         `json:"diff_source"`
	CompareMetadata map[string]any `json:"compare_metadata,omitempty"`
}

// notReady builds an unavailable context with its reason.
func notReady(reason string) *PreviewContext {
	return &PreviewContext{Ready: false, Reason: reason, DiffSource: SourceNone}
}

// Analyzer derives preview contexts from the store, the local
// repository, and optionally the remote compare API.
type Analyzer struct {
	repoPath string
	store    SuccessLookup
	compare  *CompareClient
	headRef  string
	logger   zerolog.Logger
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithCompareClient enables the remote compare path. headRef overrides
// the head commit sent to the endpoint when non-empty.
func WithCompareClient(client *CompareClient, headRef string) AnalyzerOption {
	return func(a *Analyzer) {
		a.compare = client
		a.headRef = headRef
	}
}

// WithAnalyzerLogger sets the analyzer logger.
func WithAnalyzerLogger(logger zerolog.Logger) AnalyzerOption {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// NewAnalyzer creates an analyzer rooted at the deploy repository.
func NewAnalyzer(repoPath string, store SuccessLookup, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		repoPath: repoPath,
		store:    store,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BuildContext resolves the base (last successful deploy commit on the
// branch) and head (current HEAD), acquires the diff, and summarizes
// it. Unavailable inputs produce a not-ready context with a
// human-readable reason; they never error.
func (a *Analyzer) BuildContext(ctx context.Context, branch string) *PreviewContext {
	if err := ctxutil.Canceled(ctx); err != nil {
		return notReady("preview canceled: " + err.Error())
	}

	successes, err := a.store.GetRecentSuccesses(ctx, branch, 1)
	if err != nil {
		return notReady("task store read failed: " + err.Error())
	}
	if len(successes) == 0 {
		return notReady("no previous successful deploy on branch " + branch)
	}

	base := successes[0].SummaryCommit()
	if !git.IsValidCommitSHA(base) {
		return notReady("last successful deploy has no valid commit recorded")
	}

	head, err := git.HeadCommit(ctx, a.repoPath)
	if err != nil {
		return notReady("current HEAD could not be resolved: " + err.Error())
	}
	if head == base {
		return notReady("HEAD matches the last successful deploy; nothing to ship")
	}

	nameStatus, source, compareMeta := a.acquireDiff(ctx, base, head)
	stats := Summarize(nameStatus)

	return &PreviewContext{
		Ready:           true,
		BaseCommit:      base,
		HeadCommit:      head,
		DiffOutput:      nameStatus,
		DiffStats:       stats,
		DiffSource:      source,
		CompareMetadata: compareMeta,
	}
}

// acquireDiff prefers the compare API and falls back to a local
// name-status diff. Compare failures are logged, never fatal.
func (a *Analyzer) acquireDiff(ctx context.Context, base, head string) (nameStatus, source string, compareMeta map[string]any) {
	if a.compare != nil {
		compareHead := head
		if a.headRef != "" {
			compareHead = a.headRef
		}
		result, err := a.compare.Compare(ctx, base, compareHead)
		if err == nil {
			return result.NameStatus(), SourceCompareAPI, result.Metadata()
		}
		a.logger.Warn().Err(err).
			Str("base", base).
			Str("head", compareHead).
			Msg("compare api failed, falling back to local diff")
	}

	nameStatus, err := git.DiffNameStatus(ctx, a.repoPath, base, head)
	if err != nil {
		a.logger.Warn().Err(err).Msg("local diff failed, treating as empty")
		return "", SourceNone, nil
	}
	return nameStatus, SourceLocalGit, nil
}

// RiskAssessment renders the stats into the operator-facing risk
// payload stored in preflight snapshots.
func RiskAssessment(stats *Stats) map[string]any {
	level := RiskLow
	payload := map[string]any{
		"file_count":         0,
		"lockfile_changed":   false,
		"env_changed":        false,
		"config_changed":     false,
		"sensitive_changed":  false,
		"test_files_changed": false,
	}
	if stats != nil {
		level = stats.RiskLevel
		payload["file_count"] = stats.FileCount
		payload["lockfile_changed"] = stats.LockfileChanged
		payload["env_changed"] = stats.EnvChanged
		payload["config_changed"] = stats.ConfigChanged
		payload["sensitive_changed"] = stats.SensitiveChanged
		payload["test_files_changed"] = stats.TestFilesChanged
	}
	payload["level"] = level
	payload["downtime"] = "minimal (blue/green swap)"
	payload["rollback"] = "symlink revert to the previous slot"
	payload["observability"] = "manual checks pending probe automation"
	return payload
}
