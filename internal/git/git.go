// Package git provides read-side git helpers for the deploy engine.
// Pipeline mutations (fetch, checkout, reset, clean, push) go through
// the staged command executor so their output lands in task metadata;
// this package covers the lookups that feed summaries and previews.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	syerrors "github.com/mrz1836/switchyard/internal/errors"
)

// commitSHARegex matches a full lowercase git object name.
var commitSHARegex = regexp.MustCompile(`^[0-9a-f]{40}$`)

// RunCommand executes a git command in the specified directory and
// returns its trimmed stdout. All errors are wrapped with
// ErrGitOperation and include stderr for debugging.
func RunCommand(ctx context.Context, workDir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...) //#nosec G204 -- args are constructed internally, not user input
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if stderr.Len() > 0 {
			return "", fmt.Errorf("git %s failed: %s: %w", args[0], strings.TrimSpace(stderr.String()), syerrors.ErrGitOperation)
		}
		return "", fmt.Errorf("git %s failed: %w", args[0], syerrors.ErrGitOperation)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// IsValidCommitSHA reports whether value is a full 40-character
// lowercase hex object name.
func IsValidCommitSHA(value string) bool {
	return commitSHARegex.MatchString(value)
}

// HeadCommit resolves the current HEAD object name.
func HeadCommit(ctx context.Context, workDir string) (string, error) {
	sha, err := RunCommand(ctx, workDir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	if !IsValidCommitSHA(sha) {
		return "", fmt.Errorf("%w: %q", syerrors.ErrInvalidCommit, sha)
	}
	return sha, nil
}

// CommitExists reports whether the object name resolves in the repository.
func CommitExists(ctx context.Context, workDir, sha string) bool {
	_, err := RunCommand(ctx, workDir, "cat-file", "-e", sha+"^{commit}")
	return err == nil
}

// CommitAuthor returns the author name and email of a commit.
func CommitAuthor(ctx context.Context, workDir, sha string) (name, email string, err error) {
	out, err := RunCommand(ctx, workDir, "log", "-1", "--format=%an%x00%ae", sha)
	if err != nil {
		return "", "", err
	}
	parts := strings.SplitN(out, "\x00", 2)
	name = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		email = strings.TrimSpace(parts[1])
	}
	return name, email, nil
}

// DiffNameStatus returns the raw `git diff --name-status base..head`
// output. An empty result means the trees are identical.
func DiffNameStatus(ctx context.Context, workDir, base, head string) (string, error) {
	return RunCommand(ctx, workDir, "diff", "--name-status", base+".."+head)
}

// CurrentBranch returns the checked-out branch name, or an error in
// detached HEAD state.
func CurrentBranch(ctx context.Context, workDir string) (string, error) {
	branch, err := RunCommand(ctx, workDir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	if branch == "HEAD" {
		return "", fmt.Errorf("detached HEAD state: %w", syerrors.ErrGitOperation)
	}
	return branch, nil
}
