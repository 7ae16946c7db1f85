package deploy

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrz1836/switchyard/internal/constants"
	syerrors "github.com/mrz1836/switchyard/internal/errors"
)

// BlueGreen performs the slot cutover: stage the freshly built assets
// into the standby slot and atomically repoint the live symlink.
type BlueGreen struct {
	greenPath   string
	bluePath    string
	liveSymlink string
	dryRun      bool
	logger      zerolog.Logger
}

// NewBlueGreen creates a cutover helper over the two slot directories
// and the live symlink.
func NewBlueGreen(greenPath, bluePath, liveSymlink string, dryRun bool, logger zerolog.Logger) *BlueGreen {
	return &BlueGreen{
		greenPath:   greenPath,
		bluePath:    bluePath,
		liveSymlink: liveSymlink,
		dryRun:      dryRun,
		logger:      logger,
	}
}

// Configured reports whether slot paths are set. Unconfigured cutover
// corresponds to dev-server deployments.
func (b *BlueGreen) Configured() bool {
	return b.greenPath != "" && b.bluePath != "" && b.liveSymlink != ""
}

// ActiveSlot resolves which slot the live symlink points at.
// Returns SlotUnknown when the symlink is absent or points elsewhere.
func (b *BlueGreen) ActiveSlot() string {
	target, err := os.Readlink(b.liveSymlink)
	if err != nil {
		return constants.SlotUnknown
	}
	switch filepath.Clean(target) {
	case filepath.Clean(b.greenPath):
		return constants.SlotGreen
	case filepath.Clean(b.bluePath):
		return constants.SlotBlue
	default:
		return constants.SlotUnknown
	}
}

// nextSlot selects the cutover target: the standby slot, or green when
// the active slot is unknown.
func (b *BlueGreen) nextSlot() (slot, path string) {
	switch b.ActiveSlot() {
	case constants.SlotGreen:
		return constants.SlotBlue, b.bluePath
	case constants.SlotBlue:
		return constants.SlotGreen, b.greenPath
	default:
		return constants.SlotGreen, b.greenPath
	}
}

// Plan describes the current blue/green state for previews and status
// responses.
func (b *BlueGreen) Plan() map[string]any {
	if !b.Configured() {
		return map[string]any{
			"active_slot":         constants.SlotUnknown,
			"standby_slot":        constants.SlotUnknown,
			"last_cutover_at":     nil,
			"next_cutover_target": nil,
		}
	}

	active := b.ActiveSlot()
	standby := constants.SlotUnknown
	switch active {
	case constants.SlotGreen:
		standby = constants.SlotBlue
	case constants.SlotBlue:
		standby = constants.SlotGreen
	}

	var lastCutover any
	if info, err := os.Lstat(b.liveSymlink); err == nil {
		lastCutover = info.ModTime().UTC().Format(time.RFC3339)
	}

	nextSlot, _ := b.nextSlot()
	return map[string]any{
		"active_slot":         active,
		"standby_slot":        standby,
		"last_cutover_at":     lastCutover,
		"next_cutover_target": nextSlot,
	}
}

// Execute stages sourceDir into the standby slot and swaps the live
// symlink. Returns the cutover stage metadata.
func (b *BlueGreen) Execute(sourceDir string) (map[string]any, error) {
	previousSlot := b.ActiveSlot()
	nextSlot, nextPath := b.nextSlot()

	metadata := map[string]any{
		"source":          sourceDir,
		"next_target":     nextSlot,
		"next_path":       nextPath,
		"previous_target": previousSlot,
		"live_symlink":    b.liveSymlink,
		"dry_run":         b.dryRun,
		"copied":          false,
		"switched":        false,
	}

	if b.dryRun {
		b.logger.Info().
			Str("source", sourceDir).
			Str("next_target", nextPath).
			Msg("dry-run: skipping cutover filesystem mutations")
		return metadata, nil
	}

	info, err := os.Stat(sourceDir)
	if err != nil || !info.IsDir() {
		return metadata, fmt.Errorf("%w: %s", syerrors.ErrMissingBuildDir, sourceDir)
	}

	if err := os.MkdirAll(filepath.Dir(nextPath), 0o750); err != nil {
		return metadata, syerrors.Wrapf(err, "failed to prepare slot parent for %s", nextPath)
	}
	if err := os.RemoveAll(nextPath); err != nil {
		return metadata, syerrors.Wrapf(err, "failed to clear slot %s", nextPath)
	}
	if err := copyTree(sourceDir, nextPath); err != nil {
		return metadata, syerrors.Wrapf(err, "failed to stage assets into %s", nextPath)
	}
	metadata["copied"] = true

	if err := b.swapSymlink(nextPath); err != nil {
		return metadata, err
	}
	metadata["switched"] = true

	b.logger.Info().
		Str("previous", previousSlot).
		Str("next", nextSlot).
		Str("live_symlink", b.liveSymlink).
		Msg("cutover complete")

	return metadata, nil
}

// swapSymlink repoints the live symlink at target. A temporary link is
// renamed over the live path so the symlink, when present, always
// resolves to a known slot; when rename is not possible the swap falls
// back to unlink-then-create.
func (b *BlueGreen) swapSymlink(target string) error {
	tmpLink := fmt.Sprintf("%s.next-%d", b.liveSymlink, os.Getpid())
	_ = os.Remove(tmpLink)

	if err := os.Symlink(target, tmpLink); err != nil {
		return syerrors.Wrapf(err, "failed to create symlink to %s", target)
	}
	if err := os.Rename(tmpLink, b.liveSymlink); err == nil {
		return nil
	}
	_ = os.Remove(tmpLink)

	// Rename-over failed (e.g. live path is a directory); fall back to
	// the remove-then-create sequence.
	if err := os.Remove(b.liveSymlink); err != nil && !os.IsNotExist(err) {
		return syerrors.Wrapf(err, "failed to remove live symlink %s", b.liveSymlink)
	}
	if err := os.Symlink(target, b.liveSymlink); err != nil {
		return syerrors.Wrapf(err, "failed to create live symlink %s", b.liveSymlink)
	}
	return nil
}

// copyTree recursively copies src into dst, preserving file modes.
// Symlinks inside the build output are recreated as-is.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		targetPath := filepath.Join(dst, rel)

		info, err := entry.Info()
		if err != nil {
			return err
		}

		switch {
		case entry.IsDir():
			return os.MkdirAll(targetPath, info.Mode().Perm()|0o100)
		case info.Mode()&os.ModeSymlink != 0:
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(linkTarget, targetPath)
		default:
			return copyFile(path, targetPath, info.Mode().Perm())
		}
	})
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src) //#nosec G304 -- paths come from configured deploy directories
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm) //#nosec G304
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
