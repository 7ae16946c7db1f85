package deploy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/switchyard/internal/constants"
	syerrors "github.com/mrz1836/switchyard/internal/errors"
)

// cutoverFixture builds slot paths, a live symlink path, and a build
// directory with one asset.
func cutoverFixture(t *testing.T) (bg *BlueGreen, buildDir, green, blue, live string) {
	t.Helper()
	root := t.TempDir()
	green = filepath.Join(root, "slots", "green")
	blue = filepath.Join(root, "slots", "blue")
	live = filepath.Join(root, "current")

	buildDir = filepath.Join(root, "build")
	require.NoError(t, os.MkdirAll(filepath.Join(buildDir, "static"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "index.html"), []byte("<html/>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(buildDir, "static", "app.js"), []byte("js"), 0o600))

	return NewBlueGreen(green, blue, live, false, zerolog.Nop()), buildDir, green, blue, live
}

func TestBlueGreenFirstCutoverTargetsGreen(t *testing.T) {
	t.Parallel()

	bg, buildDir, green, _, live := cutoverFixture(t)
	assert.Equal(t, constants.SlotUnknown, bg.ActiveSlot())

	metadata, err := bg.Execute(buildDir)
	require.NoError(t, err)

	assert.Equal(t, true, metadata["copied"])
	assert.Equal(t, true, metadata["switched"])
	assert.Equal(t, constants.SlotUnknown, metadata["previous_target"])
	assert.Equal(t, constants.SlotGreen, metadata["next_target"])
	assert.Equal(t, green, metadata["next_path"])

	target, err := os.Readlink(live)
	require.NoError(t, err)
	assert.Equal(t, green, filepath.Clean(target))
	assert.FileExists(t, filepath.Join(green, "index.html"))
	assert.FileExists(t, filepath.Join(green, "static", "app.js"))
	assert.Equal(t, constants.SlotGreen, bg.ActiveSlot())
}

func TestBlueGreenCyclesSlots(t *testing.T) {
	t.Parallel()

	bg, buildDir, green, blue, live := cutoverFixture(t)

	// Pre-existing symlink pointing at green.
	require.NoError(t, os.MkdirAll(green, 0o750))
	require.NoError(t, os.Symlink(green, live))

	metadata, err := bg.Execute(buildDir)
	require.NoError(t, err)
	assert.Equal(t, constants.SlotGreen, metadata["previous_target"])
	assert.Equal(t, constants.SlotBlue, metadata["next_target"])
	assert.Equal(t, blue, metadata["next_path"])
	assert.Equal(t, constants.SlotBlue, bg.ActiveSlot())

	// A second cutover toggles back to green.
	metadata, err = bg.Execute(buildDir)
	require.NoError(t, err)
	assert.Equal(t, constants.SlotBlue, metadata["previous_target"])
	assert.Equal(t, constants.SlotGreen, metadata["next_target"])
	assert.Equal(t, constants.SlotGreen, bg.ActiveSlot())
}

func TestBlueGreenReplacesStaleSlotContents(t *testing.T) {
	t.Parallel()

	bg, buildDir, green, _, _ := cutoverFixture(t)

	require.NoError(t, os.MkdirAll(green, 0o750))
	stale := filepath.Join(green, "stale.txt")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o600))

	_, err := bg.Execute(buildDir)
	require.NoError(t, err)

	assert.NoFileExists(t, stale)
	assert.FileExists(t, filepath.Join(green, "index.html"))
}

func TestBlueGreenMissingBuildDir(t *testing.T) {
	t.Parallel()

	bg, _, _, _, _ := cutoverFixture(t)
	_, err := bg.Execute(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, syerrors.ErrMissingBuildDir)
}

func TestBlueGreenDryRun(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	green := filepath.Join(root, "green")
	blue := filepath.Join(root, "blue")
	live := filepath.Join(root, "current")
	bg := NewBlueGreen(green, blue, live, true, zerolog.Nop())

	metadata, err := bg.Execute(filepath.Join(root, "build-not-created"))
	require.NoError(t, err, "dry-run never touches the filesystem")

	assert.Equal(t, true, metadata["dry_run"])
	assert.Equal(t, false, metadata["copied"])
	assert.Equal(t, false, metadata["switched"])
	assert.NoFileExists(t, live)
}

func TestBlueGreenDanglingSymlink(t *testing.T) {
	t.Parallel()

	bg, buildDir, green, _, live := cutoverFixture(t)

	// Dangling link to a removed directory counts as unknown and the
	// swap still succeeds.
	require.NoError(t, os.Symlink(filepath.Join(t.TempDir(), "gone"), live))
	assert.Equal(t, constants.SlotUnknown, bg.ActiveSlot())

	_, err := bg.Execute(buildDir)
	require.NoError(t, err)

	target, err := os.Readlink(live)
	require.NoError(t, err)
	assert.Equal(t, green, filepath.Clean(target))
}

func TestBlueGreenPlan(t *testing.T) {
	t.Parallel()

	bg, buildDir, _, _, _ := cutoverFixture(t)

	plan := bg.Plan()
	assert.Equal(t, constants.SlotUnknown, plan["active_slot"])
	assert.Equal(t, constants.SlotGreen, plan["next_cutover_target"])
	assert.Nil(t, plan["last_cutover_at"])

	_, err := bg.Execute(buildDir)
	require.NoError(t, err)

	plan = bg.Plan()
	assert.Equal(t, constants.SlotGreen, plan["active_slot"])
	assert.Equal(t, constants.SlotBlue, plan["standby_slot"])
	assert.Equal(t, constants.SlotBlue, plan["next_cutover_target"])
	assert.NotNil(t, plan["last_cutover_at"])
}

func TestBlueGreenUnconfiguredPlan(t *testing.T) {
	t.Parallel()

	bg := NewBlueGreen("", "", "", false, zerolog.Nop())
	assert.False(t, bg.Configured())

	plan := bg.Plan()
	assert.Equal(t, constants.SlotUnknown, plan["active_slot"])
	assert.Nil(t, plan["next_cutover_target"])
}
