package constants

import "time"

// Actions distinguish why a pipeline runs.
const (
	// ActionDeploy marks a forward deployment task.
	ActionDeploy = "deploy"

	// ActionRollback marks a reversal to a previous commit.
	ActionRollback = "rollback"
)

// Blue/green slot names.
const (
	SlotGreen   = "green"
	SlotBlue    = "blue"
	SlotUnknown = "unknown"
)

// SwitchyardHome is the directory under the user home that holds global
// configuration and logs.
const SwitchyardHome = ".switchyard"

// Log rotation settings for the CLI log file.
const (
	LogsDir        = "logs"
	CLILogFileName = "switchyard.log"
	LogMaxSizeMB   = 10
	LogMaxBackups  = 3
	LogMaxAgeDays  = 30
	LogCompress    = true
)

// Default execution settings.
const (
	// DefaultCommandTimeout bounds every spawned pipeline command.
	DefaultCommandTimeout = 10 * time.Minute

	// DefaultLLMTimeout bounds the best-effort preview summarization call.
	DefaultLLMTimeout = 45 * time.Second

	// DefaultCompareCacheTTL bounds how long compare-API results are reused.
	DefaultCompareCacheTTL = 60 * time.Second

	// DefaultDiffMaxChars caps the diff text handed to the preview LLM.
	DefaultDiffMaxChars = 4000
)

// Stage time estimation model (seconds). The build estimate is
// 90 + 5*file_count + lockfile/config surcharges, capped at BuildCapSeconds.
const (
	CloneBaseSeconds       = 35
	CloneFileCapSeconds    = 20
	BuildBaseSeconds       = 90
	BuildPerFileSeconds    = 5
	BuildLockfileSurcharge = 45
	BuildConfigSurcharge   = 15
	BuildCapSeconds        = 420
	CutoverSeconds         = 25
	ObservabilitySeconds   = 20

	// HourlyCostUSD converts estimated runtime into a rough dollar figure.
	HourlyCostUSD = 6.0
)

// LargeDiffThreshold is the file count at which a diff earns an extra
// large-change warning.
const LargeDiffThreshold = 20

// CommitSHALength is the length of a full git object name.
const CommitSHALength = 40

// FailureOutputTailBytes bounds how much captured stdout/stderr is
// copied into failure_context.
const FailureOutputTailBytes = 500

// RecentTasksMaxLimit bounds list_recent_tasks requests.
const RecentTasksMaxLimit = 20
