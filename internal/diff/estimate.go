package diff

import (
	"math"

	"github.com/mrz1836/switchyard/internal/constants"
)

// StageEstimate is one pipeline stage's expected duration.
type StageEstimate struct {
	Stage   string `json:"stage"`
	Seconds int    `json:"expected_seconds"`
}

// CostEstimate is the rough runtime/cost projection shown before a
// deploy, with the drivers that produced it.
type CostEstimate struct {
	RuntimeMinutes int             `json:"runtime_minutes"`
	HourlyCostUSD  float64         `json:"hourly_cost_usd"`
	TotalSeconds   int             `json:"total_seconds"`
	Stages         []StageEstimate `json:"stages"`
	Drivers        map[string]any  `json:"drivers"`
}

// EstimateStages projects per-stage durations from the diff. A nil
// stats is treated as an empty diff.
func EstimateStages(stats *Stats) []StageEstimate {
	fileCount := 0
	lockfile := false
	configChanged := false
	if stats != nil {
		fileCount = stats.FileCount
		lockfile = stats.LockfileChanged
		configChanged = stats.ConfigChanged
	}

	clone := constants.CloneBaseSeconds + min(constants.CloneFileCapSeconds, fileCount)

	build := constants.BuildBaseSeconds + constants.BuildPerFileSeconds*fileCount
	if lockfile {
		build += constants.BuildLockfileSurcharge
	}
	if configChanged {
		build += constants.BuildConfigSurcharge
	}
	if build > constants.BuildCapSeconds {
		build = constants.BuildCapSeconds
	}

	return []StageEstimate{
		{Stage: string(constants.StatusRunningClone), Seconds: clone},
		{Stage: string(constants.StatusRunningBuild), Seconds: build},
		{Stage: string(constants.StatusRunningCutover), Seconds: constants.CutoverSeconds},
		{Stage: string(constants.StatusRunningObservability), Seconds: constants.ObservabilitySeconds},
	}
}

// EstimateCost converts stage estimates into the operator-facing cost
// projection.
func EstimateCost(stats *Stats) CostEstimate {
	stages := EstimateStages(stats)
	total := 0
	for _, stage := range stages {
		total += stage.Seconds
	}

	minutes := int(math.Round(float64(total) / 60))
	if minutes < 1 {
		minutes = 1
	}

	hourly := math.Round((float64(total)/3600)*constants.HourlyCostUSD*100) / 100

	drivers := map[string]any{
		"file_count":       0,
		"lockfile_changed": false,
		"config_changed":   false,
	}
	if stats != nil {
		drivers["file_count"] = stats.FileCount
		drivers["lockfile_changed"] = stats.LockfileChanged
		drivers["config_changed"] = stats.ConfigChanged
	}

	return CostEstimate{
		RuntimeMinutes: minutes,
		HourlyCostUSD:  hourly,
		TotalSeconds:   total,
		Stages:         stages,
		Drivers:        drivers,
	}
}

// Metadata renders the cost estimate as the nested-mapping shape stored
// in preflight snapshots.
func (c CostEstimate) Metadata() map[string]any {
	stageSeconds := make(map[string]any, len(c.Stages))
	for _, stage := range c.Stages {
		stageSeconds[stage.Stage] = stage.Seconds
	}
	return map[string]any{
		"runtime_minutes": c.RuntimeMinutes,
		"hourly_cost_usd": c.HourlyCostUSD,
		"total_seconds":   c.TotalSeconds,
		"stage_seconds":   stageSeconds,
		"drivers":         c.Drivers,
	}
}
