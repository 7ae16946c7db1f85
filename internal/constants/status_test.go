package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current DeployStatus
		next    DeployStatus
		want    bool
	}{
		{"pending to clone", StatusPending, StatusRunningClone, true},
		{"clone to build", StatusRunningClone, StatusRunningBuild, true},
		{"build to cutover", StatusRunningBuild, StatusRunningCutover, true},
		{"cutover to observability", StatusRunningCutover, StatusRunningObservability, true},
		{"observability to completed", StatusRunningObservability, StatusCompleted, true},
		{"skip ahead allowed", StatusPending, StatusCompleted, true},
		{"self transition allowed", StatusRunningBuild, StatusRunningBuild, true},
		{"any status may fail", StatusRunningClone, StatusFailed, true},
		{"pending may fail", StatusPending, StatusFailed, true},
		{"backwards rejected", StatusRunningBuild, StatusRunningClone, false},
		{"completed cannot regress", StatusCompleted, StatusRunningClone, false},
		{"failed is terminal", StatusFailed, StatusRunningClone, false},
		{"failed self is allowed", StatusFailed, StatusFailed, true},
		{"unknown current rejected", DeployStatus("unknown"), StatusRunningClone, false},
		{"unknown next rejected", StatusPending, DeployStatus("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsValidTransition(tt.current, tt.next))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	for _, stage := range StageStatuses {
		assert.False(t, stage.IsTerminal(), "stage %s must not be terminal", stage)
	}
}

func TestStatusSequenceOrder(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StatusPending, StatusSequence[0])
	assert.Equal(t, StatusCompleted, StatusSequence[len(StatusSequence)-1])
	assert.NotContains(t, StatusSequence, StatusFailed)
	assert.Len(t, StageStatuses, 4)
}
