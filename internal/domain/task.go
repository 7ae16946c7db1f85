// Package domain provides shared domain types for the Switchyard
// deployment orchestrator. These types are used across all internal
// packages to ensure consistent data structures.
//
// This package follows strict import rules:
//   - CAN import: internal/constants, internal/errors, standard library
//   - MUST NOT import: any other internal packages
//
// All JSON/BSON field names use snake_case.
package domain

import (
	"time"

	"github.com/mrz1836/switchyard/internal/constants"
)

// Metadata is the free-form nested mapping attached to a deploy task.
// Reserved top-level keys: branch, action, from_commit, to_commit,
// actor, requested_by, trigger, one key per running_* stage, summary,
// failure_context.
type Metadata = map[string]any

// DeployTask represents one deploy or rollback operation.
//
// Example JSON representation:
//
//	{
//	    "task_id": "2f3c9f1e0f6f4f6d9a0b1c2d3e4f5a6b",
//	    "status": "running_build",
//	    "started_at": "2026-08-02T10:00:00Z",
//	    "metadata": {"branch": "deploy", "action": "deploy", ...}
//	}
type DeployTask struct {
	// TaskID is the primary identifier: a 32-character hex string.
	TaskID string `json:"task_id" bson:"_id"`

	// Status is the current pipeline state. Monotonic except failure.
	Status constants.DeployStatus `json:"status" bson:"status"`

	// StartedAt is the UTC creation timestamp.
	StartedAt time.Time `json:"started_at" bson:"started_at"`

	// CompletedAt is set exactly when the task reaches a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`

	// ErrorLog holds the failure message when Status is failed.
	ErrorLog string `json:"error_log,omitempty" bson:"error_log,omitempty"`

	// Metadata stores branch/action context plus per-stage records.
	Metadata Metadata `json:"metadata" bson:"metadata"`
}

// Branch returns metadata.branch or the empty string.
func (t *DeployTask) Branch() string {
	return stringValue(t.Metadata, "branch")
}

// Action returns metadata.action, defaulting to "deploy" when unset.
func (t *DeployTask) Action() string {
	if action := stringValue(t.Metadata, "action"); action != "" {
		return action
	}
	return constants.ActionDeploy
}

// Summary returns metadata.summary when present as a mapping.
func (t *DeployTask) Summary() Metadata {
	return mapValue(t.Metadata, "summary")
}

// FailureContext returns metadata.failure_context when present as a mapping.
func (t *DeployTask) FailureContext() Metadata {
	return mapValue(t.Metadata, "failure_context")
}

// SummaryCommit returns metadata.summary.commit or the empty string.
func (t *DeployTask) SummaryCommit() string {
	return stringValue(t.Summary(), "commit")
}

// Actor resolves the operator recorded on the task, preferring
// metadata.actor over metadata.requested_by.
func (t *DeployTask) Actor() string {
	if actor := stringValue(t.Metadata, "actor"); actor != "" {
		return actor
	}
	return stringValue(t.Metadata, "requested_by")
}

// Clone returns a deep copy of the task. Stores hand out clones so
// callers can never mutate persisted state in place.
func (t *DeployTask) Clone() *DeployTask {
	if t == nil {
		return nil
	}
	dup := *t
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		dup.CompletedAt = &completed
	}
	dup.Metadata = CloneMetadata(t.Metadata)
	return &dup
}

// DeployTaskCreate is the payload for creating a new task.
type DeployTaskCreate struct {
	TaskID   string
	Status   constants.DeployStatus
	Metadata Metadata
}

// DeployTaskUpdate describes an atomic task mutation. Zero-value fields
// are left untouched; AppendMetadata is deep-merged into the existing
// metadata (nested mappings merge recursively, scalar leaves overwrite,
// lists replace).
type DeployTaskUpdate struct {
	Status         constants.DeployStatus
	ErrorLog       *string
	CompletedAt    *time.Time
	Metadata       Metadata
	AppendMetadata Metadata
}

// IsZero reports whether the update carries no changes.
func (u DeployTaskUpdate) IsZero() bool {
	return u.Status == "" && u.ErrorLog == nil && u.CompletedAt == nil &&
		len(u.Metadata) == 0 && len(u.AppendMetadata) == 0
}

// DeployReport is an auxiliary metrics record attached to a task.
// Reports are created only by explicit reporting calls, never by the
// pipeline itself.
type DeployReport struct {
	ReportID  string    `json:"report_id" bson:"_id"`
	TaskID    string    `json:"task_id" bson:"task_id"`
	Metrics   Metadata  `json:"metrics" bson:"metrics"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// TaskSummary is the condensed listing shape for recent tasks.
type TaskSummary struct {
	TaskID         string                 `json:"task_id"`
	Status         constants.DeployStatus `json:"status"`
	Branch         string                 `json:"branch"`
	Action         string                 `json:"action"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	Actor          string                 `json:"actor,omitempty"`
	Summary        Metadata               `json:"summary,omitempty"`
	FailureContext Metadata               `json:"failure_context,omitempty"`
}

// Summarize condenses a task into its listing shape.
func Summarize(task *DeployTask) TaskSummary {
	return TaskSummary{
		TaskID:         task.TaskID,
		Status:         task.Status,
		Branch:         task.Branch(),
		Action:         task.Action(),
		StartedAt:      task.StartedAt,
		CompletedAt:    task.CompletedAt,
		Actor:          task.Actor(),
		Summary:        task.Summary(),
		FailureContext: task.FailureContext(),
	}
}

// StageSnapshot extracts the running_* stage records from metadata into
// a map keyed by stage status. Absent stages are omitted.
func StageSnapshot(metadata Metadata) map[string]any {
	snapshot := make(map[string]any)
	for _, stage := range constants.StageStatuses {
		if value, ok := metadata[string(stage)]; ok {
			snapshot[string(stage)] = value
		}
	}
	return snapshot
}

func stringValue(m Metadata, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

func mapValue(m Metadata, key string) Metadata {
	if m == nil {
		return nil
	}
	if child, ok := m[key].(map[string]any); ok {
		return child
	}
	return nil
}
