// Package store provides task and report persistence for Switchyard.
// Two implementations exist: MemoryStore for tests and single-process
// setups, and MongoStore for durable document storage. The host picks
// one before the engine is constructed.
package store

import (
	"context"

	"github.com/mrz1836/switchyard/internal/constants"
	"github.com/mrz1836/switchyard/internal/domain"
)

// Store defines the persistence operations the deploy engine consumes.
//
// Update semantics: UpdateTask is atomic; it assigns any of status,
// error_log, completed_at, and full metadata, then deep-merges
// AppendMetadata into metadata (nested mappings merge recursively,
// scalar leaves overwrite, lists replace). Append-metadata is
// commutative only for disjoint keys; overlapping leaves take the most
// recent writer.
type Store interface {
	// CreateTask persists a new task. The created task is returned.
	CreateTask(ctx context.Context, create domain.DeployTaskCreate) (*domain.DeployTask, error)

	// GetTask retrieves a task by id. Returns ErrTaskNotFound when absent.
	GetTask(ctx context.Context, taskID string) (*domain.DeployTask, error)

	// UpdateTask applies an atomic mutation and returns the updated task.
	UpdateTask(ctx context.Context, taskID string, update domain.DeployTaskUpdate) (*domain.DeployTask, error)

	// MarkStatus sets the task status, records errorLog when non-empty,
	// and stamps completed_at when the status is terminal.
	MarkStatus(ctx context.Context, taskID string, status constants.DeployStatus, errorLog string) (*domain.DeployTask, error)

	// GetRecentSuccesses returns completed tasks whose metadata.branch
	// matches, newest first by completed_at.
	GetRecentSuccesses(ctx context.Context, branch string, limit int) ([]*domain.DeployTask, error)

	// GetRecentTasks returns tasks newest first by started_at.
	GetRecentTasks(ctx context.Context, limit int) ([]*domain.DeployTask, error)

	// GetLatestTask returns the most recently started task, or
	// ErrTaskNotFound when the store is empty.
	GetLatestTask(ctx context.Context) (*domain.DeployTask, error)

	// InsertReport persists an auxiliary metrics report.
	InsertReport(ctx context.Context, report *domain.DeployReport) error

	// GetReport retrieves a report by id. Returns ErrReportNotFound when
	// absent.
	GetReport(ctx context.Context, reportID string) (*domain.DeployReport, error)

	// Ping reports whether the backing store answers.
	Ping(ctx context.Context) error
}
