package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mrz1836/switchyard/internal/clock"
	"github.com/mrz1836/switchyard/internal/constants"
	"github.com/mrz1836/switchyard/internal/ctxutil"
	"github.com/mrz1836/switchyard/internal/domain"
	syerrors "github.com/mrz1836/switchyard/internal/errors"
)

// MemoryStore is an in-memory Store used when no document database is
// configured, and by tests. All reads and writes hand out deep copies
// so callers can never mutate persisted state in place.
type MemoryStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	tasks   map[string]*domain.DeployTask
	reports map[string]*domain.DeployReport
	order   []string // task ids in insertion order, for started_at ties
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &MemoryStore{
		clock:   clk,
		tasks:   make(map[string]*domain.DeployTask),
		reports: make(map[string]*domain.DeployReport),
	}
}

// CreateTask persists a new pending task.
func (s *MemoryStore) CreateTask(ctx context.Context, create domain.DeployTaskCreate) (*domain.DeployTask, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}
	if create.TaskID == "" {
		return nil, fmt.Errorf("task id %w", syerrors.ErrEmptyValue)
	}

	status := create.Status
	if status == "" {
		status = constants.StatusPending
	}

	task := &domain.DeployTask{
		TaskID:    create.TaskID,
		Status:    status,
		StartedAt: s.clock.Now().UTC(),
		Metadata:  domain.CloneMetadata(create.Metadata),
	}
	if task.Metadata == nil {
		task.Metadata = domain.Metadata{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.TaskID] = task
	s.order = append(s.order, task.TaskID)
	return task.Clone(), nil
}

// GetTask retrieves a task by id.
func (s *MemoryStore) GetTask(ctx context.Context, taskID string) (*domain.DeployTask, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", syerrors.ErrTaskNotFound, taskID)
	}
	return task.Clone(), nil
}

// UpdateTask applies an atomic mutation under the store lock.
func (s *MemoryStore) UpdateTask(ctx context.Context, taskID string, update domain.DeployTaskUpdate) (*domain.DeployTask, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", syerrors.ErrTaskNotFound, taskID)
	}

	if update.Status != "" {
		task.Status = update.Status
	}
	if update.ErrorLog != nil {
		task.ErrorLog = *update.ErrorLog
	}
	if update.CompletedAt != nil {
		completed := update.CompletedAt.UTC()
		task.CompletedAt = &completed
	}
	if len(update.Metadata) > 0 {
		task.Metadata = domain.CloneMetadata(update.Metadata)
	}
	if len(update.AppendMetadata) > 0 {
		task.Metadata = domain.MergeMetadata(task.Metadata, domain.CloneMetadata(update.AppendMetadata))
	}

	return task.Clone(), nil
}

// MarkStatus sets the status and stamps completed_at on terminal states.
func (s *MemoryStore) MarkStatus(ctx context.Context, taskID string, status constants.DeployStatus, errorLog string) (*domain.DeployTask, error) {
	update := domain.DeployTaskUpdate{Status: status}
	if errorLog != "" {
		update.ErrorLog = &errorLog
	}
	if status.IsTerminal() {
		now := s.clock.Now().UTC()
		update.CompletedAt = &now
	}
	return s.UpdateTask(ctx, taskID, update)
}

// GetRecentSuccesses returns completed tasks on the branch, newest
// first by completed_at.
func (s *MemoryStore) GetRecentSuccesses(ctx context.Context, branch string, limit int) ([]*domain.DeployTask, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", syerrors.ErrInvalidLimit, limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	matches := make([]*domain.DeployTask, 0, limit)
	for _, task := range s.tasks {
		if task.Status != constants.StatusCompleted || task.CompletedAt == nil {
			continue
		}
		if task.Branch() != branch {
			continue
		}
		matches = append(matches, task)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CompletedAt.After(*matches[j].CompletedAt)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	return cloneAll(matches), nil
}

// GetRecentTasks returns tasks newest first by started_at. Equal
// timestamps fall back to insertion order (newest insert first).
func (s *MemoryStore) GetRecentTasks(ctx context.Context, limit int) ([]*domain.DeployTask, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", syerrors.ErrInvalidLimit, limit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := s.tasksNewestFirstLocked()
	if len(ordered) > limit {
		ordered = ordered[:limit]
	}
	return cloneAll(ordered), nil
}

// GetLatestTask returns the most recently started task.
func (s *MemoryStore) GetLatestTask(ctx context.Context) (*domain.DeployTask, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := s.tasksNewestFirstLocked()
	if len(ordered) == 0 {
		return nil, syerrors.ErrTaskNotFound
	}
	return ordered[0].Clone(), nil
}

// InsertReport persists an auxiliary metrics report.
func (s *MemoryStore) InsertReport(ctx context.Context, report *domain.DeployReport) error {
	if err := ctxutil.Canceled(ctx); err != nil {
		return err
	}
	if report == nil || report.ReportID == "" {
		return fmt.Errorf("report id %w", syerrors.ErrEmptyValue)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *report
	dup.Metrics = domain.CloneMetadata(report.Metrics)
	s.reports[report.ReportID] = &dup
	return nil
}

// GetReport retrieves a report by id.
func (s *MemoryStore) GetReport(ctx context.Context, reportID string) (*domain.DeployReport, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	report, ok := s.reports[reportID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", syerrors.ErrReportNotFound, reportID)
	}
	dup := *report
	dup.Metrics = domain.CloneMetadata(report.Metrics)
	return &dup, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctxutil.Canceled(ctx)
}

// tasksNewestFirstLocked orders all tasks newest started_at first.
// Callers must hold s.mu.
func (s *MemoryStore) tasksNewestFirstLocked() []*domain.DeployTask {
	insertionRank := make(map[string]int, len(s.order))
	for i, id := range s.order {
		insertionRank[id] = i
	}

	ordered := make([]*domain.DeployTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		ordered = append(ordered, task)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].StartedAt.Equal(ordered[j].StartedAt) {
			return ordered[i].StartedAt.After(ordered[j].StartedAt)
		}
		return insertionRank[ordered[i].TaskID] > insertionRank[ordered[j].TaskID]
	})
	return ordered
}

func cloneAll(tasks []*domain.DeployTask) []*domain.DeployTask {
	cloned := make([]*domain.DeployTask, len(tasks))
	for i, task := range tasks {
		cloned[i] = task.Clone()
	}
	return cloned
}

// Compile-time check that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
