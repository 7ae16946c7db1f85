package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mrz1836/switchyard/internal/clock"
	"github.com/mrz1836/switchyard/internal/constants"
	"github.com/mrz1836/switchyard/internal/ctxutil"
	"github.com/mrz1836/switchyard/internal/domain"
	syerrors "github.com/mrz1836/switchyard/internal/errors"
)

// Collection names.
const (
	tasksCollection   = "deploy_tasks"
	reportsCollection = "deploy_reports"
)

// MongoStore persists tasks and reports in MongoDB. Append-metadata is
// flattened into dotted $set paths so nested mappings merge recursively
// server-side, matching the deep-merge contract.
type MongoStore struct {
	clock   clock.Clock
	tasks   *mongo.Collection
	reports *mongo.Collection
	client  *mongo.Client
}

// NewMongoStore builds a store on an existing database handle.
func NewMongoStore(db *mongo.Database, clk clock.Clock) *MongoStore {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &MongoStore{
		clock:   clk,
		tasks:   db.Collection(tasksCollection),
		reports: db.Collection(reportsCollection),
		client:  db.Client(),
	}
}

// ConnectMongoStore dials MongoDB and returns a ready store.
func ConnectMongoStore(ctx context.Context, uri, database string, clk clock.Clock) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, syerrors.Wrap(err, "failed to connect to mongodb")
	}
	return NewMongoStore(client.Database(database), clk), nil
}

// EnsureIndexes creates the query indexes used by the engine.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.tasks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "started_at", Value: -1}}},
		{Keys: bson.D{{Key: "metadata.branch", Value: 1}, {Key: "completed_at", Value: -1}}},
	})
	if err != nil {
		return syerrors.Wrap(err, "failed to create task indexes")
	}
	_, err = s.reports.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "task_id", Value: 1}},
	})
	return syerrors.Wrap(err, "failed to create report index")
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// CreateTask persists a new pending task.
func (s *MongoStore) CreateTask(ctx context.Context, create domain.DeployTaskCreate) (*domain.DeployTask, error) {
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
		Metadata:  create.Metadata,
	}
	if task.Metadata == nil {
		task.Metadata = domain.Metadata{}
	}

	if _, err := s.tasks.InsertOne(ctx, task); err != nil {
		return nil, syerrors.Wrapf(err, "failed to create task %s", create.TaskID)
	}
	return task.Clone(), nil
}

// GetTask retrieves a task by id.
func (s *MongoStore) GetTask(ctx context.Context, taskID string) (*domain.DeployTask, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}

	var task domain.DeployTask
	err := s.tasks.FindOne(ctx, bson.M{"_id": taskID}).Decode(&task)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: %s", syerrors.ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, syerrors.Wrapf(err, "failed to get task %s", taskID)
	}
	normalizeTask(&task)
	return &task, nil
}

// UpdateTask applies an atomic mutation via a single findOneAndUpdate.
func (s *MongoStore) UpdateTask(ctx context.Context, taskID string, update domain.DeployTaskUpdate) (*domain.DeployTask, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}
	if update.IsZero() {
		return s.GetTask(ctx, taskID)
	}

	set := bson.M{}
	if update.Status != "" {
		set["status"] = string(update.Status)
	}
	if update.ErrorLog != nil {
		set["error_log"] = *update.ErrorLog
	}
	if update.CompletedAt != nil {
		set["completed_at"] = update.CompletedAt.UTC()
	}
	if len(update.Metadata) > 0 {
		set["metadata"] = update.Metadata
	}
	for key, value := range flattenMetadata(update.AppendMetadata, "metadata") {
		set[key] = value
	}

	after := options.After
	var task domain.DeployTask
	err := s.tasks.FindOneAndUpdate(
		ctx,
		bson.M{"_id": taskID},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(after),
	).Decode(&task)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: %s", syerrors.ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, syerrors.Wrapf(err, "failed to update task %s", taskID)
	}
	normalizeTask(&task)
	return &task, nil
}

// MarkStatus sets the status and stamps completed_at on terminal states.
func (s *MongoStore) MarkStatus(ctx context.Context, taskID string, status constants.DeployStatus, errorLog string) (*domain.DeployTask, error) {
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
func (s *MongoStore) GetRecentSuccesses(ctx context.Context, branch string, limit int) ([]*domain.DeployTask, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", syerrors.ErrInvalidLimit, limit)
	}
	filter := bson.M{
		"status":          string(constants.StatusCompleted),
		"metadata.branch": branch,
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "completed_at", Value: -1}}).
		SetLimit(int64(limit))
	return s.findTasks(ctx, filter, opts)
}

// GetRecentTasks returns tasks newest first by started_at.
func (s *MongoStore) GetRecentTasks(ctx context.Context, limit int) ([]*domain.DeployTask, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: %d", syerrors.ErrInvalidLimit, limit)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	return s.findTasks(ctx, bson.M{}, opts)
}

// GetLatestTask returns the most recently started task.
func (s *MongoStore) GetLatestTask(ctx context.Context) (*domain.DeployTask, error) {
	tasks, err := s.GetRecentTasks(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, syerrors.ErrTaskNotFound
	}
	return tasks[0], nil
}

// InsertReport persists an auxiliary metrics report.
func (s *MongoStore) InsertReport(ctx context.Context, report *domain.DeployReport) error {
	if report == nil || report.ReportID == "" {
		return fmt.Errorf("report id %w", syerrors.ErrEmptyValue)
	}
	_, err := s.reports.InsertOne(ctx, report)
	return syerrors.Wrapf(err, "failed to insert report %s", report.ReportID)
}

// GetReport retrieves a report by id.
func (s *MongoStore) GetReport(ctx context.Context, reportID string) (*domain.DeployReport, error) {
	var report domain.DeployReport
	err := s.reports.FindOne(ctx, bson.M{"_id": reportID}).Decode(&report)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%w: %s", syerrors.ErrReportNotFound, reportID)
	}
	if err != nil {
		return nil, syerrors.Wrapf(err, "failed to get report %s", reportID)
	}
	report.Metrics = normalizeValue(report.Metrics).(map[string]any)
	return &report, nil
}

// Ping reports whether the backing deployment answers.
func (s *MongoStore) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.client.Ping(pingCtx, nil); err != nil {
		return fmt.Errorf("%w: %s", syerrors.ErrStoreUnavailable, err.Error())
	}
	return nil
}

func (s *MongoStore) findTasks(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domain.DeployTask, error) {
	if err := ctxutil.Canceled(ctx); err != nil {
		return nil, err
	}

	cursor, err := s.tasks.Find(ctx, filter, opts)
	if err != nil {
		return nil, syerrors.Wrap(err, "failed to query tasks")
	}
	defer func() { _ = cursor.Close(ctx) }()

	var tasks []*domain.DeployTask
	for cursor.Next(ctx) {
		var task domain.DeployTask
		if err := cursor.Decode(&task); err != nil {
			return nil, syerrors.Wrap(err, "failed to decode task")
		}
		normalizeTask(&task)
		tasks = append(tasks, &task)
	}
	if err := cursor.Err(); err != nil {
		return nil, syerrors.Wrap(err, "task cursor failed")
	}
	return tasks, nil
}

// flattenMetadata converts a nested mapping into dotted $set paths so
// MongoDB merges rather than replaces sibling keys. Scalar leaves and
// lists are set wholesale.
func flattenMetadata(values domain.Metadata, prefix string) map[string]any {
	flattened := make(map[string]any)
	for key, value := range values {
		fullKey := prefix + "." + key
		if child, ok := value.(map[string]any); ok && len(child) > 0 {
			for k, v := range flattenMetadata(child, fullKey) {
				flattened[k] = v
			}
			continue
		}
		flattened[fullKey] = value
	}
	return flattened
}

// normalizeTask rewrites driver-specific container types (primitive.M,
// primitive.A, primitive.DateTime) into the plain map/slice/time shapes
// the domain helpers expect.
func normalizeTask(task *domain.DeployTask) {
	if task.Metadata != nil {
		task.Metadata = normalizeValue(task.Metadata).(map[string]any)
	}
}

func normalizeValue(value any) any {
	switch typed := value.(type) {
	case primitive.M:
		normalized := make(map[string]any, len(typed))
		for k, v := range typed {
			normalized[k] = normalizeValue(v)
		}
		return normalized
	case map[string]any:
		normalized := make(map[string]any, len(typed))
		for k, v := range typed {
			normalized[k] = normalizeValue(v)
		}
		return normalized
	case primitive.A:
		normalized := make([]any, len(typed))
		for i, v := range typed {
			normalized[i] = normalizeValue(v)
		}
		return normalized
	case []any:
		normalized := make([]any, len(typed))
		for i, v := range typed {
			normalized[i] = normalizeValue(v)
		}
		return normalized
	case primitive.DateTime:
		return typed.Time().UTC()
	case int32:
		return int(typed)
	case int64:
		return int(typed)
	default:
		return value
	}
}

// Compile-time check that MongoStore implements Store.
var _ Store = (*MongoStore)(nil)
