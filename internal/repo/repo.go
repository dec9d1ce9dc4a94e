package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"main/internal/schema"
	"main/internal/task"
)

var (
	// ErrStaleTransition means the row was not in the status the
	// transition requires. The write is dropped, never forced.
	ErrStaleTransition = errors.New("task not in expected status")
)

const defaultDegradedBelow = 0.5

// Repository is the single query/aggregation interface over persisted
// task state. Queue status is always computed fresh from task rows;
// there are no in-memory counters to drift.
type Repository struct {
	db            *gorm.DB
	knownQueues   []string
	degradedBelow float64
}

// Option tunes a Repository.
type Option func(*Repository)

// WithKnownQueues seeds status aggregation with queue names that must
// appear even before their first task.
func WithKnownQueues(names ...string) Option {
	return func(r *Repository) {
		r.knownQueues = append(r.knownQueues, names...)
	}
}

// WithDegradedBelow sets the success-rate floor under which an idle
// queue reports DEGRADED.
func WithDegradedBelow(rate float64) Option {
	return func(r *Repository) {
		r.degradedBelow = rate
	}
}

// New migrates the task table and returns a repository bound to db.
func New(db *gorm.DB, opts ...Option) (*Repository, error) {
	if err := db.AutoMigrate(&TaskRecord{}); err != nil {
		return nil, &schema.StoreError{Op: "migrate", Err: err}
	}
	r := &Repository{db: db, degradedBelow: defaultDegradedBelow}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Enqueue persists a new pending task.
func (r *Repository) Enqueue(ctx context.Context, t *task.Task) error {
	record := toRecord(t)
	if err := r.db.WithContext(ctx).Create(&record).Error; err != nil {
		return &schema.StoreError{Op: "enqueue", Err: err}
	}
	return nil
}

// NextPending returns the next runnable task for one queue, lowest
// priority value first, oldest first within a priority. Returns nil
// when the queue is drained.
func (r *Repository) NextPending(ctx context.Context, queueName string) (*task.Task, error) {
	var record TaskRecord
	err := r.db.WithContext(ctx).
		Where("queue_name = ? AND status = ?", queueName, task.StatusPending.String()).
		Order("priority ASC, created_at ASC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &schema.StoreError{Op: "next pending", Err: err}
	}
	return fromRecord(record), nil
}

// MarkRunning transitions PENDING -> RUNNING and stamps started_at.
func (r *Repository) MarkRunning(ctx context.Context, taskID string, startedAt time.Time) error {
	return r.transition(ctx, taskID, []string{task.StatusPending.String()}, map[string]any{
		"status":     task.StatusRunning.String(),
		"started_at": startedAt,
	})
}

// MarkCompleted transitions RUNNING -> COMPLETED.
func (r *Repository) MarkCompleted(ctx context.Context, taskID string, completedAt time.Time) error {
	return r.transition(ctx, taskID, []string{task.StatusRunning.String()}, map[string]any{
		"status":       task.StatusCompleted.String(),
		"completed_at": completedAt,
		"error":        "",
	})
}

// MarkFailed transitions a live task to terminal FAILED with the error
// message. PENDING is accepted so validation rejects can fail a task
// without ever starting it.
func (r *Repository) MarkFailed(ctx context.Context, taskID, message string, completedAt time.Time) error {
	live := []string{task.StatusPending.String(), task.StatusRunning.String()}
	return r.transition(ctx, taskID, live, map[string]any{
		"status":       task.StatusFailed.String(),
		"completed_at": completedAt,
		"error":        message,
	})
}

// MarkCancelled transitions a live task to terminal CANCELLED.
func (r *Repository) MarkCancelled(ctx context.Context, taskID, message string, completedAt time.Time) error {
	live := []string{task.StatusPending.String(), task.StatusRunning.String()}
	return r.transition(ctx, taskID, live, map[string]any{
		"status":       task.StatusCancelled.String(),
		"completed_at": completedAt,
		"error":        message,
	})
}

// RequeueForRetry transitions RUNNING -> PENDING with retry_count+1,
// clearing the start stamp so the retry is a fresh run.
func (r *Repository) RequeueForRetry(ctx context.Context, taskID, message string) error {
	return r.transition(ctx, taskID, []string{task.StatusRunning.String()}, map[string]any{
		"status":      task.StatusPending.String(),
		"retry_count": gorm.Expr("retry_count + 1"),
		"started_at":  nil,
		"error":       message,
	})
}

// FailStale force-fails RUNNING rows in one queue whose start stamp is
// older than the cutoff. Covers rows abandoned by a crashed run so the
// loop never stalls behind a phantom task.
func (r *Repository) FailStale(ctx context.Context, queueName string, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&TaskRecord{}).
		Where("queue_name = ? AND status = ? AND started_at < ?",
			queueName, task.StatusRunning.String(), cutoff).
		Updates(map[string]any{
			"status":       task.StatusFailed.String(),
			"completed_at": time.Now().UTC(),
			"error":        "execution timeout: stale running task",
		})
	if res.Error != nil {
		return 0, &schema.StoreError{Op: "fail stale", Err: res.Error}
	}
	return res.RowsAffected, nil
}

func (r *Repository) transition(ctx context.Context, taskID string, fromStatuses []string, updates map[string]any) error {
	res := r.db.WithContext(ctx).Model(&TaskRecord{}).
		Where("task_id = ? AND status IN ?", taskID, fromStatuses).
		Updates(updates)
	if res.Error != nil {
		return &schema.StoreError{Op: "transition", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return ErrStaleTransition
	}
	return nil
}

// Task fetches one task by ID.
func (r *Repository) Task(ctx context.Context, taskID string) (*task.Task, error) {
	var record TaskRecord
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&record).Error; err != nil {
		return nil, &schema.StoreError{Op: "get task", Err: err}
	}
	return fromRecord(record), nil
}

// PendingTasks lists up to limit pending tasks for one queue in
// execution order.
func (r *Repository) PendingTasks(ctx context.Context, queueName string, limit int) ([]*task.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []TaskRecord
	err := r.db.WithContext(ctx).
		Where("queue_name = ? AND status = ?", queueName, task.StatusPending.String()).
		Order("priority ASC, created_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, &schema.StoreError{Op: "pending tasks", Err: err}
	}
	return fromRecords(records), nil
}

// RunningTasks lists every RUNNING task across all queues. At most one
// per queue when the scheduler invariant holds.
func (r *Repository) RunningTasks(ctx context.Context) ([]*task.Task, error) {
	var records []TaskRecord
	err := r.db.WithContext(ctx).
		Where("status = ?", task.StatusRunning.String()).
		Order("queue_name ASC").
		Find(&records).Error
	if err != nil {
		return nil, &schema.StoreError{Op: "running tasks", Err: err}
	}
	return fromRecords(records), nil
}

// TaskHistory lists terminal tasks for one queue created within the
// window, newest first.
func (r *Repository) TaskHistory(ctx context.Context, queueName string, window time.Duration) ([]*task.Task, error) {
	terminal := []string{
		task.StatusCompleted.String(),
		task.StatusFailed.String(),
		task.StatusCancelled.String(),
	}
	var records []TaskRecord
	err := r.db.WithContext(ctx).
		Where("queue_name = ? AND status IN ? AND created_at >= ?",
			queueName, terminal, time.Now().UTC().Add(-window)).
		Order("created_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, &schema.StoreError{Op: "task history", Err: err}
	}
	return fromRecords(records), nil
}

func fromRecords(records []TaskRecord) []*task.Task {
	tasks := make([]*task.Task, 0, len(records))
	for _, record := range records {
		tasks = append(tasks, fromRecord(record))
	}
	return tasks
}
