package repo

import (
	"time"

	"main/internal/task"
)

// TaskRecord is the persisted form of a task. It is the only row type
// this system owns; everything observers see is derived from it.
type TaskRecord struct {
	TaskID      string     `gorm:"column:task_id;primaryKey"`
	QueueName   string     `gorm:"column:queue_name;index:idx_queue_status"`
	TaskType    string     `gorm:"column:task_type"`
	Status      string     `gorm:"column:status;index:idx_queue_status"`
	Priority    int        `gorm:"column:priority"`
	Payload     string     `gorm:"column:payload"`
	RetryCount  int        `gorm:"column:retry_count"`
	MaxRetries  int        `gorm:"column:max_retries"`
	CreatedAt   time.Time  `gorm:"column:created_at;index"`
	StartedAt   *time.Time `gorm:"column:started_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
	Error       string     `gorm:"column:error"`
}

func (TaskRecord) TableName() string {
	return "tasks"
}

func toRecord(t *task.Task) TaskRecord {
	return TaskRecord{
		TaskID:      t.TaskID,
		QueueName:   t.QueueName,
		TaskType:    t.TaskType,
		Status:      t.Status.String(),
		Priority:    t.Priority,
		Payload:     string(t.Payload),
		RetryCount:  t.RetryCount,
		MaxRetries:  t.MaxRetries,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
		Error:       t.Error,
	}
}

func fromRecord(r TaskRecord) *task.Task {
	status, ok := task.ParseStatus(r.Status)
	if !ok {
		status = task.StatusFailed
	}
	return &task.Task{
		TaskID:      r.TaskID,
		QueueName:   r.QueueName,
		TaskType:    r.TaskType,
		Status:      status,
		Priority:    r.Priority,
		Payload:     []byte(r.Payload),
		RetryCount:  r.RetryCount,
		MaxRetries:  r.MaxRetries,
		CreatedAt:   r.CreatedAt,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Error:       r.Error,
	}
}
