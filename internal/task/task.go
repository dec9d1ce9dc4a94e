package task

import (
	"time"

	"github.com/google/uuid"
)

// Status tracks the persisted lifecycle of a task.
type Status uint8

const (
	_status_beg Status = iota
	StatusPending
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
	_status_end
)

func (s Status) IsAvailable() bool {
	return s > _status_beg && s < _status_end
}

// IsTerminal reports whether a task in this status will never run again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusRunning:
		return "RUNNING"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// ParseStatus maps a persisted status string back to its enum value.
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "PENDING":
		return StatusPending, true
	case "RUNNING":
		return StatusRunning, true
	case "COMPLETED":
		return StatusCompleted, true
	case "FAILED":
		return StatusFailed, true
	case "CANCELLED":
		return StatusCancelled, true
	default:
		return 0, false
	}
}

// Task is a unit of work with a persisted lifecycle. A task belongs to
// exactly one queue and is mutated only by the scheduler.
type Task struct {
	TaskID      string
	QueueName   string
	TaskType    string
	Status      Status
	Priority    int
	Payload     []byte
	RetryCount  int
	MaxRetries  int
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
}

// New builds a pending task with a fresh ID. Lower priority values run
// first within a queue.
func New(queueName, taskType string, priority int, payload []byte, maxRetries int) *Task {
	return &Task{
		TaskID:     uuid.NewString(),
		QueueName:  queueName,
		TaskType:   taskType,
		Status:     StatusPending,
		Priority:   priority,
		Payload:    payload,
		MaxRetries: maxRetries,
		CreatedAt:  time.Now().UTC(),
	}
}
