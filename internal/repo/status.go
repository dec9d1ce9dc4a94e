package repo

import (
	"context"
	"sync"

	"main/internal/schema"
	"main/internal/task"
)

// Health is the derived condition of one queue.
type Health string

const (
	HealthIdle     Health = "IDLE"
	HealthRunning  Health = "RUNNING"
	HealthDegraded Health = "DEGRADED"
)

// QueueState is a point-in-time view of one queue, computed entirely
// from task rows. It is never stored.
type QueueState struct {
	Name          string  `json:"name"`
	Status        Health  `json:"status"`
	Pending       int64   `json:"pending"`
	Running       int64   `json:"running"`
	Completed     int64   `json:"completed"`
	Failed        int64   `json:"failed"`
	SuccessRate   float64 `json:"success_rate"`
	CurrentTaskID string  `json:"current_task_id,omitempty"`
	Error         string  `json:"error,omitempty"`
}

type statusCountRow struct {
	QueueName string
	Status    string
	Count     int64
}

type runningRow struct {
	QueueName string
	TaskID    string
}

// QueueStatus computes the state of one queue.
func (r *Repository) QueueStatus(ctx context.Context, queueName string) (QueueState, error) {
	states, err := r.queueStatuses(ctx, queueName)
	if err != nil {
		return QueueState{}, err
	}
	if state, ok := states[queueName]; ok {
		return state, nil
	}
	return QueueState{Name: queueName, Status: HealthIdle, SuccessRate: 1}, nil
}

// AllQueueStatuses computes the state of every queue with exactly two
// aggregate queries regardless of queue or task count: one grouped
// count and one running-task listing. The two branches run in parallel
// and a failed branch degrades its fields instead of failing the call.
func (r *Repository) AllQueueStatuses(ctx context.Context) (map[string]QueueState, error) {
	return r.queueStatuses(ctx, "")
}

func (r *Repository) queueStatuses(ctx context.Context, onlyQueue string) (map[string]QueueState, error) {
	var (
		wg         sync.WaitGroup
		counts     []statusCountRow
		countsErr  error
		running    []runningRow
		runningErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer recoverInto(&countsErr, "status counts")

		q := r.db.WithContext(ctx).Model(&TaskRecord{}).
			Select("queue_name, status, COUNT(*) AS count")
		if onlyQueue != "" {
			q = q.Where("queue_name = ?", onlyQueue)
		}
		if err := q.Group("queue_name").Group("status").Scan(&counts).Error; err != nil {
			countsErr = &schema.StoreError{Op: "status counts", Err: err}
		}
	}()
	go func() {
		defer wg.Done()
		defer recoverInto(&runningErr, "running tasks")

		q := r.db.WithContext(ctx).Model(&TaskRecord{}).
			Select("queue_name, task_id").
			Where("status = ?", task.StatusRunning.String())
		if onlyQueue != "" {
			q = q.Where("queue_name = ?", onlyQueue)
		}
		if err := q.Scan(&running).Error; err != nil {
			runningErr = &schema.StoreError{Op: "running tasks", Err: err}
		}
	}()
	wg.Wait()

	if countsErr != nil && runningErr != nil {
		return nil, countsErr
	}

	states := make(map[string]QueueState)
	ensure := func(name string) QueueState {
		if state, ok := states[name]; ok {
			return state
		}
		return QueueState{Name: name, Status: HealthIdle, SuccessRate: 1}
	}

	for _, name := range r.knownQueues {
		if onlyQueue != "" && name != onlyQueue {
			continue
		}
		states[name] = ensure(name)
	}

	for _, row := range counts {
		state := ensure(row.QueueName)
		status, ok := task.ParseStatus(row.Status)
		if !ok {
			continue
		}
		switch status {
		case task.StatusPending:
			state.Pending = row.Count
		case task.StatusRunning:
			state.Running = row.Count
		case task.StatusCompleted:
			state.Completed = row.Count
		case task.StatusFailed:
			state.Failed = row.Count
		}
		states[row.QueueName] = state
	}

	for _, row := range running {
		state := ensure(row.QueueName)
		state.CurrentTaskID = row.TaskID
		if countsErr != nil {
			state.Running = 1
		}
		states[row.QueueName] = state
	}

	for name, state := range states {
		states[name] = r.derive(state, countsErr, runningErr)
	}
	return states, nil
}

func (r *Repository) derive(state QueueState, countsErr, runningErr error) QueueState {
	attempts := state.Completed + state.Failed
	if attempts > 0 {
		state.SuccessRate = float64(state.Completed) / float64(attempts)
	} else {
		state.SuccessRate = 1
	}

	switch {
	case countsErr != nil:
		state.Status = HealthDegraded
		state.Error = countsErr.Error()
	case state.Running > 0:
		state.Status = HealthRunning
	case attempts > 0 && state.SuccessRate < r.degradedBelow:
		state.Status = HealthDegraded
	default:
		state.Status = HealthIdle
	}

	if runningErr != nil {
		state.Error = runningErr.Error()
	}
	return state
}

func recoverInto(dst *error, op string) {
	if rec := recover(); rec != nil {
		*dst = &schema.StoreError{Op: op, Err: schema.PanicError(rec)}
	}
}
