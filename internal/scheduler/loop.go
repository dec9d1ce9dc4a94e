package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/schema"
	"main/internal/task"
)

var errLoopCancelled = errors.New("queue loop cancelled")

// queueLoop executes one queue. A task must reach a terminal or
// requeued state before the next task in the same queue is pulled.
type queueLoop struct {
	cfg   QueueConfig
	store Store
	bus   *bus.Bus
	execs *executorRegistry
	sink  StoreErrorSink
}

func newQueueLoop(cfg QueueConfig, store Store, eventBus *bus.Bus, execs *executorRegistry, sink StoreErrorSink) *queueLoop {
	return &queueLoop{cfg: cfg, store: store, bus: eventBus, execs: execs, sink: sink}
}

func (l *queueLoop) run(ctx context.Context) {
	// Writes after cancellation still have to land: a stopping queue
	// may not abandon a RUNNING row.
	persistCtx := context.WithoutCancel(ctx)

	l.sweepStale(persistCtx)

	_ = l.bus.Publish(persistCtx, schema.NewEvent(schema.EventQueueStarted, "scheduler", map[string]any{
		"queue": l.cfg.Name,
	}))
	defer func() {
		_ = l.bus.Publish(persistCtx, schema.NewEvent(schema.EventQueueStopped, "scheduler", map[string]any{
			"queue": l.cfg.Name,
		}))
	}()

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.drain(ctx, persistCtx)
		}
	}
}

// drain pulls and runs tasks until the queue is empty, the store
// misbehaves, or the loop is cancelled. Store errors end the cycle
// early; the next tick retries.
func (l *queueLoop) drain(ctx, persistCtx context.Context) {
	for ctx.Err() == nil {
		next, err := l.store.NextPending(ctx, l.cfg.Name)
		if err != nil {
			l.sink.CountStoreError()
			logs.Errorf("pull next task, queue: %s, err: %+v", l.cfg.Name, err)
			return
		}
		if next == nil {
			return
		}
		l.runTask(ctx, persistCtx, next)
	}
}

func (l *queueLoop) runTask(ctx, persistCtx context.Context, t *task.Task) {
	if _, err := task.DecodePayload(t.Payload); err != nil {
		l.failTerminal(persistCtx, t, err.Error())
		return
	}
	exec, ok := l.execs.lookup(t.TaskType)
	if !ok {
		l.failTerminal(persistCtx, t, "validation: no executor registered for "+t.TaskType)
		return
	}

	startedAt := time.Now().UTC()
	if err := l.store.MarkRunning(persistCtx, t.TaskID, startedAt); err != nil {
		l.sink.CountStoreError()
		logs.Errorf("persist running, queue: %s, task: %s, err: %+v", l.cfg.Name, t.TaskID, err)
		return
	}
	_ = l.bus.Publish(persistCtx, schema.NewEvent(schema.EventTaskStarted, "scheduler", map[string]any{
		"task_id":   t.TaskID,
		"queue":     t.QueueName,
		"task_type": t.TaskType,
	}))

	err := l.execute(ctx, exec, t)
	elapsed := time.Since(startedAt)

	switch {
	case err == nil:
		if err := l.store.MarkCompleted(persistCtx, t.TaskID, time.Now().UTC()); err != nil {
			l.sink.CountStoreError()
			logs.Errorf("persist completed, task: %s, err: %+v", t.TaskID, err)
			return
		}
		_ = l.bus.Publish(persistCtx, schema.NewEvent(schema.EventTaskCompleted, "scheduler", map[string]any{
			"task_id":    t.TaskID,
			"queue":      t.QueueName,
			"task_type":  t.TaskType,
			"elapsed_ms": elapsed.Milliseconds(),
		}))

	case errors.Is(err, errLoopCancelled):
		if err := l.store.MarkCancelled(persistCtx, t.TaskID, "queue stopped", time.Now().UTC()); err != nil {
			l.sink.CountStoreError()
			logs.Errorf("persist cancelled, task: %s, err: %+v", t.TaskID, err)
			return
		}
		_ = l.bus.Publish(persistCtx, schema.NewEvent(schema.EventTaskCancelled, "scheduler", map[string]any{
			"task_id": t.TaskID,
			"queue":   t.QueueName,
		}))

	default:
		l.handleFailure(ctx, persistCtx, t, err)
	}
}

// execute runs the domain executor under the queue timeout. The
// executor runs on its own goroutine so a collaborator that ignores
// its context cannot stall the queue.
func (l *queueLoop) execute(ctx context.Context, exec Executor, t *task.Task) error {
	execCtx, cancel := context.WithTimeout(ctx, l.cfg.ExecTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &schema.ExecutionError{Err: schema.PanicError(r)}
			}
		}()
		done <- exec.Execute(execCtx, t)
	}()

	var err error
	select {
	case err = <-done:
	case <-execCtx.Done():
		err = execCtx.Err()
	}

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return errLoopCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return &schema.TimeoutError{Elapsed: l.cfg.ExecTimeout.String()}
	default:
		return err
	}
}

func (l *queueLoop) handleFailure(ctx, persistCtx context.Context, t *task.Task, execErr error) {
	retry := schema.Retryable(execErr) && t.RetryCount < t.MaxRetries

	if retry {
		l.backoff(ctx, t.RetryCount+1)
		if err := l.store.RequeueForRetry(persistCtx, t.TaskID, execErr.Error()); err != nil {
			l.sink.CountStoreError()
			logs.Errorf("requeue for retry, task: %s, err: %+v", t.TaskID, err)
			return
		}
	} else {
		if err := l.store.MarkFailed(persistCtx, t.TaskID, execErr.Error(), time.Now().UTC()); err != nil {
			l.sink.CountStoreError()
			logs.Errorf("persist failed, task: %s, err: %+v", t.TaskID, err)
			return
		}
	}

	_ = l.bus.Publish(persistCtx, schema.NewEvent(schema.EventTaskFailed, "scheduler", map[string]any{
		"task_id":     t.TaskID,
		"queue":       t.QueueName,
		"task_type":   t.TaskType,
		"error":       execErr.Error(),
		"retry_count": t.RetryCount,
		"will_retry":  retry,
	}))
}

func (l *queueLoop) failTerminal(persistCtx context.Context, t *task.Task, message string) {
	if err := l.store.MarkFailed(persistCtx, t.TaskID, message, time.Now().UTC()); err != nil {
		l.sink.CountStoreError()
		logs.Errorf("persist failed, task: %s, err: %+v", t.TaskID, err)
		return
	}
	_ = l.bus.Publish(persistCtx, schema.NewEvent(schema.EventTaskFailed, "scheduler", map[string]any{
		"task_id":     t.TaskID,
		"queue":       t.QueueName,
		"task_type":   t.TaskType,
		"error":       message,
		"retry_count": t.RetryCount,
		"will_retry":  false,
	}))
}

// backoff waits the exponential delay for the given attempt, cut short
// by cancellation. A cancelled backoff still requeues; only the wait is
// skipped.
func (l *queueLoop) backoff(ctx context.Context, attempt int) {
	delay := task.Backoff(attempt, l.cfg.BackoffBase, l.cfg.BackoffMax)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// sweepStale fails RUNNING rows left behind by an earlier crash so the
// loop starts from a consistent queue.
func (l *queueLoop) sweepStale(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-l.cfg.ExecTimeout)
	n, err := l.store.FailStale(ctx, l.cfg.Name, cutoff)
	if err != nil {
		l.sink.CountStoreError()
		logs.Errorf("sweep stale running, queue: %s, err: %+v", l.cfg.Name, err)
		return
	}
	if n > 0 {
		logs.Warnf("swept stale running tasks, queue: %s, count: %d", l.cfg.Name, n)
	}
}
