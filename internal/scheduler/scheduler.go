package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/schema"
	"main/internal/task"
)

var (
	ErrUnknownQueue   = errors.New("unknown queue")
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrNotRunning     = errors.New("scheduler not running")
)

// Store is the slice of the repository the scheduler needs. Every task
// mutation goes through it; the scheduler keeps no task state of its
// own.
type Store interface {
	Enqueue(ctx context.Context, t *task.Task) error
	NextPending(ctx context.Context, queueName string) (*task.Task, error)
	MarkRunning(ctx context.Context, taskID string, startedAt time.Time) error
	MarkCompleted(ctx context.Context, taskID string, completedAt time.Time) error
	MarkFailed(ctx context.Context, taskID, message string, completedAt time.Time) error
	MarkCancelled(ctx context.Context, taskID, message string, completedAt time.Time) error
	RequeueForRetry(ctx context.Context, taskID, message string) error
	FailStale(ctx context.Context, queueName string, cutoff time.Time) (int64, error)
}

// StoreErrorSink observes repository failures seen by the queue loops
// and the enqueue path. Satisfied by obs.Metrics.
type StoreErrorSink interface {
	CountStoreError()
}

type nopSink struct{}

func (nopSink) CountStoreError() {}

// Option tunes a Scheduler.
type Option func(*Scheduler)

// WithStoreErrorSink routes store failure counts to sink.
func WithStoreErrorSink(sink StoreErrorSink) Option {
	return func(s *Scheduler) {
		s.sink = sink
	}
}

// QueueConfig defines one named execution lane.
type QueueConfig struct {
	Name         string
	ExecTimeout  time.Duration
	PollInterval time.Duration
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.ExecTimeout <= 0 {
		c.ExecTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 200 * time.Millisecond
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = task.DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = task.DefaultBackoffMax
	}
	return c
}

// Scheduler runs one independent execution loop per named queue.
// Within a queue tasks run strictly one at a time in priority order;
// across queues the loops share nothing but the store. Both halves of
// that shape are load-bearing: sequential-within-queue bounds write
// contention on the store, parallel-across-queues keeps one slow queue
// from starving the rest.
type Scheduler struct {
	store Store
	bus   *bus.Bus
	execs *executorRegistry
	sink  StoreErrorSink

	mu     sync.Mutex
	loops  map[string]*queueLoop
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a scheduler with one loop per queue config. Queues start
// on Start, not on construction.
func New(store Store, eventBus *bus.Bus, queues []QueueConfig, opts ...Option) *Scheduler {
	s := &Scheduler{
		store: store,
		bus:   eventBus,
		execs: newExecutorRegistry(),
		sink:  nopSink{},
		loops: make(map[string]*queueLoop, len(queues)),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, cfg := range queues {
		cfg = cfg.withDefaults()
		s.loops[cfg.Name] = newQueueLoop(cfg, store, eventBus, s.execs, s.sink)
	}
	return s
}

// RegisterExecutor binds a domain executor to a task type. Tasks of an
// unregistered type fail terminally at pickup.
func (s *Scheduler) RegisterExecutor(taskType string, exec Executor) {
	s.execs.register(taskType, exec)
}

// QueueNames lists the configured queues.
func (s *Scheduler) QueueNames() []string {
	names := make([]string, 0, len(s.loops))
	for name := range s.loops {
		names = append(names, name)
	}
	return names
}

// Enqueue validates and persists a new task, then announces it. The
// payload must be valid JSON; anything else is rejected up front.
func (s *Scheduler) Enqueue(ctx context.Context, queueName, taskType string, priority int, payload []byte) (*task.Task, error) {
	loop, ok := s.loops[queueName]
	if !ok {
		return nil, errors.Wrap(ErrUnknownQueue, queueName)
	}
	if _, err := task.DecodePayload(payload); err != nil {
		return nil, err
	}

	t := task.New(queueName, taskType, priority, payload, loop.cfg.MaxRetries)
	if err := s.store.Enqueue(ctx, t); err != nil {
		s.sink.CountStoreError()
		return nil, err
	}

	_ = s.bus.Publish(ctx, schema.NewEvent(schema.EventTaskQueued, "scheduler", map[string]any{
		"task_id":   t.TaskID,
		"queue":     t.QueueName,
		"task_type": t.TaskType,
		"priority":  t.Priority,
	}))
	return t, nil
}

// Start launches every queue loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, loop := range s.loops {
		s.wg.Add(1)
		go func(l *queueLoop) {
			defer s.wg.Done()
			l.run(runCtx)
		}(loop)
	}
	logs.Infof("scheduler started, queues: %d", len(s.loops))
	return nil
}

// Stop cancels every loop and waits for the in-flight tasks to reach a
// terminal or requeued state. No RUNNING row survives a clean stop.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return ErrNotRunning
	}
	cancel()
	s.wg.Wait()
	logs.Info("scheduler stopped")
	return nil
}
