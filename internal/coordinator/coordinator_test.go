package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"main/internal/breaker"
	"main/internal/bus"
	"main/internal/obs"
	"main/internal/scheduler"
	"main/internal/schema"
	"main/internal/status"
	"main/internal/task"
)

type fakeCoordinator struct {
	name     string
	failInit bool
	log      *[]string
}

func (f *fakeCoordinator) Name() string { return f.name }

func (f *fakeCoordinator) Initialize(ctx context.Context) error {
	if f.failInit {
		return errors.New("init failed: " + f.name)
	}
	*f.log = append(*f.log, "init:"+f.name)
	return nil
}

func (f *fakeCoordinator) Cleanup() error {
	*f.log = append(*f.log, "cleanup:"+f.name)
	return nil
}

func TestRegistryInitializesInOrderAndCleansUpInReverse(t *testing.T) {
	var log []string
	r := NewRegistry(
		&fakeCoordinator{name: "queue", log: &log},
		&fakeCoordinator{name: "status", log: &log},
		&fakeCoordinator{name: "broadcast", log: &log},
	)

	require.NoError(t, r.Initialize(t.Context()))
	require.NoError(t, r.Cleanup())
	assert.Equal(t, []string{
		"init:queue", "init:status", "init:broadcast",
		"cleanup:broadcast", "cleanup:status", "cleanup:queue",
	}, log)
}

func TestRegistryRollsBackOnInitFailure(t *testing.T) {
	var log []string
	r := NewRegistry(
		&fakeCoordinator{name: "queue", log: &log},
		&fakeCoordinator{name: "status", log: &log},
		&fakeCoordinator{name: "broadcast", failInit: true, log: &log},
	)

	err := r.Initialize(t.Context())
	require.Error(t, err)
	assert.Equal(t, []string{
		"init:queue", "init:status",
		"cleanup:status", "cleanup:queue",
	}, log)
}

type nopStore struct{}

func (nopStore) Enqueue(ctx context.Context, t *task.Task) error { return nil }
func (nopStore) NextPending(ctx context.Context, queueName string) (*task.Task, error) {
	return nil, nil
}
func (nopStore) MarkRunning(ctx context.Context, taskID string, startedAt time.Time) error {
	return nil
}
func (nopStore) MarkCompleted(ctx context.Context, taskID string, completedAt time.Time) error {
	return nil
}
func (nopStore) MarkFailed(ctx context.Context, taskID, message string, completedAt time.Time) error {
	return nil
}
func (nopStore) MarkCancelled(ctx context.Context, taskID, message string, completedAt time.Time) error {
	return nil
}
func (nopStore) RequeueForRetry(ctx context.Context, taskID, message string) error { return nil }
func (nopStore) FailStale(ctx context.Context, queueName string, cutoff time.Time) (int64, error) {
	return 0, nil
}

func TestQueueCoordinatorRelaysTerminalEventsToStatus(t *testing.T) {
	eventBus := bus.New()
	metrics := obs.NewMetrics()
	sched := scheduler.New(nopStore{}, eventBus, nil)
	c := NewQueueCoordinator(sched, eventBus, metrics)

	var mu sync.Mutex
	var statusChanges []string
	_, err := eventBus.Subscribe(schema.EventStatusChanged, func(ctx context.Context, e schema.Event) error {
		mu.Lock()
		defer mu.Unlock()
		queue, _ := e.Data["queue"].(string)
		statusChanges = append(statusChanges, queue)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, c.Initialize(t.Context()))
	defer func() { require.NoError(t, c.Cleanup()) }()

	events := []schema.Event{
		schema.NewEvent(schema.EventTaskStarted, "scheduler", map[string]any{"queue": "data_fetcher"}),
		schema.NewEvent(schema.EventTaskCompleted, "scheduler", map[string]any{"queue": "data_fetcher"}),
		schema.NewEvent(schema.EventTaskFailed, "scheduler", map[string]any{"queue": "ai_analysis", "will_retry": true}),
		schema.NewEvent(schema.EventTaskFailed, "scheduler", map[string]any{"queue": "ai_analysis", "will_retry": false}),
	}
	for _, e := range events {
		require.NoError(t, eventBus.Publish(t.Context(), e))
	}

	mu.Lock()
	defer mu.Unlock()
	// started events do not signal a status change; terminal and retry
	// transitions do.
	assert.Equal(t, []string{"data_fetcher", "ai_analysis", "ai_analysis"}, statusChanges)

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(1), snap["tasks_completed"])
	assert.Equal(t, uint64(1), snap["tasks_failed"])
	assert.Equal(t, uint64(1), snap["tasks_retried"])
}

func TestStatusCoordinatorPublishesSnapshotOnChange(t *testing.T) {
	eventBus := bus.New()
	agg := status.NewAggregator(time.Second, status.SourceFunc{
		SourceName: "queues",
		Fn: func(ctx context.Context) (map[string]any, error) {
			return map[string]any{"data_fetcher": "idle"}, nil
		},
	})
	c := NewStatusCoordinator(agg, eventBus, time.Hour)

	got := make(chan status.Snapshot, 1)
	_, err := eventBus.Subscribe(schema.EventSnapshotReady, func(ctx context.Context, e schema.Event) error {
		if snap, ok := e.Data["snapshot"].(status.Snapshot); ok {
			select {
			case got <- snap:
			default:
			}
		}
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, c.Initialize(t.Context()))
	defer func() { require.NoError(t, c.Cleanup()) }()

	require.NoError(t, eventBus.Publish(t.Context(),
		schema.NewEvent(schema.EventStatusChanged, "test", map[string]any{"queue": "data_fetcher"})))

	select {
	case snap := <-got:
		assert.Equal(t, "idle", snap.Components["queues"]["data_fetcher"])
	default:
		t.Fatal("no snapshot published")
	}
}

type recordingTransport struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (r *recordingTransport) Push(ctx context.Context, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	return nil
}

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func TestBroadcastCoordinatorDeduplicatesSnapshots(t *testing.T) {
	eventBus := bus.New()
	transport := &recordingTransport{}
	bcast := status.NewBroadcaster(transport, breaker.New(breaker.Config{}), time.Second)
	c := NewBroadcastCoordinator(bcast, eventBus, obs.NewMetrics())

	require.NoError(t, c.Initialize(t.Context()))
	defer func() { require.NoError(t, c.Cleanup()) }()

	snap := status.Snapshot{
		Components:  map[string]map[string]any{"queues": {"data_fetcher": "idle"}},
		GeneratedAt: time.Now().UnixNano(),
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, eventBus.Publish(t.Context(),
			schema.NewEvent(schema.EventSnapshotReady, "test", map[string]any{"snapshot": snap})))
	}

	assert.Equal(t, 1, transport.count(), "unchanged snapshots must not be re-pushed")
}

type recordingEnqueuer struct {
	queue    string
	taskType string
	payload  []byte
}

func (r *recordingEnqueuer) Enqueue(ctx context.Context, queueName, taskType string, priority int, payload []byte) (*task.Task, error) {
	r.queue = queueName
	r.taskType = taskType
	r.payload = payload
	return task.New(queueName, taskType, priority, payload, 0), nil
}

func TestAgentCoordinatorEnqueuesFollowUpTask(t *testing.T) {
	eventBus := bus.New()
	enq := &recordingEnqueuer{}
	c := NewAgentCoordinator(enq, eventBus)

	require.NoError(t, c.Initialize(t.Context()))
	defer func() { require.NoError(t, c.Cleanup()) }()

	require.NoError(t, eventBus.Publish(t.Context(),
		schema.NewEvent(schema.EventAgentTriggered, "agent", map[string]any{
			"queue":     "ai_analysis",
			"task_type": "portfolio_review",
			"priority":  2,
			"payload":   map[string]any{"portfolio_id": "p-7"},
		})))

	assert.Equal(t, "ai_analysis", enq.queue)
	assert.Equal(t, "portfolio_review", enq.taskType)
	assert.Contains(t, string(enq.payload), "p-7")
}

func TestMessageCoordinatorPushesTaskUpdates(t *testing.T) {
	eventBus := bus.New()
	transport := &recordingTransport{}
	c := NewMessageCoordinator(transport, eventBus)

	require.NoError(t, c.Initialize(t.Context()))
	defer func() { require.NoError(t, c.Cleanup()) }()

	require.NoError(t, eventBus.Publish(t.Context(),
		schema.NewEvent(schema.EventTaskFailed, "scheduler", map[string]any{
			"task_id": "t-1",
			"queue":   "data_fetcher",
			"error":   "execution: upstream 503",
		})))

	require.Equal(t, 1, transport.count())
	assert.Contains(t, string(transport.payloads[0]), "task_update")
	assert.Contains(t, string(transport.payloads[0]), "t-1")
}
