package coordinator

import (
	"context"

	"github.com/yanun0323/errors"

	"main/internal/bus"
	"main/internal/obs"
	"main/internal/scheduler"
	"main/internal/schema"
)

// QueueCoordinator owns the scheduler lifecycle and relays task
// lifecycle events into status signals. It is the only coordinator
// that starts or stops queue loops.
type QueueCoordinator struct {
	sched   *scheduler.Scheduler
	bus     *bus.Bus
	metrics *obs.Metrics

	subs []bus.Subscription
}

// NewQueueCoordinator wires the scheduler domain.
func NewQueueCoordinator(sched *scheduler.Scheduler, eventBus *bus.Bus, metrics *obs.Metrics) *QueueCoordinator {
	return &QueueCoordinator{sched: sched, bus: eventBus, metrics: metrics}
}

func (c *QueueCoordinator) Name() string {
	return "queue"
}

func (c *QueueCoordinator) Initialize(ctx context.Context) error {
	lifecycleTypes := []schema.EventType{
		schema.EventTaskQueued,
		schema.EventTaskStarted,
		schema.EventTaskCompleted,
		schema.EventTaskFailed,
		schema.EventTaskCancelled,
	}
	for _, eventType := range lifecycleTypes {
		sub, err := c.bus.Subscribe(eventType, c.onTaskEvent)
		if err != nil {
			return errors.Wrap(err, "subscribe task events")
		}
		c.subs = append(c.subs, sub)
	}

	if err := c.sched.Start(ctx); err != nil {
		return errors.Wrap(err, "start scheduler")
	}
	return nil
}

func (c *QueueCoordinator) Cleanup() error {
	err := c.sched.Stop()
	for _, sub := range c.subs {
		c.bus.Unsubscribe(sub)
	}
	c.subs = nil
	if err != nil && err != scheduler.ErrNotRunning {
		return errors.Wrap(err, "stop scheduler")
	}
	return nil
}

// onTaskEvent counts the event and turns terminal transitions into a
// queue-level status change signal.
func (c *QueueCoordinator) onTaskEvent(ctx context.Context, e schema.Event) error {
	c.metrics.CountEvent(e.Type)

	switch e.Type {
	case schema.EventTaskCompleted:
		c.metrics.CountTaskCompleted()
	case schema.EventTaskCancelled:
		c.metrics.CountTaskCancelled()
	case schema.EventTaskFailed:
		if willRetry, _ := e.Data["will_retry"].(bool); willRetry {
			c.metrics.CountTaskRetried()
		} else {
			c.metrics.CountTaskFailed()
		}
	default:
		return nil
	}

	return c.bus.Publish(ctx, schema.NewEvent(schema.EventStatusChanged, "queue_coordinator", map[string]any{
		"queue": e.Data["queue"],
	}))
}
