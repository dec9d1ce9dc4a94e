package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/bus"
	"main/internal/schema"
	"main/internal/status"
)

// StatusCoordinator owns aggregation. It reacts to queue status
// changes and also polls on an interval so observers converge even
// when no task events fire.
type StatusCoordinator struct {
	agg      *status.Aggregator
	bus      *bus.Bus
	interval time.Duration

	subs   []bus.Subscription
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStatusCoordinator wires the aggregation domain.
func NewStatusCoordinator(agg *status.Aggregator, eventBus *bus.Bus, interval time.Duration) *StatusCoordinator {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &StatusCoordinator{agg: agg, bus: eventBus, interval: interval}
}

func (c *StatusCoordinator) Name() string {
	return "status"
}

func (c *StatusCoordinator) Initialize(ctx context.Context) error {
	sub, err := c.bus.Subscribe(schema.EventStatusChanged, func(ctx context.Context, e schema.Event) error {
		return c.publishSnapshot(ctx)
	})
	if err != nil {
		return errors.Wrap(err, "subscribe status changed")
	}
	c.subs = append(c.subs, sub)

	pollCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go c.poll(pollCtx)
	return nil
}

func (c *StatusCoordinator) Cleanup() error {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.wg.Wait()
	for _, sub := range c.subs {
		c.bus.Unsubscribe(sub)
	}
	c.subs = nil
	return nil
}

func (c *StatusCoordinator) poll(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.publishSnapshot(ctx)
		}
	}
}

func (c *StatusCoordinator) publishSnapshot(ctx context.Context) error {
	snap := c.agg.Aggregate(ctx)
	return c.bus.Publish(ctx, schema.NewEvent(schema.EventSnapshotReady, "status_coordinator", map[string]any{
		"snapshot": snap,
	}))
}
