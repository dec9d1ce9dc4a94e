package coordinator

import (
	"context"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/obs"
	"main/internal/schema"
	"main/internal/status"
)

// BroadcastCoordinator pushes ready snapshots to observers through the
// breaker-guarded broadcaster. Broadcast failures are counted and
// logged, never propagated.
type BroadcastCoordinator struct {
	bcast   *status.Broadcaster
	bus     *bus.Bus
	metrics *obs.Metrics

	subs []bus.Subscription
}

// NewBroadcastCoordinator wires the broadcast domain.
func NewBroadcastCoordinator(bcast *status.Broadcaster, eventBus *bus.Bus, metrics *obs.Metrics) *BroadcastCoordinator {
	return &BroadcastCoordinator{bcast: bcast, bus: eventBus, metrics: metrics}
}

func (c *BroadcastCoordinator) Name() string {
	return "broadcast"
}

func (c *BroadcastCoordinator) Initialize(ctx context.Context) error {
	sub, err := c.bus.Subscribe(schema.EventSnapshotReady, c.onSnapshot)
	if err != nil {
		return errors.Wrap(err, "subscribe snapshot ready")
	}
	c.subs = append(c.subs, sub)
	return nil
}

func (c *BroadcastCoordinator) Cleanup() error {
	for _, sub := range c.subs {
		c.bus.Unsubscribe(sub)
	}
	c.subs = nil
	return nil
}

func (c *BroadcastCoordinator) onSnapshot(ctx context.Context, e schema.Event) error {
	snap, ok := e.Data["snapshot"].(status.Snapshot)
	if !ok {
		return errors.New("snapshot event without snapshot payload")
	}

	result, err := c.bcast.Broadcast(ctx, snap)
	c.metrics.CountBroadcast(result.String())
	if err != nil {
		logs.Warnf("broadcast snapshot, result: %s, err: %+v", result, err)
		return nil
	}

	switch result {
	case status.ResultSent:
		_ = c.bus.Publish(ctx, schema.NewEvent(schema.EventBroadcastSent, "broadcast_coordinator", map[string]any{
			"generated_at": snap.GeneratedAt,
		}))
	case status.ResultSkippedUnchanged, status.ResultShortCircuited:
		_ = c.bus.Publish(ctx, schema.NewEvent(schema.EventBroadcastSkipped, "broadcast_coordinator", map[string]any{
			"reason": result.String(),
		}))
	}
	return nil
}
