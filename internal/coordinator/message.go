package coordinator

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/schema"
	"main/internal/status"
)

// MessageCoordinator turns terminal task events into observer-facing
// messages on the push transport. It shares the transport with the
// broadcast domain but not the breaker: a lost message is not worth
// tripping snapshot delivery.
type MessageCoordinator struct {
	transport status.Transport
	bus       *bus.Bus

	subs []bus.Subscription
}

// NewMessageCoordinator wires the messaging domain.
func NewMessageCoordinator(transport status.Transport, eventBus *bus.Bus) *MessageCoordinator {
	return &MessageCoordinator{transport: transport, bus: eventBus}
}

func (c *MessageCoordinator) Name() string {
	return "message"
}

func (c *MessageCoordinator) Initialize(ctx context.Context) error {
	for _, eventType := range []schema.EventType{schema.EventTaskCompleted, schema.EventTaskFailed} {
		sub, err := c.bus.Subscribe(eventType, c.onTerminalTask)
		if err != nil {
			return errors.Wrap(err, "subscribe terminal task events")
		}
		c.subs = append(c.subs, sub)
	}
	return nil
}

func (c *MessageCoordinator) Cleanup() error {
	for _, sub := range c.subs {
		c.bus.Unsubscribe(sub)
	}
	c.subs = nil
	return nil
}

func (c *MessageCoordinator) onTerminalTask(ctx context.Context, e schema.Event) error {
	payload, err := sonic.Marshal(map[string]any{
		"kind":      "task_update",
		"event":     e.Type.String(),
		"task_id":   e.Data["task_id"],
		"queue":     e.Data["queue"],
		"task_type": e.Data["task_type"],
		"error":     e.Data["error"],
		"timestamp": e.Timestamp,
	})
	if err != nil {
		return errors.Wrap(err, "marshal task message")
	}

	if err := c.transport.Push(ctx, payload); err != nil {
		logs.Warnf("push task message, task: %v, err: %+v", e.Data["task_id"], err)
		return nil
	}

	return c.bus.Publish(ctx, schema.NewEvent(schema.EventMessagePushed, "message_coordinator", map[string]any{
		"task_id": e.Data["task_id"],
	}))
}
