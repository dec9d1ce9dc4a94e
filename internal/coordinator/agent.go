package coordinator

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/schema"
	"main/internal/task"
)

// Enqueuer accepts new tasks. Satisfied by the scheduler.
type Enqueuer interface {
	Enqueue(ctx context.Context, queueName, taskType string, priority int, payload []byte) (*task.Task, error)
}

// AgentCoordinator is the single inbound bridge from domain agent
// events to the task substrate: an agent trigger becomes an enqueued
// task, nothing more.
type AgentCoordinator struct {
	enqueuer Enqueuer
	bus      *bus.Bus

	subs []bus.Subscription
}

// NewAgentCoordinator wires the agent domain.
func NewAgentCoordinator(enqueuer Enqueuer, eventBus *bus.Bus) *AgentCoordinator {
	return &AgentCoordinator{enqueuer: enqueuer, bus: eventBus}
}

func (c *AgentCoordinator) Name() string {
	return "agent"
}

func (c *AgentCoordinator) Initialize(ctx context.Context) error {
	sub, err := c.bus.Subscribe(schema.EventAgentTriggered, c.onTrigger)
	if err != nil {
		return errors.Wrap(err, "subscribe agent triggered")
	}
	c.subs = append(c.subs, sub)
	return nil
}

func (c *AgentCoordinator) Cleanup() error {
	for _, sub := range c.subs {
		c.bus.Unsubscribe(sub)
	}
	c.subs = nil
	return nil
}

func (c *AgentCoordinator) onTrigger(ctx context.Context, e schema.Event) error {
	queue, _ := e.Data["queue"].(string)
	taskType, _ := e.Data["task_type"].(string)
	if queue == "" || taskType == "" {
		return errors.Errorf("agent trigger missing queue or task_type, data: %+v", e.Data)
	}

	priority := 0
	switch v := e.Data["priority"].(type) {
	case int:
		priority = v
	case float64:
		priority = int(v)
	}

	payload, err := sonic.Marshal(e.Data["payload"])
	if err != nil {
		return errors.Wrap(err, "marshal agent payload")
	}

	t, err := c.enqueuer.Enqueue(ctx, queue, taskType, priority, payload)
	if err != nil {
		return errors.Wrap(err, "enqueue agent task")
	}
	logs.Infof("agent task enqueued, queue: %s, task: %s", queue, t.TaskID)
	return nil
}
