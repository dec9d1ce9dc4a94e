package schema

import (
	"time"

	"github.com/google/uuid"
)

// EventType defines the category of an event on the in-memory bus.
type EventType uint8

const (
	_event_beg EventType = iota
	EventTaskQueued
	EventTaskStarted
	EventTaskCompleted
	EventTaskFailed
	EventTaskCancelled
	EventQueueStarted
	EventQueueStopped
	EventStatusChanged
	EventSnapshotReady
	EventBroadcastSent
	EventBroadcastSkipped
	EventMessagePushed
	EventAgentTriggered
	_event_end
)

// EventTypeCount is the number of valid event types.
const EventTypeCount = int(_event_end) - 1

func (t EventType) IsAvailable() bool {
	return t > _event_beg && t < _event_end
}

func (t EventType) String() string {
	switch t {
	case EventTaskQueued:
		return "task_queued"
	case EventTaskStarted:
		return "task_started"
	case EventTaskCompleted:
		return "task_completed"
	case EventTaskFailed:
		return "task_failed"
	case EventTaskCancelled:
		return "task_cancelled"
	case EventQueueStarted:
		return "queue_started"
	case EventQueueStopped:
		return "queue_stopped"
	case EventStatusChanged:
		return "status_changed"
	case EventSnapshotReady:
		return "snapshot_ready"
	case EventBroadcastSent:
		return "broadcast_sent"
	case EventBroadcastSkipped:
		return "broadcast_skipped"
	case EventMessagePushed:
		return "message_pushed"
	case EventAgentTriggered:
		return "agent_triggered"
	default:
		return "unknown"
	}
}

// Event is the unit passed through the in-memory bus. Immutable once
// published; NewEvent copies the data map so publishers cannot mutate
// an event in flight.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Source    string         `json:"source"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent builds an event with a fresh ID and the current timestamp.
func NewEvent(eventType EventType, source string, data map[string]any) Event {
	copied := make(map[string]any, len(data))
	for k, v := range data {
		copied[k] = v
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC().UnixNano(),
		Data:      copied,
	}
}
