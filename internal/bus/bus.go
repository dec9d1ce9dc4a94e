package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/yanun0323/logs"

	"main/internal/schema"
)

var (
	ErrBusClosed    = errors.New("event bus closed")
	ErrInvalidEvent = errors.New("invalid event type")
)

// Handler consumes one event. A handler error or panic is logged and
// isolated; it never reaches the publisher or the other handlers.
type Handler func(ctx context.Context, e schema.Event) error

// Subscription identifies one registered handler.
type Subscription struct {
	eventType schema.EventType
	id        uint64
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus is a typed publish/subscribe hub. It is constructed explicitly
// and passed to every dependent; there is no package-level instance.
type Bus struct {
	mu     sync.RWMutex
	subs   [schema.EventTypeCount + 1][]subscriber
	nextID uint64
	closed uint32
}

// New allocates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for one event type. Handlers for the
// same type run in registration order on publish.
func (b *Bus) Subscribe(eventType schema.EventType, handler Handler) (Subscription, error) {
	if !eventType.IsAvailable() {
		return Subscription{}, ErrInvalidEvent
	}
	if handler == nil {
		return Subscription{}, errors.New("nil handler")
	}
	if atomic.LoadUint32(&b.closed) != 0 {
		return Subscription{}, ErrBusClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID

	// Copy-on-write so an in-flight publish keeps iterating its own
	// snapshot of the list.
	current := b.subs[eventType]
	next := make([]subscriber, len(current), len(current)+1)
	copy(next, current)
	b.subs[eventType] = append(next, subscriber{id: id, handler: handler})

	return Subscription{eventType: eventType, id: id}, nil
}

// Unsubscribe removes a handler. Idempotent; unknown subscriptions are
// a no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	if !sub.eventType.IsAvailable() || sub.id == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.subs[sub.eventType]
	for i, s := range current {
		if s.id != sub.id {
			continue
		}
		next := make([]subscriber, 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		b.subs[sub.eventType] = next
		return
	}
}

// Publish delivers the event to every handler subscribed at call time,
// in registration order, and returns after all of them finish. Handler
// failures are logged per handler and never propagate.
func (b *Bus) Publish(ctx context.Context, e schema.Event) error {
	if atomic.LoadUint32(&b.closed) != 0 {
		return ErrBusClosed
	}
	if !e.Type.IsAvailable() {
		return ErrInvalidEvent
	}

	b.mu.RLock()
	snapshot := b.subs[e.Type]
	b.mu.RUnlock()

	for _, s := range snapshot {
		b.invoke(ctx, s, e)
	}
	return nil
}

func (b *Bus) invoke(ctx context.Context, s subscriber, e schema.Event) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("event handler panic, type: %s, sub: %d, recovered: %+v", e.Type, s.id, r)
		}
	}()

	if err := s.handler(ctx, e); err != nil {
		logs.Errorf("event handler failed, type: %s, sub: %d, err: %+v", e.Type, s.id, err)
	}
}

// SubscriberCount returns the number of handlers for one event type.
func (b *Bus) SubscriberCount(eventType schema.EventType) int {
	if !eventType.IsAvailable() {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

// Close stops the bus from accepting new subscriptions and publishes.
func (b *Bus) Close() {
	atomic.CompareAndSwapUint32(&b.closed, 0, 1)
}
