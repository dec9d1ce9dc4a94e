package bus

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/schema"
)

func TestPublishDeliversInRegistrationOrder(t *testing.T) {
	b := New()

	var got []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		_, err := b.Subscribe(schema.EventTaskStarted, func(ctx context.Context, e schema.Event) error {
			got = append(got, name)
			return nil
		})
		require.NoError(t, err)
	}

	err := b.Publish(t.Context(), schema.NewEvent(schema.EventTaskStarted, "test", nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestPublishIsolatesHandlerFailure(t *testing.T) {
	b := New()

	_, err := b.Subscribe(schema.EventTaskFailed, func(ctx context.Context, e schema.Event) error {
		panic("first handler down")
	})
	require.NoError(t, err)

	delivered := false
	_, err = b.Subscribe(schema.EventTaskFailed, func(ctx context.Context, e schema.Event) error {
		delivered = true
		return errors.New("also failing, also absorbed")
	})
	require.NoError(t, err)

	err = b.Publish(t.Context(), schema.NewEvent(schema.EventTaskFailed, "test", nil))
	require.NoError(t, err)
	assert.True(t, delivered, "second handler should still run")
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()

	sub, err := b.Subscribe(schema.EventStatusChanged, func(ctx context.Context, e schema.Event) error {
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, b.SubscriberCount(schema.EventStatusChanged))

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount(schema.EventStatusChanged))
}

func TestSubscribeDuringPublishKeepsSnapshot(t *testing.T) {
	b := New()

	calls := 0
	_, err := b.Subscribe(schema.EventTaskCompleted, func(ctx context.Context, e schema.Event) error {
		calls++
		// Mutating the registry mid-publish must not affect this
		// delivery round.
		_, subErr := b.Subscribe(schema.EventTaskCompleted, func(ctx context.Context, e schema.Event) error {
			calls++
			return nil
		})
		return subErr
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish(t.Context(), schema.NewEvent(schema.EventTaskCompleted, "test", nil)))
	assert.Equal(t, 1, calls, "late subscriber must not see the in-flight event")

	// Second publish snapshots both handlers; the first one registers
	// yet another subscriber that again only joins later rounds.
	require.NoError(t, b.Publish(t.Context(), schema.NewEvent(schema.EventTaskCompleted, "test", nil)))
	assert.Equal(t, 3, calls)
}

func TestPublishConcurrentWithMutation(t *testing.T) {
	b := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sub, err := b.Subscribe(schema.EventTaskQueued, func(ctx context.Context, e schema.Event) error {
					return nil
				})
				if err != nil {
					return
				}
				_ = b.Publish(context.Background(), schema.NewEvent(schema.EventTaskQueued, "test", nil))
				b.Unsubscribe(sub)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, b.SubscriberCount(schema.EventTaskQueued))
}

func TestClosedBusRejectsPublish(t *testing.T) {
	b := New()
	b.Close()

	err := b.Publish(t.Context(), schema.NewEvent(schema.EventTaskQueued, "test", nil))
	assert.ErrorIs(t, err, ErrBusClosed)

	_, err = b.Subscribe(schema.EventTaskQueued, func(ctx context.Context, e schema.Event) error { return nil })
	assert.ErrorIs(t, err, ErrBusClosed)
}
