package status

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"main/internal/breaker"
)

func staticSource(name string, data map[string]any) Source {
	return SourceFunc{
		SourceName: name,
		Fn: func(ctx context.Context) (map[string]any, error) {
			return data, nil
		},
	}
}

func TestAggregateIsolatesFailingSource(t *testing.T) {
	agg := NewAggregator(time.Second,
		staticSource("queues", map[string]any{"data_fetcher": "idle"}),
		SourceFunc{SourceName: "broken", Fn: func(ctx context.Context) (map[string]any, error) {
			return nil, errors.New("store unreachable")
		}},
		SourceFunc{SourceName: "panicky", Fn: func(ctx context.Context) (map[string]any, error) {
			panic("source bug")
		}},
	)

	snap := agg.Aggregate(t.Context())
	require.Len(t, snap.Components, 3)
	assert.Equal(t, "idle", snap.Components["queues"]["data_fetcher"])
	assert.Equal(t, "degraded", snap.Components["broken"]["status"])
	assert.Equal(t, "degraded", snap.Components["panicky"]["status"])
	assert.Contains(t, snap.Components["panicky"]["error"], "panic")
}

func TestSnapshotHashIgnoresGenerationStamp(t *testing.T) {
	components := map[string]map[string]any{
		"queues": {"data_fetcher": "idle", "ai_analysis": "running"},
	}
	a := Snapshot{Components: components, GeneratedAt: 1}
	b := Snapshot{Components: components, GeneratedAt: 2}
	assert.Equal(t, a.Hash(), b.Hash())

	c := Snapshot{Components: map[string]map[string]any{
		"queues": {"data_fetcher": "running", "ai_analysis": "running"},
	}}
	assert.NotEqual(t, a.Hash(), c.Hash())
}

type fakeTransport struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeTransport) Push(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errors.New("connection reset")
	}
	return nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTransport) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = fail
}

func snapshotN(n int) Snapshot {
	return Snapshot{
		Components:  map[string]map[string]any{"queues": {"completed": n}},
		GeneratedAt: time.Now().UnixNano(),
	}
}

func TestBroadcastSkipsUnchangedSnapshot(t *testing.T) {
	transport := &fakeTransport{}
	b := NewBroadcaster(transport, breaker.New(breaker.Config{}), time.Second)

	res, err := b.Broadcast(t.Context(), snapshotN(1))
	require.NoError(t, err)
	require.Equal(t, ResultSent, res)

	res, err = b.Broadcast(t.Context(), snapshotN(1))
	require.NoError(t, err)
	assert.Equal(t, ResultSkippedUnchanged, res)
	assert.Equal(t, 1, transport.callCount())

	res, err = b.Broadcast(t.Context(), snapshotN(2))
	require.NoError(t, err)
	assert.Equal(t, ResultSent, res)
	assert.Equal(t, 2, transport.callCount())
}

func TestBroadcastShortCircuitsWhileOpen(t *testing.T) {
	transport := &fakeTransport{fail: true}
	now := time.Unix(1_700_000_000, 0)
	brk := breaker.New(breaker.Config{
		FailureThreshold: 5,
		Cooldown:         60 * time.Second,
		SuccessThreshold: 3,
	}, breaker.WithClock(func() time.Time { return now }))
	b := NewBroadcaster(transport, brk, time.Second)

	for i := 0; i < 5; i++ {
		res, err := b.Broadcast(t.Context(), snapshotN(i))
		require.Error(t, err)
		require.Equal(t, ResultFailed, res)
	}
	require.Equal(t, breaker.StateOpen, brk.State())
	require.Equal(t, 5, transport.callCount())

	// Within the cooldown every attempt short-circuits with zero
	// transport I/O.
	for i := 10; i < 13; i++ {
		res, err := b.Broadcast(t.Context(), snapshotN(i))
		require.NoError(t, err)
		require.Equal(t, ResultShortCircuited, res)
	}
	assert.Equal(t, 5, transport.callCount())

	transport.setFail(false)
	now = now.Add(61 * time.Second)
	for i := 20; i < 23; i++ {
		res, err := b.Broadcast(t.Context(), snapshotN(i))
		require.NoError(t, err)
		require.Equal(t, ResultSent, res)
	}
	assert.Equal(t, breaker.StateClosed, brk.State())
}

func TestConcurrentBroadcastsOfSameSnapshotSendOnce(t *testing.T) {
	transport := &fakeTransport{}
	b := NewBroadcaster(transport, breaker.New(breaker.Config{}), time.Second)
	snap := snapshotN(1)

	var wg sync.WaitGroup
	results := make([]Result, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := b.Broadcast(context.Background(), snap)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, transport.callCount())
	sent := 0
	for _, res := range results {
		if res == ResultSent {
			sent++
		}
	}
	assert.Equal(t, 1, sent, "exactly one caller wins the send")
}

func TestFailedBroadcastDoesNotUpdateLastHash(t *testing.T) {
	transport := &fakeTransport{fail: true}
	b := NewBroadcaster(transport, breaker.New(breaker.Config{}), time.Second)

	_, err := b.Broadcast(t.Context(), snapshotN(1))
	require.Error(t, err)

	// The same snapshot must be retried, not treated as already sent.
	transport.setFail(false)
	res, err := b.Broadcast(t.Context(), snapshotN(1))
	require.NoError(t, err)
	assert.Equal(t, ResultSent, res)
}
