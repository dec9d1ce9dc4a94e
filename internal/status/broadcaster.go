package status

import (
	"context"
	"sync"
	"time"

	"main/internal/breaker"
	"main/internal/schema"
)

// Transport pushes one rendered snapshot to observers. Implementations
// are opaque to the core; a WebSocket hub is the usual one.
type Transport interface {
	Push(ctx context.Context, payload []byte) error
}

// Result classifies one broadcast attempt.
type Result uint8

const (
	ResultSent Result = iota
	ResultSkippedUnchanged
	ResultShortCircuited
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultSent:
		return "sent"
	case ResultSkippedUnchanged:
		return "skipped_unchanged"
	case ResultShortCircuited:
		return "short_circuited"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Broadcaster pushes change-detected snapshots through a circuit
// breaker. An unchanged snapshot is skipped before the breaker is even
// consulted; a tripped breaker skips the transport entirely.
type Broadcaster struct {
	transport Transport
	breaker   *breaker.Breaker
	timeout   time.Duration

	mu       sync.Mutex
	lastHash [32]byte
	hasLast  bool
}

// NewBroadcaster wires a transport behind a breaker.
func NewBroadcaster(transport Transport, brk *breaker.Breaker, timeout time.Duration) *Broadcaster {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Broadcaster{transport: transport, breaker: brk, timeout: timeout}
}

// Broadcast sends the snapshot if it differs from the last one sent.
// One broadcast runs at a time: the unchanged check and the send must
// share a critical section, or two concurrent calls carrying the same
// new snapshot both pass the check and double-send.
func (b *Broadcaster) Broadcast(ctx context.Context, snap Snapshot) (Result, error) {
	hash := snap.Hash()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hasLast && hash == b.lastHash {
		return ResultSkippedUnchanged, nil
	}

	if !b.breaker.Allow() {
		return ResultShortCircuited, nil
	}

	payload, err := snap.Marshal()
	if err != nil {
		return ResultFailed, &schema.BroadcastError{Err: err}
	}

	pushCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	if err := b.transport.Push(pushCtx, payload); err != nil {
		b.breaker.RecordFailure()
		return ResultFailed, &schema.BroadcastError{Err: err}
	}

	b.breaker.RecordSuccess()
	b.lastHash = hash
	b.hasLast = true
	return ResultSent, nil
}
