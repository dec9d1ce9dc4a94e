package obs

import (
	"sync/atomic"

	"main/internal/schema"
)

// Metrics collects lightweight counters for the orchestration
// substrate. Counters are advisory only; queue state is always derived
// from the store, never from here.
type Metrics struct {
	eventCounts [schema.EventTypeCount + 1]uint64

	tasksCompleted uint64
	tasksFailed    uint64
	tasksRetried   uint64
	tasksCancelled uint64

	broadcastsSent           uint64
	broadcastsSkipped        uint64
	broadcastsShortCircuited uint64
	broadcastsFailed         uint64

	storeErrors uint64
}

// NewMetrics allocates zeroed counters.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// CountEvent records one bus publish.
func (m *Metrics) CountEvent(eventType schema.EventType) {
	if !eventType.IsAvailable() {
		return
	}
	atomic.AddUint64(&m.eventCounts[eventType], 1)
}

// CountTaskCompleted records one terminal COMPLETED transition.
func (m *Metrics) CountTaskCompleted() { atomic.AddUint64(&m.tasksCompleted, 1) }

// CountTaskFailed records one terminal FAILED transition.
func (m *Metrics) CountTaskFailed() { atomic.AddUint64(&m.tasksFailed, 1) }

// CountTaskRetried records one RUNNING -> PENDING requeue.
func (m *Metrics) CountTaskRetried() { atomic.AddUint64(&m.tasksRetried, 1) }

// CountTaskCancelled records one terminal CANCELLED transition.
func (m *Metrics) CountTaskCancelled() { atomic.AddUint64(&m.tasksCancelled, 1) }

// CountBroadcast records one broadcast attempt outcome.
func (m *Metrics) CountBroadcast(result string) {
	switch result {
	case "sent":
		atomic.AddUint64(&m.broadcastsSent, 1)
	case "skipped_unchanged":
		atomic.AddUint64(&m.broadcastsSkipped, 1)
	case "short_circuited":
		atomic.AddUint64(&m.broadcastsShortCircuited, 1)
	case "failed":
		atomic.AddUint64(&m.broadcastsFailed, 1)
	}
}

// CountStoreError records one repository failure.
func (m *Metrics) CountStoreError() { atomic.AddUint64(&m.storeErrors, 1) }

// Snapshot returns a point-in-time view of every counter, keyed for
// status aggregation.
func (m *Metrics) Snapshot() map[string]any {
	events := make(map[string]uint64, schema.EventTypeCount)
	for t := schema.EventType(1); int(t) <= schema.EventTypeCount; t++ {
		if n := atomic.LoadUint64(&m.eventCounts[t]); n > 0 {
			events[t.String()] = n
		}
	}
	return map[string]any{
		"events":                     events,
		"tasks_completed":            atomic.LoadUint64(&m.tasksCompleted),
		"tasks_failed":               atomic.LoadUint64(&m.tasksFailed),
		"tasks_retried":              atomic.LoadUint64(&m.tasksRetried),
		"tasks_cancelled":            atomic.LoadUint64(&m.tasksCancelled),
		"broadcasts_sent":            atomic.LoadUint64(&m.broadcastsSent),
		"broadcasts_skipped":         atomic.LoadUint64(&m.broadcastsSkipped),
		"broadcasts_short_circuited": atomic.LoadUint64(&m.broadcastsShortCircuited),
		"broadcasts_failed":          atomic.LoadUint64(&m.broadcastsFailed),
		"store_errors":               atomic.LoadUint64(&m.storeErrors),
	}
}
