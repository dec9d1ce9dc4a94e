package status

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/logs"
	"github.com/zeebo/blake3"

	"main/internal/schema"
)

// canonical marshals with sorted map keys so equal snapshots hash
// equally regardless of map iteration order.
var canonical = sonic.Config{SortMapKeys: true}.Froze()

// Source is one independent status sub-system.
type Source interface {
	Name() string
	Collect(ctx context.Context) (map[string]any, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc struct {
	SourceName string
	Fn         func(ctx context.Context) (map[string]any, error)
}

func (s SourceFunc) Name() string {
	return s.SourceName
}

func (s SourceFunc) Collect(ctx context.Context) (map[string]any, error) {
	return s.Fn(ctx)
}

// Snapshot is one aggregated status view.
type Snapshot struct {
	Components  map[string]map[string]any `json:"components"`
	GeneratedAt int64                     `json:"generated_at"`
}

// Hash digests the component data. The generation stamp is excluded so
// an unchanged system hashes identically across polls.
func (s Snapshot) Hash() [32]byte {
	data, err := canonical.Marshal(s.Components)
	if err != nil {
		// Components hold only JSON-safe values; treat failure as a
		// unique snapshot so it is never silently deduplicated.
		data = []byte(time.Now().String())
	}
	return blake3.Sum256(data)
}

// Marshal renders the snapshot for the wire.
func (s Snapshot) Marshal() ([]byte, error) {
	return canonical.Marshal(s)
}

// Aggregator fans out to every source concurrently. A failing or
// panicking source degrades its own component only; the rest of the
// snapshot is unaffected.
type Aggregator struct {
	sources []Source
	timeout time.Duration
}

// NewAggregator builds an aggregator over the given sources.
func NewAggregator(timeout time.Duration, sources ...Source) *Aggregator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Aggregator{sources: sources, timeout: timeout}
}

// Aggregate collects every source under one deadline.
func (a *Aggregator) Aggregate(ctx context.Context) Snapshot {
	collectCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		components = make(map[string]map[string]any, len(a.sources))
	)

	for _, source := range a.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()

			component := a.collect(collectCtx, src)
			mu.Lock()
			components[src.Name()] = component
			mu.Unlock()
		}(source)
	}
	wg.Wait()

	return Snapshot{
		Components:  components,
		GeneratedAt: time.Now().UTC().UnixNano(),
	}
}

func (a *Aggregator) collect(ctx context.Context, src Source) (component map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			logs.Errorf("status source panic, source: %s, recovered: %+v", src.Name(), r)
			component = degraded(schema.PanicError(r))
		}
	}()

	data, err := src.Collect(ctx)
	if err != nil {
		logs.Warnf("status source failed, source: %s, err: %+v", src.Name(), err)
		return degraded(err)
	}
	return data
}

func degraded(err error) map[string]any {
	return map[string]any{
		"status": "degraded",
		"error":  err.Error(),
	}
}
