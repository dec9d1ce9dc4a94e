package scheduler

import (
	"context"
	"sync"

	"main/internal/task"
)

// Executor runs the domain work for one task type. The scheduler
// treats it as an opaque, timeout-bounded collaborator: it only
// observes success, failure, or context expiry.
type Executor interface {
	Execute(ctx context.Context, t *task.Task) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, t *task.Task) error

func (f ExecutorFunc) Execute(ctx context.Context, t *task.Task) error {
	return f(ctx, t)
}

type executorRegistry struct {
	mu     sync.RWMutex
	byType map[string]Executor
}

func newExecutorRegistry() *executorRegistry {
	return &executorRegistry{byType: make(map[string]Executor)}
}

func (r *executorRegistry) register(taskType string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[taskType] = exec
}

func (r *executorRegistry) lookup(taskType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.byType[taskType]
	return exec, ok
}
