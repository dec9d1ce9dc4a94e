package coordinator

import (
	"context"
	"errors"

	"github.com/yanun0323/logs"
)

// Coordinator is the uniform lifecycle contract of one orchestration
// domain. Initialize acquires dependencies and bus subscriptions;
// Cleanup releases them. Coordinators never call each other: every
// cross-domain signal travels over the event bus.
type Coordinator interface {
	Name() string
	Initialize(ctx context.Context) error
	Cleanup() error
}

// Registry starts coordinators in order and tears them down in
// reverse, mirroring process lifetime rather than call-stack scope.
type Registry struct {
	coordinators []Coordinator
	initialized  []Coordinator
}

// NewRegistry builds a registry over the given coordinators.
func NewRegistry(coordinators ...Coordinator) *Registry {
	return &Registry{coordinators: coordinators}
}

// Initialize brings up every coordinator. On failure the already
// initialized ones are cleaned up in reverse before returning.
func (r *Registry) Initialize(ctx context.Context) error {
	for _, c := range r.coordinators {
		if err := c.Initialize(ctx); err != nil {
			logs.Errorf("initialize coordinator, name: %s, err: %+v", c.Name(), err)
			cleanupErr := r.Cleanup()
			return errors.Join(err, cleanupErr)
		}
		r.initialized = append(r.initialized, c)
		logs.Infof("coordinator initialized, name: %s", c.Name())
	}
	return nil
}

// Cleanup tears down initialized coordinators in reverse order,
// aggregating errors instead of stopping at the first.
func (r *Registry) Cleanup() error {
	var errs []error
	for i := len(r.initialized) - 1; i >= 0; i-- {
		c := r.initialized[i]
		if err := c.Cleanup(); err != nil {
			logs.Errorf("cleanup coordinator, name: %s, err: %+v", c.Name(), err)
			errs = append(errs, err)
		}
	}
	r.initialized = nil
	return errors.Join(errs...)
}
