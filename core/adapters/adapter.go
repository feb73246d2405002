// Package adapters defines the boundary to the computation backends. An
// adapter is a pure function of a job's input; all status bookkeeping around
// it belongs to the lifecycle controller.
package adapters

import (
	"context"
	"fmt"
	"sync"

	"collab-jobs/core/models"
)

// Output is what a successful run produces
type Output struct {
	Result   map[string]interface{}
	Artifact []byte // Optional payload persisted to the artifact store
}

// Adapter executes one job type
type Adapter interface {
	Run(ctx context.Context, input models.JobInput) (*Output, error)
}

// AdapterFunc lets ordinary functions act as adapters
type AdapterFunc func(ctx context.Context, input models.JobInput) (*Output, error)

// Run implements Adapter
func (f AdapterFunc) Run(ctx context.Context, input models.JobInput) (*Output, error) {
	return f(ctx, input)
}

// ValidationError is returned by adapters that reject an input they cannot run
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return "adapter validation failed: " + e.Message
}

// Registry resolves adapters by job type
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.JobType]Adapter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.JobType]Adapter)}
}

// NewDefaultRegistry registers the built-in adapters. TEE has no backend yet.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(models.JobTypeSMPC, NewSMPCStub())
	return r
}

// Register binds an adapter to a job type, replacing any previous binding
func (r *Registry) Register(jobType models.JobType, adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[jobType] = adapter
}

// Lookup returns the adapter for a job type
func (r *Registry) Lookup(jobType models.JobType) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[jobType]
	return a, ok
}

// Run executes the adapter, converting panics into errors so a misbehaving
// backend cannot take the controller down
func Run(ctx context.Context, adapter Adapter, input models.JobInput) (out *Output, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = fmt.Errorf("adapter panicked: %v", rec)
		}
	}()
	return adapter.Run(ctx, input)
}
