package runner

import (
	"context"
	"sort"

	"github.com/praxiscrm/praxis/internal/storage"
)

// HandlerFunc processes one claimed job. A returned error marks the attempt
// failed; the runner owns all job-row mutation, handlers never touch it.
type HandlerFunc func(ctx context.Context, job storage.Job) error

// Registry is the closed set of job types the pipeline knows how to run.
// Adding a job type means one Register call, not a runner change.
type Registry struct {
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a handler to a job type. Empty types and nil handlers are
// ignored.
func (r *Registry) Register(jobType string, h HandlerFunc) {
	if jobType == "" || h == nil {
		return
	}
	r.handlers[jobType] = h
}

// Resolve returns the handler for a job type.
func (r *Registry) Resolve(jobType string) (HandlerFunc, bool) {
	h, ok := r.handlers[jobType]
	return h, ok
}

// Known reports whether a job type has a registered handler.
func (r *Registry) Known(jobType string) bool {
	_, ok := r.handlers[jobType]
	return ok
}

// Types returns the registered job types in sorted order.
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
