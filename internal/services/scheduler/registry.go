// Package scheduler coordinates cron-triggered task execution.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownJob is returned when a task names a job that was never
// registered. This is a configuration error surfaced at task create/update
// time, not deferred to fire time.
var ErrUnknownJob = errors.New("unknown job")

// JobFunc is a job body: plain params in, a human-readable summary out.
// No framework types cross this boundary.
type JobFunc func(ctx context.Context, params map[string]any) (string, error)

// Registry is the static job-name table populated at process start. It
// replaces run-time string-path dispatch with a typo-safe lookup.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]JobFunc
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]JobFunc)}
}

// Register installs a job body under a name. Duplicate names are rejected
// so two subsystems cannot silently shadow each other.
func (r *Registry) Register(name string, fn JobFunc) error {
	if name == "" {
		return errors.New("job name must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("job %s: nil function", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}
	r.jobs[name] = fn
	return nil
}

// Resolve looks up a job body by name.
func (r *Registry) Resolve(name string) (JobFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return fn, nil
}

// Names returns all registered job names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
