package worker

import (
	"fmt"
	"sort"
	"sync"
)

// StartupError reports an entry point that is missing, unresolvable, or has
// the wrong invocation shape. It is fatal to the worker before any hosted
// code runs.
type StartupError struct {
	Reason string
}

func (e *StartupError) Error() string {
	return "startup: " + e.Reason
}

// entryFunc is the normalized invocation shape the runtime calls.
type entryFunc func(args []string) error

// Registry resolves entry-point names to hosted functions. Accepted shapes
// are func([]string) and func([]string) error; anything else fails
// resolution with a StartupError.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]any)}
}

// Register binds name to fn. Re-registering a name replaces the previous
// binding.
func (r *Registry) Register(name string, fn any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = fn
}

// Resolve returns an invoker for name.
func (r *Registry) Resolve(name string) (entryFunc, error) {
	if name == "" {
		return nil, &StartupError{Reason: "no entry point specified"}
	}

	r.mu.RLock()
	fn, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &StartupError{Reason: fmt.Sprintf("entry point %q is not registered", name)}
	}

	switch f := fn.(type) {
	case func([]string):
		return func(args []string) error {
			f(args)
			return nil
		}, nil
	case func([]string) error:
		return f, nil
	default:
		return nil, &StartupError{Reason: fmt.Sprintf("entry point %q has shape %T, want func([]string) or func([]string) error", name, fn)}
	}
}

// Names lists registered entry points, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry. Embedding programs register
// their entry points here, typically from init functions.
func Default() *Registry { return defaultRegistry }

// Register binds name to fn in the process-wide registry.
func Register(name string, fn any) {
	defaultRegistry.Register(name, fn)
}
