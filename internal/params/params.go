// Package params records the arguments of parameterized test registrations so
// each invocation's span can carry them.
package params

import (
	"sync"

	"testtrace/internal/jsonutil"
)

// RegisterFunc is a runner's entry point for registering one case of a
// parameterized test: the case name, its arguments and its body.
type RegisterFunc func(name string, args []any, fn any)

// Registry maps test names to serialized parameters. Registering the same
// name twice keeps the later serialization.
type Registry struct {
	mu     sync.Mutex
	byName map[string]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]string)}
}

// Set stores the serialized parameters for name.
func (r *Registry) Set(name, serialized string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = serialized
}

// Lookup returns the serialized parameters registered for name.
func (r *Registry) Lookup(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byName[name]
	return s, ok
}

// Reset drops every stored entry.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.byName)
}

// Len returns the number of stored entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName)
}

// Serialize encodes a case's arguments the way they are stored.
func Serialize(args []any) string {
	return jsonutil.Compact(args)
}

// Capture returns a RegisterFunc that records args under name in reg before
// handing the registration to next.
func Capture(reg *Registry, next RegisterFunc) RegisterFunc {
	return func(name string, args []any, fn any) {
		reg.Set(name, Serialize(args))
		next(name, args, fn)
	}
}
