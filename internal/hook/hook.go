// Package hook swaps a runner entry point for a wrapped version and restores
// it later. Runners expose the entry points they allow to be instrumented as
// a *Point; nothing else about the runner is mutated.
package hook

import (
	"errors"
	"sync"
)

var (
	// ErrAlreadyWrapped is returned when wrapping a point that is already wrapped.
	ErrAlreadyWrapped = errors.New("hook: already wrapped")
	// ErrNotWrapped is returned when unwrapping a point that is not wrapped.
	ErrNotWrapped = errors.New("hook: not wrapped")
)

// Point holds the current implementation of an entry point of type T.
type Point[T any] struct {
	mu       sync.RWMutex
	current  T
	original T
	wrapped  bool
}

// NewPoint returns a point whose implementation is fn.
func NewPoint[T any](fn T) *Point[T] {
	return &Point[T]{current: fn}
}

// Get returns the implementation callers should invoke.
func (p *Point[T]) Get() T {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Wrap replaces the implementation with wrap(original).
func (p *Point[T]) Wrap(wrap func(T) T) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wrapped {
		return ErrAlreadyWrapped
	}
	p.original = p.current
	p.current = wrap(p.current)
	p.wrapped = true
	return nil
}

// Unwrap restores the implementation that was in place before Wrap.
func (p *Point[T]) Unwrap() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.wrapped {
		return ErrNotWrapped
	}
	p.current = p.original
	var zero T
	p.original = zero
	p.wrapped = false
	return nil
}

// Wrapped reports whether the point is currently wrapped.
func (p *Point[T]) Wrapped() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.wrapped
}
