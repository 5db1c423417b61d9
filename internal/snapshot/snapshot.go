// Package snapshot publishes immutable values from a control goroutine to the
// audio goroutine without locks.
package snapshot

import "sync/atomic"

// Cell holds the current snapshot of a T. Writers hand over a fully built
// value and must not touch it afterwards; readers load the pointer once per
// block and treat the value as read-only.
type Cell[T any] struct {
	p atomic.Pointer[T]
}

// New returns a cell already holding v.
func New[T any](v *T) *Cell[T] {
	c := &Cell[T]{}
	c.p.Store(v)
	return c
}

// Publish replaces the current snapshot.
func (c *Cell[T]) Publish(v *T) {
	c.p.Store(v)
}

// Swap publishes v and returns the snapshot it replaced.
func (c *Cell[T]) Swap(v *T) *T {
	return c.p.Swap(v)
}

// Load returns the current snapshot, or nil if nothing was published.
func (c *Cell[T]) Load() *T {
	return c.p.Load()
}
