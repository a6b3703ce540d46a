// Package history provides the append-only message log kept by every chat replica.
package history

import "iter"

// History is an ordered log of entries. Order is the arrival order at this
// replica, not a global order. Entries are never removed.
type History[T any] struct {
	entries []T
}

// New creates an empty history
func New[T any]() *History[T] {
	return &History[T]{}
}

// FromEntries builds a history holding a copy of entries in the given order.
func FromEntries[T any](entries []T) *History[T] {
	h := &History[T]{entries: make([]T, len(entries))}
	copy(h.entries, entries)
	return h
}

// Insert appends an entry. Duplicates are kept.
func (h *History[T]) Insert(entry T) {
	h.entries = append(h.entries, entry)
}

// Count returns the number of stored entries
func (h *History[T]) Count() int {
	return len(h.entries)
}

// All returns a sequence over the entries in insertion order. The sequence
// can be ranged over more than once.
func (h *History[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, e := range h.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Entries returns a copy of the entries in insertion order.
func (h *History[T]) Entries() []T {
	out := make([]T, len(h.entries))
	copy(out, h.entries)
	return out
}
