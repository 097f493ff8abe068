// File: core/concurrency/registry.go
// Package concurrency
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Registry is an integer-keyed table with stable, monotonically assigned
// identifiers and per-entry exclusive holds. An acquired entry cannot be
// removed until released; removal runs the optional destructor.

package concurrency

import (
	"sort"
	"sync"
)

type regEntry[V any] struct {
	mu      sync.Mutex
	value   V
	removed bool
}

// Registry maps opaque uint64 identifiers to values of type V.
type Registry[V any] struct {
	mu         sync.RWMutex
	entries    map[uint64]*regEntry[V]
	nextID     uint64
	destructor func(V)
}

// NewRegistry creates an empty registry. destructor, if non-nil, runs once
// for every value removed or discarded.
func NewRegistry[V any](destructor func(V)) *Registry[V] {
	return &Registry[V]{
		entries:    make(map[uint64]*regEntry[V]),
		destructor: destructor,
	}
}

// Add inserts value and returns its assigned identifier. Identifiers are
// never reused for the lifetime of the registry.
func (r *Registry[V]) Add(value V) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.entries[id] = &regEntry[V]{value: value}
	return id
}

// Acquire returns the value under an exclusive per-entry hold. Callers must
// Release the same id on every path. Returns false for unknown identifiers.
func (r *Registry[V]) Acquire(id uint64) (V, bool) {
	var zero V
	r.mu.RLock()
	e := r.entries[id]
	r.mu.RUnlock()
	if e == nil {
		return zero, false
	}
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// Release drops the exclusive hold taken by Acquire.
func (r *Registry[V]) Release(id uint64) {
	r.mu.RLock()
	e := r.entries[id]
	r.mu.RUnlock()
	if e != nil {
		e.mu.Unlock()
	}
}

// Remove deletes the entry, waiting for any current holder to release it
// first, then runs the destructor. It reports whether an entry was removed.
func (r *Registry[V]) Remove(id uint64) bool {
	r.mu.RLock()
	e := r.entries[id]
	r.mu.RUnlock()
	if e == nil {
		return false
	}
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return false
	}
	e.removed = true
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
	if r.destructor != nil {
		r.destructor(e.value)
	}
	e.mu.Unlock()
	return true
}

// Get copies the value out under a transient hold.
func (r *Registry[V]) Get(id uint64) (V, bool) {
	v, ok := r.Acquire(id)
	if !ok {
		var zero V
		return zero, false
	}
	r.Release(id)
	return v, true
}

// Len returns the number of live entries.
func (r *Registry[V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ForEachKey calls fn for every identifier present when the snapshot was
// taken, in ascending order, without holding the registry lock. Entries
// removed mid-iteration are simply skipped by fn's own Acquire.
func (r *Registry[V]) ForEachKey(fn func(id uint64)) {
	r.mu.RLock()
	keys := make([]uint64, 0, len(r.entries))
	for id := range r.entries {
		keys = append(keys, id)
	}
	r.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, id := range keys {
		fn(id)
	}
}

// Discard removes every entry, running the destructor for each.
func (r *Registry[V]) Discard() {
	r.ForEachKey(func(id uint64) { r.Remove(id) })
}
