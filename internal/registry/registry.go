// Package registry maps opaque runtime handles to layer-owned shadow state.
//
// A failed lookup means "not ours to intercept": applications can hold
// handles created before the layer attached, so callers forward those calls
// untouched instead of failing them.
package registry

import (
	"errors"
	"sync"

	"github.com/vrtools/xrmirror/internal/oxr"
)

// ErrInvalidHandle is returned by Lookup for handles this layer never
// registered. Recoverable by design: treat the call as pass-through.
var ErrInvalidHandle = errors.New("handle not registered with layer")

// Table is a concurrent handle → shadow map. Lookups take a shared lock so
// multiple frame-submission threads can resolve handles at once; Register
// and Unregister take the exclusive lock.
type Table[T any] struct {
	mu      sync.RWMutex
	entries map[oxr.Handle]T
}

// New returns an empty table.
func New[T any]() *Table[T] {
	return &Table[T]{entries: make(map[oxr.Handle]T)}
}

// Register associates shadow with handle, replacing any prior entry. Runtimes
// may recycle handle values after destruction, so replacement is not an error.
func (t *Table[T]) Register(handle oxr.Handle, shadow T) {
	t.mu.Lock()
	t.entries[handle] = shadow
	t.mu.Unlock()
}

// Lookup returns the shadow for handle, or ErrInvalidHandle.
func (t *Table[T]) Lookup(handle oxr.Handle) (T, error) {
	t.mu.RLock()
	shadow, ok := t.entries[handle]
	t.mu.RUnlock()
	if !ok {
		var zero T
		return zero, ErrInvalidHandle
	}
	return shadow, nil
}

// Contains reports whether handle is registered.
func (t *Table[T]) Contains(handle oxr.Handle) bool {
	t.mu.RLock()
	_, ok := t.entries[handle]
	t.mu.RUnlock()
	return ok
}

// Unregister removes handle. Removing an unknown handle is a no-op.
func (t *Table[T]) Unregister(handle oxr.Handle) {
	t.mu.Lock()
	delete(t.entries, handle)
	t.mu.Unlock()
}

// Len returns the number of registered handles.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	n := len(t.entries)
	t.mu.RUnlock()
	return n
}

// Range calls fn for each entry under the shared lock until fn returns
// false. fn must not mutate the table.
func (t *Table[T]) Range(fn func(handle oxr.Handle, shadow T) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for handle, shadow := range t.entries {
		if !fn(handle, shadow) {
			return
		}
	}
}

// Drain removes every entry and returns the shadows that were registered.
// Used at instance teardown so owned state can be released exactly once.
func (t *Table[T]) Drain() []T {
	t.mu.Lock()
	defer t.mu.Unlock()
	shadows := make([]T, 0, len(t.entries))
	for handle, shadow := range t.entries {
		shadows = append(shadows, shadow)
		delete(t.entries, handle)
	}
	return shadows
}
