// Package registry provides the process-wide directories that own rooms and
// live matches. Entries are addressed by key, guarded by a per-entry lock, and
// observed through weak handles that never extend an entry's lifetime.
package registry

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrKeyTaken is returned when registering a key that already exists.
	ErrKeyTaken = errors.New("registry key already taken")
	// ErrCodeSpaceExhausted is returned when join-code generation keeps colliding.
	ErrCodeSpaceExhausted = errors.New("unable to draw a free join code")
)

// entry pairs a payload with its lock and liveness flag. The registry index
// lock is only held for index operations; payload access goes through the
// entry lock so two different entries can be mutated concurrently.
type entry[T any] struct {
	key   string
	value *T
	mu    sync.Mutex
	alive atomic.Bool
}

// Handle is a strong reference to a registered entry.
type Handle[T any] struct {
	e *entry[T]
}

// Key returns the key the entry was registered under.
func (h *Handle[T]) Key() string {
	return h.e.key
}

// Do runs fn with exclusive access to the payload. The entry lock is held for
// the duration of fn; fn must not block on I/O or acquire another entry's lock.
func (h *Handle[T]) Do(fn func(*T)) {
	h.e.mu.Lock()
	defer h.e.mu.Unlock()
	fn(h.e.value)
}

// Weak derives a non-owning handle that can later attempt an upgrade.
func (h *Handle[T]) Weak() Weak[T] {
	return Weak[T]{e: h.e}
}

// Weak is a non-owning reference. Upgrade fails once the entry has been
// removed from its directory, which is how delayed tasks and session contexts
// notice that their target is gone.
type Weak[T any] struct {
	e *entry[T]
}

// Upgrade returns a strong handle if the entry is still registered.
func (w Weak[T]) Upgrade() (*Handle[T], bool) {
	if w.e == nil || !w.e.alive.Load() {
		return nil, false
	}
	return &Handle[T]{e: w.e}, true
}

// Alive reports whether an upgrade would currently succeed.
func (w Weak[T]) Alive() bool {
	return w.e != nil && w.e.alive.Load()
}

// Directory is a concurrent key→entry map. All index operations take the
// directory lock for their duration; payload mutation does not.
type Directory[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
}

// NewDirectory constructs an empty directory.
func NewDirectory[T any]() *Directory[T] {
	return &Directory[T]{entries: make(map[string]*entry[T])}
}

// Register inserts the value under key and returns a strong handle.
func (d *Directory[T]) Register(key string, value *T) (*Handle[T], error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.entries[key]; exists {
		return nil, ErrKeyTaken
	}
	e := &entry[T]{key: key, value: value}
	e.alive.Store(true)
	d.entries[key] = e
	return &Handle[T]{e: e}, nil
}

// Find looks up the entry registered under key.
func (d *Directory[T]) Find(key string) (*Handle[T], bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[key]
	if !ok {
		return nil, false
	}
	return &Handle[T]{e: e}, true
}

// Remove deletes the entry registered under key. Weak handles pointing at the
// entry stop upgrading immediately.
func (d *Directory[T]) Remove(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[key]
	if !ok {
		return false
	}
	e.alive.Store(false)
	delete(d.entries, key)
	return true
}

// RemoveByIdentity deletes the entry whose payload is the same instance as the
// one behind the given handle. Used by cleanup paths that only hold a handle
// obtained from a weak upgrade and do not know the key.
func (d *Directory[T]) RemoveByIdentity(h *Handle[T]) bool {
	if h == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, e := range d.entries {
		if e.value == h.e.value {
			e.alive.Store(false)
			delete(d.entries, key)
			return true
		}
	}
	return false
}

// Len reports the number of registered entries.
func (d *Directory[T]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Handles snapshots strong handles for every registered entry, for iteration
// outside the directory lock.
func (d *Directory[T]) Handles() []*Handle[T] {
	d.mu.Lock()
	defer d.mu.Unlock()
	handles := make([]*Handle[T], 0, len(d.entries))
	for _, e := range d.entries {
		handles = append(handles, &Handle[T]{e: e})
	}
	return handles
}
