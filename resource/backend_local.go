package resource

import (
	"errors"
	"sync"
)

var (
	ErrClosed = errors.New("resource table closed")
	ErrFull   = errors.New("resource table full")
)

// LocalBackend stores values in memory. Handles increase monotonically and
// are never reused within one backend.
type LocalBackend struct {
	entries map[Handle]entry
	next    Handle
	limit   int
	mu      sync.RWMutex
	closed  bool
}

type entry struct {
	value  any
	typeID uint32
}

// NewLocalBackend creates a backend holding at most limit live values.
// A limit of zero means unbounded.
func NewLocalBackend(limit int) *LocalBackend {
	return &LocalBackend{entries: make(map[Handle]entry), limit: limit}
}

// Create stores a value and returns its handle.
func (b *LocalBackend) Create(typeID uint32, value any) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, ErrClosed
	}
	if b.limit > 0 && len(b.entries) >= b.limit {
		return 0, ErrFull
	}
	if b.next == ^Handle(0) {
		return 0, ErrFull
	}
	b.next++
	b.entries[b.next] = entry{value: value, typeID: typeID}
	return b.next, nil
}

// Get retrieves a value by handle.
func (b *LocalBackend) Get(h Handle) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[h]
	return e.value, ok
}

// TypeID returns the type a handle was created with.
func (b *LocalBackend) TypeID(h Handle) (uint32, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[h]
	return e.typeID, ok
}

// Drop removes a handle and returns its value.
func (b *LocalBackend) Drop(h Handle) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[h]
	if !ok {
		return nil, false
	}
	delete(b.entries, h)
	return e.value, true
}

// Len returns the number of live handles.
func (b *LocalBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Handles returns the live handles.
func (b *LocalBackend) Handles() []Handle {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handle, 0, len(b.entries))
	for h := range b.entries {
		out = append(out, h)
	}
	return out
}

// Close rejects further Create calls. Live values are left in place.
func (b *LocalBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
