package resource

import (
	"errors"
	"slices"
	"sync"
)

// Table maps guest-visible handles to host values.
type Table struct {
	backend   *LocalBackend
	observers []Observer
	obsMu     sync.RWMutex
}

// NewTable creates a table holding at most limit live values; zero means
// unbounded.
func NewTable(limit int) *Table {
	return &Table{backend: NewLocalBackend(limit)}
}

// Insert adds a value and returns its handle.
func (t *Table) Insert(typeID uint32, value any) (Handle, error) {
	h, err := t.backend.Create(typeID, value)
	if err != nil {
		return 0, err
	}
	t.notify(Event{Type: EventCreated, Handle: h, TypeID: typeID, Value: value})
	return h, nil
}

// Get retrieves a value by handle.
func (t *Table) Get(h Handle) (any, bool) {
	return t.backend.Get(h)
}

// GetTyped retrieves a value only if it was inserted with typeID.
func (t *Table) GetTyped(h Handle, typeID uint32) (any, bool) {
	actual, ok := t.backend.TypeID(h)
	if !ok || actual != typeID {
		return nil, false
	}
	return t.backend.Get(h)
}

// Remove drops a handle, closing its value if it is a Closer.
func (t *Table) Remove(h Handle) (any, bool, error) {
	typeID, _ := t.backend.TypeID(h)
	value, ok := t.backend.Drop(h)
	if !ok {
		return nil, false, nil
	}
	var err error
	if c, ok := value.(Closer); ok {
		err = c.Close()
	}
	t.notify(Event{Type: EventDropped, Handle: h, TypeID: typeID, Value: value})
	return value, true, err
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	return t.backend.Len()
}

// Clear removes every handle in creation order and returns the joined
// close errors.
func (t *Table) Clear() error {
	handles := t.backend.Handles()
	slices.Sort(handles)
	var errs []error
	for _, h := range handles {
		if _, _, err := t.Remove(h); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close clears the table and stops accepting inserts.
func (t *Table) Close() error {
	_ = t.backend.Close()
	return t.Clear()
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
