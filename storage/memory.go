package storage

import (
	"bytes"
	"slices"
	"sync"

	contractvm "github.com/wippyai/contract-vm"
)

// Memory is an in-process ordered store. It counts mutations so tests can
// assert that a failed call wrote nothing.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	writes int
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, nil
	}
	return slices.Clone(v), nil
}

func (m *Memory) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = slices.Clone(value)
	m.writes++
	return nil
}

func (m *Memory) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	m.writes++
	return nil
}

// Writes returns the number of Set and Delete calls so far.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// Len returns the number of keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Iterator snapshots the keys in [start, end) at creation.
func (m *Memory) Iterator(start, end []byte, order contractvm.Order) (contractvm.Iterator, error) {
	if err := checkOrder(order); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	it := &memoryIterator{}
	for k, v := range m.data {
		if inRange([]byte(k), start, end) {
			it.entries = append(it.entries, entry{key: []byte(k), value: slices.Clone(v)})
		}
	}
	slices.SortFunc(it.entries, func(a, b entry) int { return bytes.Compare(a.key, b.key) })
	if order == contractvm.Descending {
		slices.Reverse(it.entries)
	}
	return it, nil
}

type entry struct {
	key, value []byte
}

type memoryIterator struct {
	entries []entry
	pos     int
}

func (it *memoryIterator) Next() ([]byte, []byte, bool, error) {
	if it.pos >= len(it.entries) {
		return nil, nil, false, nil
	}
	e := it.entries[it.pos]
	it.pos++
	return e.key, e.value, true, nil
}

func (it *memoryIterator) Close() error {
	it.entries = nil
	return nil
}

func inRange(key, start, end []byte) bool {
	if start != nil && bytes.Compare(key, start) < 0 {
		return false
	}
	if end != nil && bytes.Compare(key, end) >= 0 {
		return false
	}
	return true
}
