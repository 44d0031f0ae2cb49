package storage

import (
	"fmt"
	"testing"

	contractvm "github.com/wippyai/contract-vm"
)

func stores(t *testing.T) map[string]contractvm.Storage {
	t.Helper()
	open := func() *Badger {
		db, err := OpenBadger("", nil)
		if err != nil {
			t.Fatalf("OpenBadger: %v", err)
		}
		t.Cleanup(func() { _ = db.Close() })
		return db
	}
	return map[string]contractvm.Storage{
		"memory":    NewMemory(),
		"badger":    open(),
		"badger/ns": open().Namespace("contract-a"),
	}
}

func TestStorageGetSetDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			v, err := s.Get([]byte("missing"))
			if err != nil || v != nil {
				t.Fatalf("Get(missing) = %q, %v", v, err)
			}
			if err := s.Set([]byte("k"), []byte("v1")); err != nil {
				t.Fatal(err)
			}
			if err := s.Set([]byte("empty"), []byte{}); err != nil {
				t.Fatal(err)
			}
			v, _ = s.Get([]byte("k"))
			if string(v) != "v1" {
				t.Errorf("Get = %q", v)
			}
			v, _ = s.Get([]byte("empty"))
			if v == nil || len(v) != 0 {
				t.Errorf("empty value = %v, want non-nil empty", v)
			}
			if err := s.Delete([]byte("k")); err != nil {
				t.Fatal(err)
			}
			if v, _ := s.Get([]byte("k")); v != nil {
				t.Errorf("Get after Delete = %q", v)
			}
		})
	}
}

func TestStorageIterator(t *testing.T) {
	tests := []struct {
		name       string
		start, end []byte
		order      contractvm.Order
		want       []string
	}{
		{"all ascending", nil, nil, contractvm.Ascending, []string{"a", "b", "c", "d"}},
		{"all descending", nil, nil, contractvm.Descending, []string{"d", "c", "b", "a"}},
		{"bounded ascending", []byte("b"), []byte("d"), contractvm.Ascending, []string{"b", "c"}},
		{"bounded descending", []byte("b"), []byte("d"), contractvm.Descending, []string{"c", "b"}},
		{"open end", []byte("c"), nil, contractvm.Ascending, []string{"c", "d"}},
		{"open start descending", nil, []byte("c"), contractvm.Descending, []string{"b", "a"}},
		{"empty", []byte("x"), []byte("z"), contractvm.Ascending, nil},
	}

	for name, s := range stores(t) {
		for _, k := range []string{"c", "a", "d", "b"} {
			if err := s.Set([]byte(k), []byte("v"+k)); err != nil {
				t.Fatal(err)
			}
		}
		for _, tc := range tests {
			t.Run(fmt.Sprintf("%s/%s", name, tc.name), func(t *testing.T) {
				it, err := s.Iterator(tc.start, tc.end, tc.order)
				if err != nil {
					t.Fatalf("Iterator: %v", err)
				}
				defer it.Close()

				var got []string
				for {
					k, v, ok, err := it.Next()
					if err != nil {
						t.Fatal(err)
					}
					if !ok {
						break
					}
					if string(v) != "v"+string(k) {
						t.Errorf("value for %q = %q", k, v)
					}
					got = append(got, string(k))
				}
				if fmt.Sprint(got) != fmt.Sprint(tc.want) {
					t.Errorf("keys = %v, want %v", got, tc.want)
				}
			})
		}
	}
}

func TestStorageIterator_InvalidOrder(t *testing.T) {
	for name, s := range stores(t) {
		if _, err := s.Iterator(nil, nil, 7); err == nil {
			t.Errorf("%s: expected error for invalid order", name)
		}
	}
}

func TestBadgerNamespacesAreIsolated(t *testing.T) {
	db, err := OpenBadger("", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	a, b := db.Namespace("a"), db.Namespace("b")
	if err := a.Set([]byte("k"), []byte("from a")); err != nil {
		t.Fatal(err)
	}
	if v, _ := b.Get([]byte("k")); v != nil {
		t.Errorf("namespace b sees %q", v)
	}

	it, _ := b.Iterator(nil, nil, contractvm.Ascending)
	defer it.Close()
	if _, _, ok, _ := it.Next(); ok {
		t.Error("namespace b iterates keys of a")
	}
}

func TestMemoryWrites(t *testing.T) {
	m := NewMemory()
	_ = m.Set([]byte("a"), []byte("1"))
	_ = m.Delete([]byte("a"))
	if m.Writes() != 2 {
		t.Errorf("Writes = %d", m.Writes())
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d", m.Len())
	}
}
