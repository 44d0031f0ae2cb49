package resource

import (
	"errors"
	"testing"
)

type testObserver struct {
	events []Event
}

func (o *testObserver) OnResourceEvent(e Event) {
	o.events = append(o.events, e)
}

type closer struct {
	closed int
	err    error
}

func (c *closer) Close() error {
	c.closed++
	return c.err
}

func TestTable_Basic(t *testing.T) {
	table := NewTable(0)

	h, err := table.Insert(1, "test")
	if err != nil || h == 0 {
		t.Fatalf("Insert = %d, %v", h, err)
	}

	val, ok := table.Get(h)
	if !ok || val != "test" {
		t.Fatalf("Get = %v, %v", val, ok)
	}
	if _, ok := table.GetTyped(h, 1); !ok {
		t.Fatal("GetTyped with correct type failed")
	}
	if _, ok := table.GetTyped(h, 2); ok {
		t.Fatal("GetTyped with wrong type should fail")
	}

	val, ok, err = table.Remove(h)
	if !ok || err != nil || val != "test" {
		t.Fatalf("Remove = %v, %v, %v", val, ok, err)
	}
	if table.Len() != 0 {
		t.Fatal("expected Len() == 0 after Remove")
	}
	if _, ok, _ := table.Remove(h); ok {
		t.Fatal("second Remove succeeded")
	}
}

func TestTable_HandlesNotReused(t *testing.T) {
	table := NewTable(0)
	a, _ := table.Insert(1, "a")
	table.Remove(a)
	b, _ := table.Insert(1, "b")
	if b == a {
		t.Fatalf("handle %d reused", a)
	}
	if _, ok := table.Get(a); ok {
		t.Fatal("removed handle still resolves")
	}
}

func TestTable_Limit(t *testing.T) {
	table := NewTable(2)
	for i := 0; i < 2; i++ {
		if _, err := table.Insert(1, i); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}
	if _, err := table.Insert(1, 3); !errors.Is(err, ErrFull) {
		t.Fatalf("err = %v, want ErrFull", err)
	}
}

func TestTable_CloseClosesValues(t *testing.T) {
	table := NewTable(0)
	obs := &testObserver{}
	table.Subscribe(obs)

	ok := &closer{}
	bad := &closer{err: errors.New("boom")}
	table.Insert(1, ok)
	table.Insert(1, bad)
	table.Insert(2, "plain")

	if err := table.Close(); err == nil || err.Error() != "boom" {
		t.Fatalf("Close = %v", err)
	}
	if ok.closed != 1 || bad.closed != 1 {
		t.Fatalf("closed = %d, %d", ok.closed, bad.closed)
	}
	if table.Len() != 0 {
		t.Fatalf("Len = %d", table.Len())
	}
	if _, err := table.Insert(1, "late"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Insert after Close = %v", err)
	}

	var created, dropped int
	for _, e := range obs.events {
		switch e.Type {
		case EventCreated:
			created++
		case EventDropped:
			dropped++
		}
	}
	if created != 3 || dropped != 3 {
		t.Fatalf("created %d, dropped %d", created, dropped)
	}
}
