package linker

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/wippyai/contract-vm/errors"
	"github.com/wippyai/contract-vm/gas"
)

var bytesSig = Signature{Params: []Tag{TagRegion}, Results: []Tag{TagRegion}}

type fakeResolver struct {
	contracts map[string]map[string]CallablePoint
	released  map[string]int
}

func (r *fakeResolver) Resolve(_ context.Context, address string) (*Callee, error) {
	points, ok := r.contracts[address]
	if !ok {
		return nil, fmt.Errorf("unknown address %q", address)
	}
	return &Callee{
		Address: address,
		Points:  points,
		Release: func() { r.released[address]++ },
	}, nil
}

type recordingExecutor struct {
	calls []string
	depth []int
	fn    func(ctx context.Context, call *Call) ([]Value, error)
}

func (e *recordingExecutor) Invoke(ctx context.Context, call *Call) ([]Value, error) {
	e.calls = append(e.calls, call.Callee.Address+"."+call.Point.Name)
	e.depth = append(e.depth, call.Stack.Depth())
	if e.fn != nil {
		return e.fn(ctx, call)
	}
	return []Value{{Tag: TagRegion, Bytes: call.Args[0].Bytes}}, nil
}

func point(name string, readOnly bool, callers ...string) CallablePoint {
	return CallablePoint{Name: name, Signature: bytesSig, ReadOnly: readOnly, AllowedCallers: callers}
}

func newFixture() (*fakeResolver, *recordingExecutor) {
	r := &fakeResolver{
		contracts: map[string]map[string]CallablePoint{
			"a":       {"relay": point("relay", false, "*")},
			"b":       {"relay": point("relay", false, "*")},
			"c":       {"relay": point("relay", false, "*")},
			"private": {"relay": point("relay", false, "owner")},
			"reader":  {"peek": point("peek", true, "*")},
		},
		released: map[string]int{},
	}
	return r, &recordingExecutor{}
}

func request(stack *CallStack, address, point string) Request {
	return Request{
		Stack:    stack,
		Meter:    gas.NewMeter(1_000),
		Address:  address,
		Point:    point,
		Expected: bytesSig,
		Args:     []Value{{Tag: TagRegion, Bytes: []byte("ping")}},
	}
}

func TestManagerCall(t *testing.T) {
	r, exec := newFixture()
	m := NewManager(Config{}, r, exec)
	stack := NewCallStack(Frame{Address: "root"})

	results, err := m.Call(context.Background(), request(stack, "a", "relay"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(results) != 1 || string(results[0].Bytes) != "ping" {
		t.Errorf("results = %+v", results)
	}
	if stack.Depth() != 0 {
		t.Errorf("stack depth after call = %d", stack.Depth())
	}
	if exec.depth[0] != 1 {
		t.Errorf("depth during call = %d, want 1", exec.depth[0])
	}
	if r.released["a"] != 1 {
		t.Errorf("callee released %d times", r.released["a"])
	}
}

func TestManagerCall_Failures(t *testing.T) {
	tests := []struct {
		name   string
		stack  []string
		mutate func(*Request)
		kind   errors.Kind
	}{
		{"unknown address", nil, func(r *Request) { r.Address = "nowhere" }, errors.KindResolution},
		{"unknown point", nil, func(r *Request) { r.Point = "missing" }, errors.KindInterfaceMismatch},
		{"arity", nil, func(r *Request) {
			r.Expected = Signature{Params: []Tag{TagRegion, TagRegion}, Results: []Tag{TagRegion}}
			r.Args = append(r.Args, Value{Tag: TagRegion})
		}, errors.KindInterfaceMismatch},
		{"tag", nil, func(r *Request) {
			r.Expected = Signature{Params: []Tag{TagI32}, Results: []Tag{TagRegion}}
			r.Args = []Value{{Tag: TagI32, Raw: 1}}
		}, errors.KindInterfaceMismatch},
		{"argument count", nil, func(r *Request) { r.Args = nil }, errors.KindInterfaceMismatch},
		{"not allowed", nil, func(r *Request) { r.Address = "private" }, errors.KindPermissionDenied},
		{"read-only context", nil, func(r *Request) { r.ReadOnly = true }, errors.KindPermissionDenied},
		{"self call", nil, func(r *Request) { r.Address = "root" }, errors.KindReentrancy},
		{"indirect re-entry", []string{"a", "b"}, func(r *Request) { r.Address = "a" }, errors.KindReentrancy},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r, exec := newFixture()
			r.contracts["root"] = map[string]CallablePoint{"relay": point("relay", false, "*")}
			m := NewManager(Config{}, r, exec)

			stack := NewCallStack(Frame{Address: "root"})
			for _, a := range tc.stack {
				stack.Push(Frame{Address: a})
			}
			depth := stack.Depth()

			req := request(stack, "c", "relay")
			tc.mutate(&req)
			_, err := m.Call(context.Background(), req)
			if got := errors.KindOf(err); got != tc.kind {
				t.Fatalf("kind = %q (%v), want %q", got, err, tc.kind)
			}
			if len(exec.calls) != 0 {
				t.Errorf("executor ran: %v", exec.calls)
			}
			if stack.Depth() != depth {
				t.Errorf("stack depth changed from %d to %d", depth, stack.Depth())
			}
			if req.Meter.Used() != 0 {
				t.Errorf("gas used = %d", req.Meter.Used())
			}
		})
	}
}

func TestManagerCall_CheckOrder(t *testing.T) {
	// The callee is on the stack, denies the caller and has a mismatching
	// signature. Interface validation must win.
	r, exec := newFixture()
	m := NewManager(Config{MaxDepth: 1}, r, exec)
	stack := NewCallStack(Frame{Address: "private"})

	req := request(stack, "private", "relay")
	req.Expected = Signature{Params: []Tag{TagI64}}
	req.Args = []Value{{Tag: TagI64}}
	_, err := m.Call(context.Background(), req)
	if !errors.Is(err, errors.ErrInterfaceMismatch) {
		t.Fatalf("err = %v, want interface mismatch", err)
	}

	// With the signature fixed, permission comes before re-entrancy.
	req = request(stack, "private", "relay")
	_, err = m.Call(context.Background(), req)
	if !errors.Is(err, errors.ErrPermissionDenied) {
		t.Fatalf("err = %v, want permission denied", err)
	}

	// Re-entrancy comes before depth.
	stack = NewCallStack(Frame{Address: "root"})
	stack.Push(Frame{Address: "a"})
	_, err = m.Call(context.Background(), request(stack, "a", "relay"))
	if !errors.Is(err, errors.ErrReentrancy) {
		t.Fatalf("err = %v, want reentrancy", err)
	}
}

func TestManagerCall_DepthLimit(t *testing.T) {
	const limit = 3
	r, exec := newFixture()
	for i := 0; i < 6; i++ {
		r.contracts[fmt.Sprintf("n%d", i)] = map[string]CallablePoint{"relay": point("relay", false, "*")}
	}
	m := NewManager(Config{MaxDepth: limit}, r, exec)

	maxSeen := 0
	exec.fn = func(ctx context.Context, call *Call) ([]Value, error) {
		maxSeen = max(maxSeen, call.Stack.Depth())
		next := fmt.Sprintf("n%d", call.Stack.Depth())
		req := Request{
			Stack:    call.Stack,
			Meter:    call.Meter,
			Address:  next,
			Point:    "relay",
			Expected: bytesSig,
			Args:     call.Args,
		}
		return m.Call(ctx, req)
	}

	stack := NewCallStack(Frame{Address: "root"})
	_, err := m.Call(context.Background(), request(stack, "n0", "relay"))
	e, ok := errors.As(err)
	if !ok || e.Kind != errors.KindCallDepthExceeded {
		t.Fatalf("err = %v, want call depth exceeded", err)
	}
	if maxSeen != limit {
		t.Errorf("deepest frame = %d, want %d", maxSeen, limit)
	}
	if stack.Depth() != 0 {
		t.Errorf("stack not unwound: depth %d", stack.Depth())
	}
	wantPath := []string{"root", "n0", "n1", "n2", "n3"}
	if !slices.Equal(e.Path, wantPath) {
		t.Errorf("path = %v, want %v", e.Path, wantPath)
	}
}

func TestManagerCall_ReadOnlyPropagation(t *testing.T) {
	r, exec := newFixture()
	m := NewManager(Config{}, r, exec)

	var sawReadOnly bool
	exec.fn = func(ctx context.Context, call *Call) ([]Value, error) {
		sawReadOnly = call.ReadOnly
		return []Value{{Tag: TagRegion}}, nil
	}

	req := request(NewCallStack(Frame{Address: "root"}), "reader", "peek")
	req.ReadOnly = true
	if _, err := m.Call(context.Background(), req); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !sawReadOnly {
		t.Error("read-only flag not propagated")
	}

	// A read-only point runs read-only even from a writable context.
	req.ReadOnly = false
	sawReadOnly = false
	if _, err := m.Call(context.Background(), req); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !sawReadOnly {
		t.Error("read-only point executed writable")
	}
}

func TestManagerCall_ChildMeter(t *testing.T) {
	r, exec := newFixture()
	m := NewManager(Config{}, r, exec)

	exec.fn = func(ctx context.Context, call *Call) ([]Value, error) {
		if call.Meter.Limit() != 1_000 {
			t.Errorf("child limit = %d", call.Meter.Limit())
		}
		if err := call.Meter.Charge(2_000); err == nil {
			t.Error("child charged beyond parent remaining")
		}
		return nil, errors.OutOfGas(2_000, 1_000)
	}

	req := request(NewCallStack(Frame{Address: "root"}), "a", "relay")
	_, err := m.Call(context.Background(), req)
	if !errors.Is(err, errors.ErrOutOfGas) {
		t.Fatalf("err = %v", err)
	}
	if !req.Meter.Exhausted() {
		t.Error("parent meter not exhausted")
	}
	if r.released["a"] != 1 {
		t.Error("callee not released after failure")
	}
}

func TestManagerCall_ResultCount(t *testing.T) {
	r, exec := newFixture()
	m := NewManager(Config{}, r, exec)
	exec.fn = func(ctx context.Context, call *Call) ([]Value, error) { return nil, nil }

	_, err := m.Call(context.Background(), request(NewCallStack(Frame{Address: "root"}), "a", "relay"))
	if !errors.Is(err, errors.ErrInterfaceMismatch) {
		t.Fatalf("err = %v", err)
	}
}

func TestManagerCall_Observe(t *testing.T) {
	r, exec := newFixture()
	var states []State
	m := NewManager(Config{Observe: func(s State, _ string) { states = append(states, s) }}, r, exec)

	if _, err := m.Call(context.Background(), request(NewCallStack(Frame{Address: "root"}), "a", "relay")); err != nil {
		t.Fatal(err)
	}
	want := []State{StateResolving, StateValidating, StateExecuting, StateReturning, StateIdle}
	if !slices.Equal(states, want) {
		t.Errorf("states = %v, want %v", states, want)
	}

	states = nil
	_, _ = m.Call(context.Background(), request(NewCallStack(Frame{Address: "root"}), "nowhere", "relay"))
	want = []State{StateResolving, StateIdle}
	if !slices.Equal(states, want) {
		t.Errorf("states on failure = %v, want %v", states, want)
	}
}

func TestManagerValidateInterface(t *testing.T) {
	r, exec := newFixture()
	m := NewManager(Config{}, r, exec)
	ctx := context.Background()

	if err := m.ValidateInterface(ctx, "a", map[string]Signature{"relay": bytesSig}); err != nil {
		t.Errorf("ValidateInterface: %v", err)
	}
	err := m.ValidateInterface(ctx, "a", map[string]Signature{"relay": {Params: []Tag{TagI32}}})
	if !errors.Is(err, errors.ErrInterfaceMismatch) {
		t.Errorf("err = %v, want interface mismatch", err)
	}
	err = m.ValidateInterface(ctx, "a", map[string]Signature{"other": bytesSig})
	if !errors.Is(err, errors.ErrInterfaceMismatch) {
		t.Errorf("err = %v, want interface mismatch", err)
	}
	err = m.ValidateInterface(ctx, "nowhere", nil)
	if !errors.Is(err, errors.ErrResolution) {
		t.Errorf("err = %v, want resolution", err)
	}
	if len(exec.calls) != 0 {
		t.Error("ValidateInterface executed a contract")
	}
}

func TestManagerValidateInterface_StableMismatch(t *testing.T) {
	r, _ := newFixture()
	m := NewManager(Config{}, r, &recordingExecutor{})
	ctx := context.Background()

	expected := map[string]Signature{}
	for i := 8; i >= 1; i-- {
		expected[fmt.Sprintf("p%d", i)] = bytesSig
	}
	for i := 0; i < 100; i++ {
		err := m.ValidateInterface(ctx, "a", expected)
		if !errors.Is(err, errors.ErrInterfaceMismatch) {
			t.Fatalf("err = %v, want interface mismatch", err)
		}
		if !strings.Contains(err.Error(), `"p1"`) {
			t.Fatalf("run %d: err = %v, want first point in name order", i, err)
		}
	}
}

func TestCallStack(t *testing.T) {
	s := NewCallStack(Frame{Address: "root"})
	s.Push(Frame{Address: "a"})
	s.Push(Frame{Address: "b", ReadOnly: true})

	if s.Depth() != 2 || s.Caller() != "b" || !s.Top().ReadOnly {
		t.Errorf("unexpected stack %v", s.Frames())
	}
	if !s.Contains("root") || !s.Contains("a") || s.Contains("c") {
		t.Error("Contains wrong")
	}
	s.Pop()
	s.Pop()
	s.Pop()
	if s.Depth() != 0 || s.Caller() != "root" {
		t.Error("root frame popped")
	}
}
