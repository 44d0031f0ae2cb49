package linker

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"go.uber.org/zap"

	"github.com/wippyai/contract-vm/errors"
	"github.com/wippyai/contract-vm/gas"
)

// State is the phase of a dynamic link call.
type State uint8

const (
	StateIdle State = iota
	StateResolving
	StateValidating
	StateExecuting
	StateReturning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateValidating:
		return "validating"
	case StateExecuting:
		return "executing"
	case StateReturning:
		return "returning"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Callee is a resolved dynamic link target.
type Callee struct {
	Address string
	Points  map[string]CallablePoint
	// Handle is opaque to the manager and handed back to the Executor.
	Handle any
	// Release is called once the call has finished, successfully or not.
	Release func()
}

func (c *Callee) release() {
	if c != nil && c.Release != nil {
		c.Release()
	}
}

// Resolver locates the contract behind an address.
type Resolver interface {
	Resolve(ctx context.Context, address string) (*Callee, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, address string) (*Callee, error)

func (f ResolverFunc) Resolve(ctx context.Context, address string) (*Callee, error) {
	return f(ctx, address)
}

// Value is one argument or result of a dynamic link call. Raw carries
// numeric tags, Bytes carries regions.
type Value struct {
	Tag   Tag
	Raw   uint64
	Bytes []byte
}

// Call is a validated dynamic link invocation handed to the Executor.
type Call struct {
	Callee   *Callee
	Point    CallablePoint
	Args     []Value
	Meter    *gas.Meter
	Stack    *CallStack
	ReadOnly bool
}

// Executor runs a callable point in a fresh callee instance.
type Executor interface {
	Invoke(ctx context.Context, call *Call) ([]Value, error)
}

// Request is a dynamic link call issued by the innermost frame of Stack.
type Request struct {
	Stack    *CallStack
	Meter    *gas.Meter
	Address  string
	Point    string
	Expected Signature
	Args     []Value
	ReadOnly bool
}

// Config configures a Manager.
type Config struct {
	// MaxDepth is the number of nested dynamic link frames allowed above
	// the top-level contract.
	MaxDepth int
	// Observe, when set, receives every state transition.
	Observe func(state State, address string)
}

// DefaultMaxDepth is used when Config.MaxDepth is zero.
const DefaultMaxDepth = 10

// Manager performs dynamic link calls. Checks run in a fixed order:
// resolution, interface, permission, re-entrancy, depth. Nothing is
// executed unless all of them pass.
type Manager struct {
	cfg      Config
	resolver Resolver
	exec     Executor
}

// NewManager creates a Manager.
func NewManager(cfg Config, resolver Resolver, exec Executor) *Manager {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	return &Manager{cfg: cfg, resolver: resolver, exec: exec}
}

// MaxDepth returns the configured depth limit.
func (m *Manager) MaxDepth() int {
	return m.cfg.MaxDepth
}

func (m *Manager) observe(s State, address string) {
	if m.cfg.Observe != nil {
		m.cfg.Observe(s, address)
	}
}

// Call performs req and returns the callee's results.
func (m *Manager) Call(ctx context.Context, req Request) ([]Value, error) {
	if req.Stack == nil || req.Meter == nil {
		return nil, errors.InvalidInput(errors.PhaseLinking, "dynamic link call without stack or meter")
	}
	defer m.observe(StateIdle, req.Address)

	m.observe(StateResolving, req.Address)
	callee, err := m.resolver.Resolve(ctx, req.Address)
	if err != nil {
		if errors.KindOf(err) == errors.KindResolution {
			return nil, err
		}
		return nil, errors.Resolution(req.Address, err)
	}
	if callee == nil {
		return nil, errors.Resolution(req.Address, fmt.Errorf("no contract at address"))
	}
	defer callee.release()

	m.observe(StateValidating, req.Address)
	point, err := m.validate(callee, req)
	if err != nil {
		return nil, err
	}

	caller := req.Stack.Caller()
	if !point.Allows(caller) {
		return nil, errors.PermissionDenied(errors.PhaseLinking,
			fmt.Sprintf("%q may not call %s.%s", caller, req.Address, req.Point))
	}
	if req.ReadOnly && !point.ReadOnly {
		return nil, errors.PermissionDenied(errors.PhaseLinking,
			fmt.Sprintf("read-only context may not call read-write point %s.%s", req.Address, req.Point))
	}

	if req.Stack.Contains(req.Address) {
		return nil, errors.Reentrancy(req.Address, append(req.Stack.Addresses(), req.Address))
	}
	if depth := req.Stack.Depth() + 1; depth > m.cfg.MaxDepth {
		return nil, errors.CallDepthExceeded(depth, m.cfg.MaxDepth, append(req.Stack.Addresses(), req.Address))
	}

	child, err := req.Meter.Child(req.Meter.Remaining())
	if err != nil {
		return nil, err
	}

	readOnly := req.ReadOnly || point.ReadOnly
	req.Stack.Push(Frame{Address: req.Address, Entry: req.Point, ReadOnly: readOnly})
	defer req.Stack.Pop()

	m.observe(StateExecuting, req.Address)
	Logger().Debug("dynamic link call",
		zap.String("caller", caller),
		zap.String("callee", req.Address),
		zap.String("point", req.Point),
		zap.Int("depth", req.Stack.Depth()))

	results, err := m.exec.Invoke(ctx, &Call{
		Callee:   callee,
		Point:    point,
		Args:     req.Args,
		Meter:    child,
		Stack:    req.Stack,
		ReadOnly: readOnly,
	})
	m.observe(StateReturning, req.Address)
	if err != nil {
		return nil, err
	}
	if len(results) != len(point.Signature.Results) {
		return nil, errors.InterfaceMismatch(req.Point,
			fmt.Sprintf("callee returned %d values, declared %d", len(results), len(point.Signature.Results)))
	}
	return results, nil
}

func (m *Manager) validate(callee *Callee, req Request) (CallablePoint, error) {
	point, ok := callee.Points[req.Point]
	if !ok {
		return point, errors.InterfaceMismatch(req.Point,
			fmt.Sprintf("contract %q exposes no such callable point", req.Address))
	}
	if diff := req.Expected.Diff(point.Signature); diff != "" {
		return point, errors.InterfaceMismatch(req.Point, diff)
	}
	if len(req.Args) != len(req.Expected.Params) {
		return point, errors.InterfaceMismatch(req.Point,
			fmt.Sprintf("got %d arguments for %d params", len(req.Args), len(req.Expected.Params)))
	}
	for i, a := range req.Args {
		if a.Tag != req.Expected.Params[i] {
			return point, errors.InterfaceMismatch(req.Point,
				fmt.Sprintf("argument %d is %s, declared %s", i, a.Tag, req.Expected.Params[i]))
		}
	}
	return point, nil
}

// ValidateInterface checks that the contract at address exposes every
// callable point in expected with an identical signature. Points are checked
// in name order so the reported mismatch is stable.
func (m *Manager) ValidateInterface(ctx context.Context, address string, expected map[string]Signature) error {
	callee, err := m.resolver.Resolve(ctx, address)
	if err != nil {
		if errors.KindOf(err) == errors.KindResolution {
			return err
		}
		return errors.Resolution(address, err)
	}
	if callee == nil {
		return errors.Resolution(address, fmt.Errorf("no contract at address"))
	}
	defer callee.release()

	for _, name := range slices.Sorted(maps.Keys(expected)) {
		sig := expected[name]
		point, ok := callee.Points[name]
		if !ok {
			return errors.InterfaceMismatch(name, fmt.Sprintf("contract %q exposes no such callable point", address))
		}
		if diff := sig.Diff(point.Signature); diff != "" {
			return errors.InterfaceMismatch(name, diff)
		}
	}
	return nil
}
