package runtime

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	contractvm "github.com/wippyai/contract-vm"
	"github.com/wippyai/contract-vm/engine"
	"github.com/wippyai/contract-vm/errors"
	"github.com/wippyai/contract-vm/gas"
	"github.com/wippyai/contract-vm/linker"
	"github.com/wippyai/contract-vm/region"
	"github.com/wippyai/contract-vm/resource"
)

// typeIterator tags storage iterators in the resource table.
const typeIterator uint32 = 1

// Environment is the mutable state of one contract activation: its meter,
// the shared call stack, the backend and the guest it runs in. A dynamic
// link callee gets its own Environment sharing the caller's stack and
// backend with a child meter.
type Environment struct {
	rt        *Runtime
	backend   contractvm.Backend
	stack     *linker.CallStack
	meter     *gas.Meter
	address   string
	sender    string
	readOnly  bool
	inst      *engine.Instance
	mem       api.Memory
	iterators *resource.Table

	// gasBase is the guest counter value last written by the host.
	gasBase uint64
}

type envKey struct{}

func withEnvironment(ctx context.Context, e *Environment) context.Context {
	return context.WithValue(ctx, envKey{}, e)
}

func environmentFrom(ctx context.Context) *Environment {
	e, _ := ctx.Value(envKey{}).(*Environment)
	return e
}

func (r *Runtime) newEnvironment(inst *engine.Instance, backend contractvm.Backend, meter *gas.Meter, address string) *Environment {
	env := &Environment{
		rt:        r,
		backend:   backend,
		meter:     meter,
		address:   address,
		inst:      inst,
		mem:       inst.Memory(),
		iterators: resource.NewTable(r.cfg.MaxIterators),
	}
	env.iterators.Subscribe(resource.ObserverFunc(func(ev resource.Event) {
		Logger().Debug("iterator "+ev.Type.String(),
			zap.String("address", address),
			zap.Uint32("handle", uint32(ev.Handle)))
	}))
	return env
}

// Address returns the address of the contract the environment runs.
func (e *Environment) Address() string { return e.address }

// Meter returns the environment's gas meter.
func (e *Environment) Meter() *gas.Meter { return e.meter }

// ReadOnly reports whether storage writes are forbidden.
func (e *Environment) ReadOnly() bool { return e.readOnly }

// Stack returns the call stack of the running call, or nil between calls.
func (e *Environment) Stack() *linker.CallStack { return e.stack }

// syncIn charges the gas the guest spent since the last syncOut.
func (e *Environment) syncIn() error {
	left := e.inst.GasLeft()
	if left > e.gasBase {
		left = e.gasBase
	}
	spent := e.gasBase - left
	e.gasBase = left
	if spent == 0 {
		return nil
	}
	return e.meter.Charge(spent)
}

// syncOut hands the meter's remaining gas to the guest counter.
func (e *Environment) syncOut() {
	e.gasBase = e.meter.Remaining()
	e.inst.SetGasLeft(e.gasBase)
}

// invoke calls a guest function with the meter synchronised on both sides
// and classifies any failure.
func (e *Environment) invoke(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	fn := e.inst.Function(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseRuntime, "export", name)
	}
	if e.meter.Exhausted() {
		return nil, errors.OutOfGas(1, 0)
	}
	e.syncOut()
	res, err := fn.Call(withEnvironment(ctx, e), args...)
	syncErr := e.syncIn()
	if err != nil {
		return nil, e.classify(name, err)
	}
	if syncErr != nil {
		return nil, syncErr
	}
	return res, nil
}

// classify maps a failed guest call to exactly one error kind. Errors
// raised by host functions, including nested calls, pass through as is.
func (e *Environment) classify(name string, err error) error {
	if ve, ok := errors.As(err); ok {
		if ve.Kind == errors.KindOutOfGas {
			e.meter.Exhaust()
		}
		return ve
	}
	if e.inst.Exhausted() || e.meter.Exhausted() {
		remaining := e.meter.Remaining()
		e.meter.Exhaust()
		return errors.OutOfGas(remaining+1, 0)
	}
	return errors.Trap("call "+name, err)
}

// charge consumes host gas.
func (e *Environment) charge(points uint64) error {
	if points == 0 {
		return nil
	}
	return e.meter.Charge(points)
}

// read copies a region out of guest memory.
func (e *Environment) read(ptr uint32, limit uint32) ([]byte, error) {
	return region.Read(e.mem, ptr, limit)
}

// readOptional is read with pointer 0 meaning absent.
func (e *Environment) readOptional(ptr uint32, limit uint32) ([]byte, error) {
	return region.ReadOptional(e.mem, ptr, limit)
}

// write fills the guest region at ptr.
func (e *Environment) write(ptr uint32, data []byte) error {
	return region.Write(e.mem, ptr, data)
}

// put allocates a guest region holding data and charges the copy.
func (e *Environment) put(ctx context.Context, data []byte) (uint32, error) {
	if err := e.charge(gas.PerByte(0, e.rt.cfg.Costs.RegionCopyPerByte, len(data))); err != nil {
		return 0, err
	}
	return region.Put(e.mem, allocator{ctx: ctx, env: e}, data)
}

// allocator calls the guest's allocate and deallocate exports.
type allocator struct {
	ctx context.Context
	env *Environment
}

func (a allocator) Allocate(size uint32) (uint32, error) {
	res, err := a.env.invoke(a.ctx, engine.ExportAllocate, uint64(size))
	if err != nil {
		return 0, err
	}
	ptr := uint32(res[0])
	if ptr == 0 {
		return 0, errors.New(errors.PhaseRegion, errors.KindInvalidInput).
			Detail("allocate(%d) returned a null region", size).
			Build()
	}
	return ptr, nil
}

func (a allocator) Deallocate(ptr uint32) error {
	_, err := a.env.invoke(a.ctx, engine.ExportDeallocate, uint64(ptr))
	return err
}

// close releases the iterators still open.
func (e *Environment) close() {
	if err := e.iterators.Clear(); err != nil {
		Logger().Warn("close iterators", zap.String("address", e.address), zap.Error(err))
	}
}
