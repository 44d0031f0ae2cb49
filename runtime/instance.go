package runtime

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	contractvm "github.com/wippyai/contract-vm"
	"github.com/wippyai/contract-vm/cache"
	"github.com/wippyai/contract-vm/engine"
	"github.com/wippyai/contract-vm/errors"
	"github.com/wippyai/contract-vm/gas"
	"github.com/wippyai/contract-vm/linker"
)

// InstanceOptions bind an instance to a contract, a backend and a budget.
type InstanceOptions struct {
	// Address of the contract. When Checksum is zero the code registered
	// for Address is used.
	Address  string
	Checksum contractvm.Checksum
	Backend  contractvm.Backend
	GasLimit uint64
	// ReadOnly forbids storage writes for every call. Query calls are
	// read-only regardless.
	ReadOnly bool
	// Sender is reported by get_caller_addr in the top-level contract.
	Sender string
}

// Instance is a contract instantiated for one caller. Calls on it run one
// at a time and share its gas meter.
type Instance struct {
	rt       *Runtime
	artifact *cache.Artifact
	inst     *engine.Instance
	env      *Environment
	readOnly bool
	busy     atomic.Bool
	closed   atomic.Bool
}

// NewInstance instantiates stored code.
func (r *Runtime) NewInstance(ctx context.Context, opts InstanceOptions) (*Instance, error) {
	if opts.Address == "" {
		return nil, errors.InvalidInput(errors.PhaseInstantiate, "empty contract address")
	}
	checksum := opts.Checksum
	if checksum.IsZero() {
		c, ok := r.Contract(opts.Address)
		if !ok {
			return nil, errors.NotFound(errors.PhaseInstantiate, "contract", opts.Address)
		}
		checksum = c
	}

	art, err := r.acquire(ctx, checksum)
	if err != nil {
		return nil, err
	}
	inst, err := art.Module().Instantiate(ctx)
	if err != nil {
		art.Release()
		return nil, err
	}
	env := r.newEnvironment(inst, opts.Backend, gas.NewMeter(opts.GasLimit), opts.Address)
	env.sender = opts.Sender
	return &Instance{
		rt:       r,
		artifact: art,
		inst:     inst,
		env:      env,
		readOnly: opts.ReadOnly,
	}, nil
}

// Address returns the contract address.
func (i *Instance) Address() string {
	return i.env.address
}

// Info returns the static interface of the contract.
func (i *Instance) Info() *engine.Info {
	return i.artifact.Module().Info
}

// Environment returns the instance's environment.
func (i *Instance) Environment() *Environment {
	return i.env
}

// GasUsed returns the gas consumed by all calls so far.
func (i *Instance) GasUsed() uint64 {
	return i.env.meter.Used()
}

// GasLeft returns the remaining budget.
func (i *Instance) GasLeft() uint64 {
	return i.env.meter.Remaining()
}

// Call runs an entry point. Every arg is passed as a region pointer; the
// region the entry returns is copied out, nil when it returns 0.
func (i *Instance) Call(ctx context.Context, entry string, args ...[]byte) (data []byte, err error) {
	if i.closed.Load() {
		return nil, errors.NotInitialized(errors.PhaseRuntime, "instance")
	}
	if !i.busy.CompareAndSwap(false, true) {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "instance is already running a call")
	}
	defer i.busy.Store(false)

	if !i.Info().HasEntry(entry) {
		return nil, errors.NotFound(errors.PhaseRuntime, "entry point", entry)
	}

	env := i.env
	env.readOnly = i.readOnly || entry == engine.EntryQuery
	env.stack = linker.NewCallStack(linker.Frame{Address: env.address, Entry: entry, ReadOnly: env.readOnly})
	defer func() {
		env.stack = nil
		env.close()
	}()

	start, before := time.Now(), env.meter.Used()
	defer func() {
		used := env.meter.Used() - before
		i.rt.observer.CallFinished(CallEvent{
			Address:  env.address,
			Entry:    entry,
			GasUsed:  used,
			Duration: time.Since(start),
			Err:      err,
		})
		if err != nil {
			Logger().Debug("call failed",
				zap.String("address", env.address),
				zap.String("entry", entry),
				zap.Uint64("gas_used", used),
				zap.Error(err))
		}
	}()

	ptrs := make([]uint64, len(args))
	for n, arg := range args {
		ptr, err := env.put(ctx, arg)
		if err != nil {
			return nil, err
		}
		ptrs[n] = uint64(ptr)
	}

	res, err := env.invoke(ctx, entry, ptrs...)
	if err != nil {
		return nil, err
	}
	if len(res) != 1 {
		return nil, errors.InvalidInput(errors.PhaseRuntime,
			fmt.Sprintf("entry %q returned %d values", entry, len(res)))
	}
	return env.readOptional(uint32(res[0]), MaxResultLength)
}

// Close releases the guest and the module reference.
func (i *Instance) Close(ctx context.Context) error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := i.inst.Close(ctx)
	i.artifact.Release()
	return err
}

// CallRequest describes a one-shot call through Runtime.Call.
type CallRequest struct {
	Address  string
	Checksum contractvm.Checksum
	Entry    string
	Args     [][]byte
	Backend  contractvm.Backend
	GasLimit uint64
	ReadOnly bool
	Sender   string
}

// CallResult is the outcome of a one-shot call. Gas fields are set on
// failure too.
type CallResult struct {
	Data    []byte
	GasUsed uint64
	GasLeft uint64
}

// Call instantiates the contract, runs one entry point and closes the
// instance.
func (r *Runtime) Call(ctx context.Context, req CallRequest) (CallResult, error) {
	inst, err := r.NewInstance(ctx, InstanceOptions{
		Address:  req.Address,
		Checksum: req.Checksum,
		Backend:  req.Backend,
		GasLimit: req.GasLimit,
		ReadOnly: req.ReadOnly,
		Sender:   req.Sender,
	})
	if err != nil {
		return CallResult{GasLeft: req.GasLimit}, err
	}
	defer inst.Close(ctx)

	data, err := inst.Call(ctx, req.Entry, req.Args...)
	return CallResult{Data: data, GasUsed: inst.GasUsed(), GasLeft: inst.GasLeft()}, err
}

func (r *Runtime) callEntry(ctx context.Context, entry string, req CallRequest, msg []byte) (CallResult, error) {
	req.Entry = entry
	req.Args = [][]byte{msg}
	return r.Call(ctx, req)
}

// Instantiate runs the instantiate entry point with msg.
func (r *Runtime) Instantiate(ctx context.Context, req CallRequest, msg []byte) (CallResult, error) {
	return r.callEntry(ctx, engine.EntryInstantiate, req, msg)
}

// Execute runs the execute entry point with msg.
func (r *Runtime) Execute(ctx context.Context, req CallRequest, msg []byte) (CallResult, error) {
	return r.callEntry(ctx, engine.EntryExecute, req, msg)
}

// Query runs the query entry point with msg in a read-only context.
func (r *Runtime) Query(ctx context.Context, req CallRequest, msg []byte) (CallResult, error) {
	req.ReadOnly = true
	return r.callEntry(ctx, engine.EntryQuery, req, msg)
}

// Migrate runs the migrate entry point with msg.
func (r *Runtime) Migrate(ctx context.Context, req CallRequest, msg []byte) (CallResult, error) {
	return r.callEntry(ctx, engine.EntryMigrate, req, msg)
}
