package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/contract-vm/cache"
	"github.com/wippyai/contract-vm/errors"
	"github.com/wippyai/contract-vm/linker"
)

// handleLink serves a dynamic link import in the caller's environment. The
// first param is the callee address region; the rest follow imp.Expected.
func (r *Runtime) handleLink(ctx context.Context, _ api.Module, imp *linker.Import, stack []uint64) {
	env := environmentFrom(ctx)
	if env == nil {
		panic(errors.NotInitialized(errors.PhaseLinking, "environment"))
	}
	if err := env.syncIn(); err != nil {
		panic(err)
	}
	if err := r.link(ctx, env, imp, stack); err != nil {
		panic(err)
	}
	env.syncOut()
}

func (r *Runtime) link(ctx context.Context, env *Environment, imp *linker.Import, stack []uint64) error {
	if env.stack == nil {
		return errors.NotInitialized(errors.PhaseLinking, "call stack")
	}
	if err := env.charge(r.cfg.Costs.DynamicLink); err != nil {
		return err
	}
	addr, err := env.read(uint32(stack[0]), MaxHumanAddressLength)
	if err != nil {
		return err
	}

	params := imp.Expected.Params
	if len(stack) < len(params)+1 {
		return errors.InterfaceMismatch(imp.Name,
			fmt.Sprintf("import passes %d arguments for %d params", len(stack)-1, len(params)))
	}
	args := make([]linker.Value, len(params))
	for i, tag := range params {
		raw := stack[i+1]
		args[i] = linker.Value{Tag: tag, Raw: raw}
		if tag == linker.TagRegion {
			b, err := env.read(uint32(raw), MaxResultLength)
			if err != nil {
				return err
			}
			args[i].Bytes = b
		}
	}

	results, err := r.linker.Call(ctx, linker.Request{
		Stack:    env.stack,
		Meter:    env.meter,
		Address:  string(addr),
		Point:    imp.Name,
		Expected: imp.Expected,
		Args:     args,
		ReadOnly: env.readOnly,
	})
	if err != nil {
		return err
	}

	for i, v := range results {
		if v.Tag != linker.TagRegion {
			stack[i] = v.Raw
			continue
		}
		if v.Bytes == nil {
			stack[i] = 0
			continue
		}
		ptr, err := env.put(ctx, v.Bytes)
		if err != nil {
			return err
		}
		stack[i] = uint64(ptr)
	}
	return nil
}

// resolve maps an address to its compiled contract. The returned callee
// holds a cache reference until the manager releases it.
func (r *Runtime) resolve(ctx context.Context, address string) (*linker.Callee, error) {
	checksum, ok := r.Contract(address)
	if !ok {
		return nil, errors.Resolution(address, fmt.Errorf("no contract registered"))
	}
	art, err := r.acquire(ctx, checksum)
	if err != nil {
		return nil, errors.Resolution(address, err)
	}
	return &linker.Callee{
		Address: address,
		Points:  art.Module().Info.CallablePoints,
		Handle:  art,
		Release: art.Release,
	}, nil
}

// linkExecutor runs callable points for the linker.
type linkExecutor struct {
	rt *Runtime
}

// Invoke instantiates the callee, runs the callable point under the child
// meter and copies region results out of the callee's memory.
func (x linkExecutor) Invoke(ctx context.Context, call *linker.Call) (out []linker.Value, err error) {
	r := x.rt
	parent := environmentFrom(ctx)
	if parent == nil {
		return nil, errors.NotInitialized(errors.PhaseLinking, "caller environment")
	}
	art, ok := call.Callee.Handle.(*cache.Artifact)
	if !ok {
		return nil, errors.NotInitialized(errors.PhaseLinking, "callee module")
	}

	start := time.Now()
	defer func() {
		r.observer.CallFinished(CallEvent{
			Address:  call.Callee.Address,
			Entry:    call.Point.Name,
			Depth:    call.Stack.Depth(),
			GasUsed:  call.Meter.Used(),
			Duration: time.Since(start),
			Err:      err,
		})
	}()

	inst, err := art.Module().Instantiate(ctx)
	if err != nil {
		return nil, err
	}
	defer inst.Close(ctx)

	env := r.newEnvironment(inst, parent.backend, call.Meter, call.Callee.Address)
	env.stack = call.Stack
	env.sender = parent.sender
	env.readOnly = call.ReadOnly
	defer env.close()

	args := make([]uint64, len(call.Args))
	for i, a := range call.Args {
		if a.Tag != linker.TagRegion {
			args[i] = a.Raw
			continue
		}
		ptr, err := env.put(ctx, a.Bytes)
		if err != nil {
			return nil, err
		}
		args[i] = uint64(ptr)
	}

	res, err := env.invoke(ctx, call.Point.Name, args...)
	if err != nil {
		return nil, err
	}

	tags := call.Point.Signature.Results
	if len(res) != len(tags) {
		return nil, errors.InterfaceMismatch(call.Point.Name,
			fmt.Sprintf("callee returned %d values, declared %d", len(res), len(tags)))
	}
	out = make([]linker.Value, len(tags))
	for i, tag := range tags {
		out[i] = linker.Value{Tag: tag, Raw: res[i]}
		if tag == linker.TagRegion {
			b, err := env.readOptional(uint32(res[i]), MaxResultLength)
			if err != nil {
				return nil, err
			}
			out[i].Bytes = b
		}
	}
	return out, nil
}
