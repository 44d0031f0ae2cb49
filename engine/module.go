package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	contractvm "github.com/wippyai/contract-vm"
	"github.com/wippyai/contract-vm/errors"
	"github.com/wippyai/contract-vm/internal/bytecode"
)

// Module is a validated, instrumented and compiled contract. It is shared
// read-only by every instance created from it.
type Module struct {
	Checksum contractvm.Checksum
	Info     *Info

	engine   *Engine
	compiled wazero.CompiledModule
	code     []byte
	artifact []byte
}

// Size returns the size of the instrumented module in bytes.
func (m *Module) Size() int {
	return len(m.code)
}

// Artifact returns the serialized form consumed by Engine.Restore. The
// returned slice must not be modified.
func (m *Module) Artifact() []byte {
	return m.artifact
}

// Close releases the compiled code. Instances created earlier must be
// closed first.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// Instantiate creates a fresh instance with its own memory and globals.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	if !m.engine.cfg.supportsVersion(m.Info.InterfaceVersion) {
		return nil, errors.VersionMismatch(errors.PhaseInstantiate,
			fmt.Sprintf("interface version %d is not supported", m.Info.InterfaceVersion))
	}

	mod, err := m.engine.runtime.InstantiateModule(ctx, m.compiled,
		wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		return nil, errors.Wrap(errors.PhaseInstantiate, errors.KindValidation, err, "instantiate "+m.Checksum.Short())
	}

	gas, ok := mod.ExportedGlobal(bytecode.GasLeftExport).(api.MutableGlobal)
	flag := mod.ExportedGlobal(bytecode.ExhaustedExport)
	mem := mod.ExportedMemory(ExportMemory)
	if !ok || flag == nil || mem == nil {
		_ = mod.Close(ctx)
		return nil, errors.NotInitialized(errors.PhaseInstantiate, "metering globals or memory")
	}
	return &Instance{module: m, mod: mod, gas: gas, flag: flag, mem: mem}, nil
}

// Instance is one instantiation of a Module.
type Instance struct {
	module *Module
	mod    api.Module
	gas    api.MutableGlobal
	flag   api.Global
	mem    api.Memory
}

// Module returns the compiled module the instance was created from.
func (i *Instance) Module() *Module {
	return i.module
}

// Memory returns the instance's linear memory.
func (i *Instance) Memory() api.Memory {
	return i.mem
}

// Function returns an exported function, or nil.
func (i *Instance) Function(name string) api.Function {
	return i.mod.ExportedFunction(name)
}

// GasLeft returns the guest-side gas counter.
func (i *Instance) GasLeft() uint64 {
	return i.gas.Get()
}

// SetGasLeft overwrites the guest-side gas counter.
func (i *Instance) SetGasLeft(v uint64) {
	i.gas.Set(v)
}

// Exhausted reports whether the guest ran out of gas.
func (i *Instance) Exhausted() bool {
	return i.flag.Get() != 0
}

// Close releases the instance.
func (i *Instance) Close(ctx context.Context) error {
	return i.mod.Close(ctx)
}
