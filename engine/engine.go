package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	contractvm "github.com/wippyai/contract-vm"
	"github.com/wippyai/contract-vm/errors"
	"github.com/wippyai/contract-vm/internal/bytecode"
	"github.com/wippyai/contract-vm/linker"
)

// LinkHandler serves a call to a dynamic link import. stack holds the
// import's params on entry and receives its results.
type LinkHandler func(ctx context.Context, caller api.Module, imp *linker.Import, stack []uint64)

// Engine validates, instruments and compiles contracts on one wazero
// runtime. It is safe for concurrent use.
type Engine struct {
	cfg     Config
	runtime wazero.Runtime
	host    map[string]HostFunc

	mu    sync.Mutex
	links map[string]api.Module
	link  atomic.Pointer[LinkHandler]
}

// New creates an engine and instantiates the env host module from host.
func New(ctx context.Context, cfg Config, host []HostFunc) (*Engine, error) {
	cfg = cfg.withDefaults()

	rcfg := wazero.NewRuntimeConfig().WithMemoryLimitPages(cfg.MemoryLimitPages)
	if cfg.CompilationCacheDir != "" {
		cc, err := wazero.NewCompilationCacheWithDir(cfg.CompilationCacheDir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "compilation cache dir")
		}
		rcfg = rcfg.WithCompilationCache(cc)
	}

	e := &Engine{
		cfg:     cfg,
		runtime: wazero.NewRuntimeWithConfig(ctx, rcfg),
		host:    make(map[string]HostFunc, len(host)),
		links:   make(map[string]api.Module),
	}

	b := e.runtime.NewHostModuleBuilder(HostModule)
	for _, h := range host {
		if _, dup := e.host[h.Name]; dup {
			_ = e.runtime.Close(ctx)
			return nil, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("host function %q defined twice", h.Name))
		}
		e.host[h.Name] = h
		b.NewFunctionBuilder().WithGoModuleFunction(h.Fn, h.Params, h.Results).Export(h.Name)
	}
	for _, v := range cfg.SupportedVersions {
		b.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(context.Context, api.Module, []uint64) {}), nil, nil).
			Export(VersionPrefix + strconv.Itoa(v))
	}
	if _, err := b.Instantiate(ctx); err != nil {
		_ = e.runtime.Close(ctx)
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "instantiate host module")
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// SetLinkHandler installs the function serving dynamic link imports.
func (e *Engine) SetLinkHandler(h LinkHandler) {
	e.link.Store(&h)
}

// Compile validates, instruments and compiles code.
func (e *Engine) Compile(ctx context.Context, checksum contractvm.Checksum, code []byte) (*Module, error) {
	m, err := bytecode.Parse(code)
	if err != nil {
		return nil, errors.Compile("decode module", err)
	}
	info, err := e.validate(m)
	if err != nil {
		return nil, err
	}
	info.CodeSize = len(code)

	renamed := make(map[string]string, len(info.DynamicImports))
	for _, imp := range info.DynamicImports {
		renamed[imp.Key()] = imp.HostModule()
	}
	instrumented, err := bytecode.Instrument(m, bytecode.InstrumentOptions{
		Cost: e.cfg.Cost,
		RenameImport: func(imp bytecode.Import) (string, bool) {
			name, ok := renamed[imp.Module+"."+imp.Name]
			return name, ok
		},
	})
	if err != nil {
		return nil, errors.Compile("instrument module", err)
	}

	blob, err := encodeArtifact(info, instrumented)
	if err != nil {
		return nil, err
	}
	mod, err := e.load(ctx, checksum, info, instrumented)
	if err != nil {
		return nil, err
	}
	mod.artifact = blob
	Logger().Debug("compiled contract",
		zap.String("checksum", checksum.Short()),
		zap.Int("code_size", len(code)),
		zap.Int("instrumented_size", len(instrumented)),
		zap.Int("instructions", info.Instructions),
		zap.Int("callable_points", len(info.CallablePoints)))
	return mod, nil
}

// Restore rebuilds a module from a blob produced by Module.Artifact.
func (e *Engine) Restore(ctx context.Context, checksum contractvm.Checksum, blob []byte) (*Module, error) {
	info, code, err := decodeArtifact(blob)
	if err != nil {
		return nil, err
	}
	if !e.cfg.supportsVersion(info.InterfaceVersion) {
		return nil, errors.VersionMismatch(errors.PhaseCache,
			fmt.Sprintf("stored artifact uses interface version %d, supported %v", info.InterfaceVersion, e.cfg.SupportedVersions))
	}
	mod, err := e.load(ctx, checksum, info, code)
	if err != nil {
		return nil, err
	}
	mod.artifact = append([]byte(nil), blob...)
	return mod, nil
}

func (e *Engine) load(ctx context.Context, checksum contractvm.Checksum, info *Info, code []byte) (*Module, error) {
	for i := range info.DynamicImports {
		if err := e.ensureLinkModule(ctx, &info.DynamicImports[i]); err != nil {
			return nil, err
		}
	}
	compiled, err := e.runtime.CompileModule(ctx, code)
	if err != nil {
		return nil, errors.Compile("compile module", err)
	}
	return &Module{
		Checksum: checksum,
		Info:     info,
		engine:   e,
		compiled: compiled,
		code:     code,
	}, nil
}

// ensureLinkModule defines the host module a dynamic import is bound to.
func (e *Engine) ensureLinkModule(ctx context.Context, imp *linker.Import) error {
	name := imp.HostModule()

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.links[name]; ok {
		return nil
	}

	bound := *imp
	fn := api.GoModuleFunc(func(ctx context.Context, caller api.Module, stack []uint64) {
		h := e.link.Load()
		if h == nil {
			panic(errors.NotInitialized(errors.PhaseLinking, "dynamic link handler"))
		}
		(*h)(ctx, caller, &bound, stack)
	})
	mod, err := e.runtime.NewHostModuleBuilder(name).
		NewFunctionBuilder().WithGoModuleFunction(fn, imp.Params, imp.Results).Export(imp.Name).
		Instantiate(ctx)
	if err != nil {
		return errors.Wrap(errors.PhaseLinking, errors.KindResolution, err, "define link module "+name)
	}
	e.links[name] = mod
	return nil
}

// Close releases the wazero runtime and every module compiled by it.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}
