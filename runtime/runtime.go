package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	contractvm "github.com/wippyai/contract-vm"
	"github.com/wippyai/contract-vm/cache"
	"github.com/wippyai/contract-vm/engine"
	"github.com/wippyai/contract-vm/errors"
	"github.com/wippyai/contract-vm/linker"
)

// Runtime stores contract code, compiles it through the module cache and
// runs calls. It is safe for concurrent use; each call runs in its own
// Instance.
type Runtime struct {
	cfg      Config
	engine   *engine.Engine
	cache    *cache.Cache
	linker   *linker.Manager
	observer Observer

	mu        sync.RWMutex
	codes     map[contractvm.Checksum][]byte
	contracts map[string]contractvm.Checksum
}

// New creates a runtime with its own engine and module cache.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	cfg = cfg.withDefaults()
	r := &Runtime{
		cfg:       cfg,
		observer:  cfg.Observer,
		codes:     make(map[contractvm.Checksum][]byte),
		contracts: make(map[string]contractvm.Checksum),
	}
	if r.observer == nil {
		r.observer = nopObserver{}
	}

	eng, err := engine.New(ctx, cfg.Engine, r.hostFuncs())
	if err != nil {
		return nil, err
	}
	eng.SetLinkHandler(r.handleLink)
	r.engine = eng

	c, err := cache.New(eng, cfg.Cache)
	if err != nil {
		_ = eng.Close(ctx)
		return nil, err
	}
	r.cache = c

	r.linker = linker.NewManager(linker.Config{
		MaxDepth: cfg.MaxCallDepth,
		Observe:  r.observer.LinkState,
	}, linker.ResolverFunc(r.resolve), linkExecutor{rt: r})
	return r, nil
}

// Close releases the module cache and the engine. Instances must be closed
// first.
func (r *Runtime) Close(ctx context.Context) error {
	cerr := r.cache.Close(ctx)
	if err := r.engine.Close(ctx); err != nil {
		return err
	}
	return cerr
}

// Config returns the effective configuration.
func (r *Runtime) Config() Config {
	return r.cfg
}

// Cache returns the module cache.
func (r *Runtime) Cache() *cache.Cache {
	return r.cache
}

// Linker returns the dynamic link manager.
func (r *Runtime) Linker() *linker.Manager {
	return r.linker
}

// StoreCode validates and compiles code and keeps it under its checksum.
// Storing the same code twice is a no-op.
func (r *Runtime) StoreCode(ctx context.Context, code []byte) (contractvm.Checksum, error) {
	checksum := contractvm.NewChecksum(code)
	art, err := r.cache.GetOrCompile(ctx, checksum, code)
	if err != nil {
		return checksum, err
	}
	art.Release()

	r.mu.Lock()
	if _, ok := r.codes[checksum]; !ok {
		r.codes[checksum] = append([]byte(nil), code...)
	}
	r.mu.Unlock()
	Logger().Info("stored code", zap.String("checksum", checksum.String()), zap.Int("size", len(code)))
	return checksum, nil
}

// GetCode returns stored code.
func (r *Runtime) GetCode(checksum contractvm.Checksum) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code, ok := r.codes[checksum]
	if !ok {
		return nil, errors.NotFound(errors.PhaseCache, "code", checksum.String())
	}
	return code, nil
}

// RemoveCode drops stored code and its compiled module. Contracts still
// registered with the checksum fail to resolve afterwards.
func (r *Runtime) RemoveCode(checksum contractvm.Checksum) error {
	r.mu.Lock()
	_, ok := r.codes[checksum]
	delete(r.codes, checksum)
	r.mu.Unlock()
	if !ok {
		return errors.NotFound(errors.PhaseCache, "code", checksum.String())
	}
	return r.cache.Remove(checksum)
}

// Checksums returns the stored checksums in hex order.
func (r *Runtime) Checksums() []contractvm.Checksum {
	r.mu.RLock()
	out := make([]contractvm.Checksum, 0, len(r.codes))
	for c := range r.codes {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// RegisterContract binds address to stored code, replacing any earlier
// binding.
func (r *Runtime) RegisterContract(address string, checksum contractvm.Checksum) error {
	if address == "" {
		return errors.InvalidInput(errors.PhaseLinking, "empty contract address")
	}
	if len(address) > MaxHumanAddressLength {
		return errors.InvalidInput(errors.PhaseLinking,
			fmt.Sprintf("address of %d bytes exceeds %d", len(address), MaxHumanAddressLength))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codes[checksum]; !ok {
		return errors.NotFound(errors.PhaseCache, "code", checksum.String())
	}
	r.contracts[address] = checksum
	return nil
}

// Contract returns the checksum registered for address.
func (r *Runtime) Contract(address string) (contractvm.Checksum, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contracts[address]
	return c, ok
}

// Pin keeps a stored module out of LRU eviction.
func (r *Runtime) Pin(ctx context.Context, checksum contractvm.Checksum) error {
	code, err := r.GetCode(checksum)
	if err != nil {
		return err
	}
	return r.cache.Pin(ctx, checksum, code)
}

// Unpin returns a pinned module to the LRU tier.
func (r *Runtime) Unpin(checksum contractvm.Checksum) {
	r.cache.Unpin(checksum)
}

// Info returns the static interface of stored code.
func (r *Runtime) Info(ctx context.Context, checksum contractvm.Checksum) (*engine.Info, error) {
	art, err := r.acquire(ctx, checksum)
	if err != nil {
		return nil, err
	}
	defer art.Release()
	return art.Module().Info, nil
}

// acquire returns a cache reference to the compiled module of checksum.
func (r *Runtime) acquire(ctx context.Context, checksum contractvm.Checksum) (*cache.Artifact, error) {
	r.mu.RLock()
	code, ok := r.codes[checksum]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound(errors.PhaseCache, "code", checksum.String())
	}
	return r.cache.GetOrCompile(ctx, checksum, code)
}
