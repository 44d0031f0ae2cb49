package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	contractvm "github.com/wippyai/contract-vm"
	"github.com/wippyai/contract-vm/engine"
	"github.com/wippyai/contract-vm/errors"
)

// Compiler turns code into modules and restores modules from artifacts.
// *engine.Engine implements it.
type Compiler interface {
	Compile(ctx context.Context, checksum contractvm.Checksum, code []byte) (*engine.Module, error)
	Restore(ctx context.Context, checksum contractvm.Checksum, blob []byte) (*engine.Module, error)
}

// Config bounds the memory tier and selects an optional persistent store.
type Config struct {
	// MaxEntries bounds the LRU tier by count.
	MaxEntries int `toml:"max_entries"`
	// MaxBytes bounds the LRU tier by instrumented module size. Zero means
	// unbounded.
	MaxBytes int64 `toml:"max_bytes"`
	// Store persists artifacts across restarts when set.
	Store ArtifactStore `toml:"-"`
}

// DefaultMaxEntries is used when Config.MaxEntries is zero.
const DefaultMaxEntries = 100

// Stats are cumulative cache counters.
type Stats struct {
	HitsPinned   uint64
	HitsMemory   uint64
	HitsStore    uint64
	Misses       uint64
	Compilations uint64
	Evictions    uint64
	Entries      int
	Pinned       int
	Bytes        int64
}

// Cache owns compiled modules. Concurrent requests for one checksum share
// a single compilation; failures are not cached.
type Cache struct {
	compiler Compiler
	store    ArtifactStore
	maxBytes int64

	group singleflight.Group
	lru   *lru.Cache[contractvm.Checksum, *Artifact]

	mu     sync.Mutex
	pinned map[contractvm.Checksum]*Artifact
	closed bool
	// displaced marks LRU entries leaving the tier by Pin or Remove; their
	// eviction callback is not counted as an eviction.
	displaced map[contractvm.Checksum]struct{}

	bytes        atomic.Int64
	hitsPinned   atomic.Uint64
	hitsMemory   atomic.Uint64
	hitsStore    atomic.Uint64
	misses       atomic.Uint64
	compilations atomic.Uint64
	evictions    atomic.Uint64
}

// New creates a cache.
func New(compiler Compiler, cfg Config) (*Cache, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	c := &Cache{
		compiler:  compiler,
		store:     cfg.Store,
		maxBytes:  cfg.MaxBytes,
		pinned:    make(map[contractvm.Checksum]*Artifact),
		displaced: make(map[contractvm.Checksum]struct{}),
	}
	l, err := lru.NewWithEvict(cfg.MaxEntries, c.onEvict)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "create lru")
	}
	c.lru = l
	return c, nil
}

func (c *Cache) onEvict(checksum contractvm.Checksum, a *Artifact) {
	c.mu.Lock()
	_, moved := c.displaced[checksum]
	c.mu.Unlock()
	c.bytes.Add(-int64(a.module.Size()))
	if !moved {
		c.evictions.Add(1)
		Logger().Debug("evicted module", zap.String("checksum", checksum.Short()))
	}
	a.Release()
}

// displace removes checksum from the LRU tier without counting an eviction.
func (c *Cache) displace(checksum contractvm.Checksum) {
	c.mu.Lock()
	c.displaced[checksum] = struct{}{}
	c.mu.Unlock()
	c.lru.Remove(checksum)
	c.mu.Lock()
	delete(c.displaced, checksum)
	c.mu.Unlock()
}

// GetOrCompile returns an acquired artifact for code. The caller must
// Release it.
func (c *Cache) GetOrCompile(ctx context.Context, checksum contractvm.Checksum, code []byte) (*Artifact, error) {
	if sha256.Sum256(code) != checksum {
		return nil, errors.InvalidInput(errors.PhaseCache,
			fmt.Sprintf("code does not hash to checksum %s", checksum))
	}
	// An artifact can be evicted and closed between insertion and Acquire;
	// try again in that case.
	for attempt := 0; attempt < 3; attempt++ {
		if c.isClosed() {
			return nil, errors.NotInitialized(errors.PhaseCache, "module cache")
		}
		if a := c.lookup(checksum); a != nil {
			return a, nil
		}
		v, err, _ := c.group.Do(checksum.String(), func() (any, error) {
			return c.load(ctx, checksum, code)
		})
		if err != nil {
			return nil, err
		}
		if a, _ := v.(*Artifact); a != nil && a.Acquire() {
			return a, nil
		}
	}
	return nil, errors.New(errors.PhaseCache, errors.KindNotFound).
		Detail("module %s was evicted while loading", checksum.Short()).
		Build()
}

// Get returns an acquired artifact without compiling. ok is false when the
// module is in neither the memory tier nor the store.
func (c *Cache) Get(ctx context.Context, checksum contractvm.Checksum) (*Artifact, bool, error) {
	if c.isClosed() {
		return nil, false, errors.NotInitialized(errors.PhaseCache, "module cache")
	}
	if a := c.lookup(checksum); a != nil {
		return a, true, nil
	}
	if c.store == nil {
		return nil, false, nil
	}
	v, err, _ := c.group.Do(checksum.String(), func() (any, error) {
		if a := c.peek(checksum); a != nil {
			return a, nil
		}
		a := c.restore(ctx, checksum)
		if a == nil {
			return nil, nil
		}
		return c.insert(a), nil
	})
	if err != nil || v == nil {
		return nil, false, err
	}
	a := v.(*Artifact)
	if a == nil || !a.Acquire() {
		return nil, false, nil
	}
	return a, true, nil
}

func (c *Cache) lookup(checksum contractvm.Checksum) *Artifact {
	c.mu.Lock()
	a, ok := c.pinned[checksum]
	c.mu.Unlock()
	if ok && a.Acquire() {
		c.hitsPinned.Add(1)
		return a
	}
	if a, ok := c.lru.Get(checksum); ok && a.Acquire() {
		c.hitsMemory.Add(1)
		return a
	}
	return nil
}

// peek finds a resident artifact without acquiring it or counting a hit.
func (c *Cache) peek(checksum contractvm.Checksum) *Artifact {
	c.mu.Lock()
	a, ok := c.pinned[checksum]
	c.mu.Unlock()
	if ok {
		return a
	}
	if a, ok := c.lru.Peek(checksum); ok {
		return a
	}
	return nil
}

// load runs once per checksum at a time: memory, then store, then compile.
func (c *Cache) load(ctx context.Context, checksum contractvm.Checksum, code []byte) (*Artifact, error) {
	if a := c.peek(checksum); a != nil {
		return a, nil
	}
	c.misses.Add(1)

	if a := c.restore(ctx, checksum); a != nil {
		return c.insert(a), nil
	}

	c.compilations.Add(1)
	mod, err := c.compiler.Compile(ctx, checksum, code)
	if err != nil {
		Logger().Debug("compile failed", zap.String("checksum", checksum.Short()), zap.Error(err))
		return nil, err
	}
	if c.store != nil {
		if err := c.store.Save(checksum, mod.Artifact()); err != nil {
			Logger().Warn("persist artifact", zap.String("checksum", checksum.Short()), zap.Error(err))
		}
	}
	return c.insert(newArtifact(mod)), nil
}

// restore loads a module from the store. Unreadable or corrupt blobs are
// dropped so the caller recompiles.
func (c *Cache) restore(ctx context.Context, checksum contractvm.Checksum) *Artifact {
	if c.store == nil {
		return nil
	}
	blob, ok, err := c.store.Load(checksum)
	if err != nil {
		Logger().Warn("load artifact", zap.String("checksum", checksum.Short()), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	mod, err := c.compiler.Restore(ctx, checksum, blob)
	if err != nil {
		Logger().Warn("discarding stored artifact", zap.String("checksum", checksum.Short()), zap.Error(err))
		if err := c.store.Delete(checksum); err != nil {
			Logger().Warn("delete artifact", zap.String("checksum", checksum.Short()), zap.Error(err))
		}
		return nil
	}
	c.hitsStore.Add(1)
	return newArtifact(mod)
}

// insert hands the cache reference of a to the memory tier.
func (c *Cache) insert(a *Artifact) *Artifact {
	c.bytes.Add(int64(a.module.Size()))
	c.lru.Add(a.module.Checksum, a)
	for c.maxBytes > 0 && c.bytes.Load() > c.maxBytes && c.lru.Len() > 1 {
		c.lru.RemoveOldest()
	}
	return a
}

// Pin compiles code if needed and keeps the module outside the LRU tier
// until Unpin.
func (c *Cache) Pin(ctx context.Context, checksum contractvm.Checksum, code []byte) error {
	a, err := c.GetOrCompile(ctx, checksum, code)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if _, ok := c.pinned[checksum]; ok {
		c.mu.Unlock()
		a.Release()
		return nil
	}
	c.pinned[checksum] = a
	c.mu.Unlock()
	c.displace(checksum)
	return nil
}

// Unpin moves a pinned module back to the LRU tier. The move runs in the
// checksum's load group so a concurrent load cannot insert a second copy.
func (c *Cache) Unpin(checksum contractvm.Checksum) {
	if !c.IsPinned(checksum) {
		return
	}
	_, _, _ = c.group.Do(checksum.String(), func() (any, error) {
		c.mu.Lock()
		a, ok := c.pinned[checksum]
		delete(c.pinned, checksum)
		c.mu.Unlock()
		if !ok {
			return c.peek(checksum), nil
		}
		if resident, ok := c.lru.Peek(checksum); ok {
			a.Release()
			return resident, nil
		}
		return c.insert(a), nil
	})
}

// IsPinned reports whether checksum is pinned.
func (c *Cache) IsPinned(checksum contractvm.Checksum) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pinned[checksum]
	return ok
}

// Remove drops a module from every tier and from the store. Instances
// already running keep their reference.
func (c *Cache) Remove(checksum contractvm.Checksum) error {
	c.mu.Lock()
	a, ok := c.pinned[checksum]
	delete(c.pinned, checksum)
	c.mu.Unlock()
	if ok {
		a.Release()
	}
	c.displace(checksum)
	if c.store != nil {
		return c.store.Delete(checksum)
	}
	return nil
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	pinned := len(c.pinned)
	c.mu.Unlock()
	return Stats{
		HitsPinned:   c.hitsPinned.Load(),
		HitsMemory:   c.hitsMemory.Load(),
		HitsStore:    c.hitsStore.Load(),
		Misses:       c.misses.Load(),
		Compilations: c.compilations.Load(),
		Evictions:    c.evictions.Load(),
		Entries:      c.lru.Len(),
		Pinned:       pinned,
		Bytes:        c.bytes.Load(),
	}
}

func (c *Cache) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close releases every cache reference and closes the store. Modules still
// acquired are closed by their last Release.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pinned := c.pinned
	c.pinned = map[contractvm.Checksum]*Artifact{}
	c.mu.Unlock()

	for _, a := range pinned {
		a.Release()
	}
	c.lru.Purge()
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}
