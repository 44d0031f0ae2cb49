package cache

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	contractvm "github.com/wippyai/contract-vm"
	"github.com/wippyai/contract-vm/engine"
	"github.com/wippyai/contract-vm/errors"
	"github.com/wippyai/contract-vm/vmtest"
)

// countingCompiler delays and counts compilations.
type countingCompiler struct {
	*engine.Engine
	compiles atomic.Int32
	restores atomic.Int32
	delay    time.Duration
}

func (c *countingCompiler) Compile(ctx context.Context, checksum contractvm.Checksum, code []byte) (*engine.Module, error) {
	c.compiles.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.Engine.Compile(ctx, checksum, code)
}

func (c *countingCompiler) Restore(ctx context.Context, checksum contractvm.Checksum, blob []byte) (*engine.Module, error) {
	c.restores.Add(1)
	return c.Engine.Restore(ctx, checksum, blob)
}

func newCompiler(t *testing.T) *countingCompiler {
	t.Helper()
	ctx := context.Background()
	e, err := engine.New(ctx, engine.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(ctx) })
	return &countingCompiler{Engine: e}
}

func newCache(t *testing.T, comp Compiler, cfg Config) *Cache {
	t.Helper()
	c, err := New(comp, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func get(t *testing.T, c *Cache, code []byte) *Artifact {
	t.Helper()
	a, err := c.GetOrCompile(context.Background(), contractvm.NewChecksum(code), code)
	if err != nil {
		t.Fatalf("GetOrCompile: %v", err)
	}
	return a
}

func TestGetOrCompile_SingleFlight(t *testing.T) {
	comp := newCompiler(t)
	comp.delay = 50 * time.Millisecond
	c := newCache(t, comp, Config{})

	code := vmtest.Echo()
	const callers = 16
	arts := make([]*Artifact, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			arts[i], errs[i] = c.GetOrCompile(context.Background(), contractvm.NewChecksum(code), code)
		}(i)
	}
	wg.Wait()

	for i := range arts {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if arts[i] != arts[0] {
			t.Fatalf("caller %d got a different artifact", i)
		}
	}
	if n := comp.compiles.Load(); n != 1 {
		t.Errorf("compilations = %d, want 1", n)
	}
	if refs := arts[0].Refs(); refs != callers+1 {
		t.Errorf("refs = %d, want %d", refs, callers+1)
	}
	for _, a := range arts {
		a.Release()
	}

	a := get(t, c, code)
	defer a.Release()
	if n := comp.compiles.Load(); n != 1 {
		t.Errorf("compilations after hit = %d, want 1", n)
	}
	if s := c.Stats(); s.HitsMemory == 0 || s.Compilations != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestGetOrCompile_SharedFailureNotCached(t *testing.T) {
	comp := newCompiler(t)
	comp.delay = 20 * time.Millisecond
	c := newCache(t, comp, Config{})

	code := []byte("not wasm")
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetOrCompile(context.Background(), contractvm.NewChecksum(code), code)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if !errors.Is(err, errors.ErrCompile) {
			t.Fatalf("caller %d: err = %v, want compile error", i, err)
		}
	}
	first := comp.compiles.Load()
	if first < 1 {
		t.Fatalf("compilations = %d", first)
	}

	if _, err := c.GetOrCompile(context.Background(), contractvm.NewChecksum(code), code); err == nil {
		t.Fatal("expected error on retry")
	}
	if comp.compiles.Load() != first+1 {
		t.Error("failure was cached")
	}
}

func TestGetOrCompile_ChecksumMismatch(t *testing.T) {
	c := newCache(t, newCompiler(t), Config{})
	code := vmtest.Echo()
	_, err := c.GetOrCompile(context.Background(), contractvm.NewChecksum([]byte("other")), code)
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Fatalf("err = %v, want invalid input", err)
	}
}

func TestEviction(t *testing.T) {
	comp := newCompiler(t)
	c := newCache(t, comp, Config{MaxEntries: 2})

	codes := [][]byte{vmtest.BadResult(1), vmtest.BadResult(2), vmtest.BadResult(3)}
	held := get(t, c, codes[0])
	get(t, c, codes[1]).Release()
	get(t, c, codes[2]).Release()

	s := c.Stats()
	if s.Entries != 2 || s.Evictions != 1 {
		t.Fatalf("stats = %+v", s)
	}
	if held.Refs() != 1 {
		t.Fatalf("evicted artifact refs = %d, want 1", held.Refs())
	}
	// The evicted module stays usable while referenced.
	inst, err := held.Module().Instantiate(context.Background())
	if err != nil {
		t.Fatalf("Instantiate after eviction: %v", err)
	}
	_ = inst.Close(context.Background())
	held.Release()
	if held.Acquire() {
		t.Fatal("Acquire succeeded on a closed artifact")
	}

	again := get(t, c, codes[0])
	defer again.Release()
	if again == held {
		t.Fatal("evicted artifact was served again")
	}
	if n := comp.compiles.Load(); n != 4 {
		t.Errorf("compilations = %d, want 4", n)
	}
}

func TestEviction_MaxBytes(t *testing.T) {
	comp := newCompiler(t)
	first := get(t, newCache(t, comp, Config{}), vmtest.BadResult(1))
	size := int64(first.Module().Size())
	first.Release()

	c := newCache(t, comp, Config{MaxBytes: size + size/2})
	get(t, c, vmtest.BadResult(1)).Release()
	get(t, c, vmtest.BadResult(2)).Release()
	if s := c.Stats(); s.Entries != 1 || s.Bytes > size+size/2 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestPin(t *testing.T) {
	comp := newCompiler(t)
	c := newCache(t, comp, Config{MaxEntries: 1})
	ctx := context.Background()

	pinned := vmtest.BadResult(1)
	sum := contractvm.NewChecksum(pinned)
	if err := c.Pin(ctx, sum, pinned); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if !c.IsPinned(sum) {
		t.Fatal("not pinned")
	}
	get(t, c, vmtest.BadResult(2)).Release()
	get(t, c, vmtest.BadResult(3)).Release()

	a := get(t, c, pinned)
	a.Release()
	if n := comp.compiles.Load(); n != 3 {
		t.Errorf("compilations = %d, want 3", n)
	}
	if s := c.Stats(); s.HitsPinned != 1 || s.Pinned != 1 || s.Evictions != 1 {
		t.Errorf("stats = %+v", s)
	}

	c.Unpin(sum)
	if c.IsPinned(sum) {
		t.Fatal("still pinned")
	}
	get(t, c, vmtest.BadResult(4)).Release()
	get(t, c, pinned).Release()
	if n := comp.compiles.Load(); n != 5 {
		t.Errorf("compilations after unpin = %d, want 5", n)
	}
}

func TestPin_NotAnEviction(t *testing.T) {
	c := newCache(t, newCompiler(t), Config{})
	ctx := context.Background()

	code := vmtest.Echo()
	sum := contractvm.NewChecksum(code)
	get(t, c, code).Release()
	if err := c.Pin(ctx, sum, code); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	s := c.Stats()
	if s.Evictions != 0 || s.Entries != 0 || s.Bytes != 0 {
		t.Errorf("after pin: stats = %+v", s)
	}

	c.Unpin(sum)
	if err := c.Remove(sum); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if s := c.Stats(); s.Evictions != 0 || s.Entries != 0 || s.Bytes != 0 {
		t.Errorf("after remove: stats = %+v", s)
	}
}

func TestUnpin_ConcurrentLoad(t *testing.T) {
	comp := newCompiler(t)
	c := newCache(t, comp, Config{})
	ctx := context.Background()

	code := vmtest.Echo()
	sum := contractvm.NewChecksum(code)
	a := get(t, c, code)
	size := int64(a.module.Size())
	a.Release()

	for i := 0; i < 50; i++ {
		if err := c.Pin(ctx, sum, code); err != nil {
			t.Fatalf("Pin: %v", err)
		}
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Unpin(sum)
		}()
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				a, err := c.GetOrCompile(ctx, sum, code)
				if err != nil {
					t.Errorf("GetOrCompile: %v", err)
					return
				}
				a.Release()
			}()
		}
		wg.Wait()

		if s := c.Stats(); s.Entries != 1 || s.Pinned != 0 || s.Bytes != size {
			t.Fatalf("iteration %d: stats = %+v, want one entry of %d bytes", i, s, size)
		}
	}
	if n := comp.compiles.Load(); n != 1 {
		t.Errorf("compilations = %d, want 1", n)
	}
}

func TestRemove(t *testing.T) {
	comp := newCompiler(t)
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	c := newCache(t, comp, Config{Store: store})

	code := vmtest.Echo()
	sum := contractvm.NewChecksum(code)
	get(t, c, code).Release()
	if err := c.Remove(sum); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := store.Load(sum); ok {
		t.Fatal("artifact still stored")
	}
	if _, ok, err := c.Get(context.Background(), sum); ok || err != nil {
		t.Fatalf("Get after Remove = %v, %v", ok, err)
	}
}

func TestClose(t *testing.T) {
	c, err := New(newCompiler(t), Config{})
	if err != nil {
		t.Fatal(err)
	}
	code := vmtest.Echo()
	a := get(t, c, code)
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if a.Refs() != 1 {
		t.Errorf("refs = %d", a.Refs())
	}
	a.Release()
	_, err = c.GetOrCompile(context.Background(), contractvm.NewChecksum(code), code)
	if errors.KindOf(err) != errors.KindNotInitialized {
		t.Errorf("err = %v", err)
	}
}

func stores(t *testing.T) map[string]func() ArtifactStore {
	dir := t.TempDir()
	badgerDir := t.TempDir()
	return map[string]func() ArtifactStore{
		"file": func() ArtifactStore {
			s, err := NewFileStore(dir)
			if err != nil {
				t.Fatalf("NewFileStore: %v", err)
			}
			return s
		},
		"badger": func() ArtifactStore {
			s, err := OpenBadgerStore(badgerDir)
			if err != nil {
				t.Fatalf("OpenBadgerStore: %v", err)
			}
			return s
		},
	}
}

func TestStore_Restart(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			code := vmtest.Echo()
			sum := contractvm.NewChecksum(code)

			comp := newCompiler(t)
			c, err := New(comp, Config{Store: open()})
			if err != nil {
				t.Fatal(err)
			}
			a := get(t, c, code)
			want := bytes.Clone(a.Module().Artifact())
			a.Release()
			if err := c.Close(ctx); err != nil {
				t.Fatalf("Close: %v", err)
			}

			comp2 := newCompiler(t)
			c2 := newCache(t, comp2, Config{Store: open()})
			a2, ok, err := c2.Get(ctx, sum)
			if err != nil || !ok {
				t.Fatalf("Get = %v, %v", ok, err)
			}
			defer a2.Release()
			if comp2.compiles.Load() != 0 || comp2.restores.Load() != 1 {
				t.Errorf("compiles = %d, restores = %d", comp2.compiles.Load(), comp2.restores.Load())
			}
			if !bytes.Equal(a2.Module().Artifact(), want) {
				t.Error("restored artifact differs")
			}
			if s := c2.Stats(); s.HitsStore != 1 {
				t.Errorf("stats = %+v", s)
			}
		})
	}
}

func TestStore_CorruptRecompiles(t *testing.T) {
	dir := t.TempDir()
	code := vmtest.Echo()
	sum := contractvm.NewChecksum(code)
	if err := os.WriteFile(filepath.Join(dir, sum.String()+FileExt), []byte("CVMA garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	comp := newCompiler(t)
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	c := newCache(t, comp, Config{Store: store})
	a := get(t, c, code)
	defer a.Release()

	if comp.restores.Load() != 1 || comp.compiles.Load() != 1 {
		t.Errorf("restores = %d, compiles = %d", comp.restores.Load(), comp.compiles.Load())
	}
	blob, ok, err := store.Load(sum)
	if err != nil || !ok {
		t.Fatalf("Load = %v, %v", ok, err)
	}
	if !bytes.Equal(blob, a.Module().Artifact()) {
		t.Error("corrupt blob was not replaced")
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore(ctx, MemoryStoreConfig{LifeWindow: time.Hour, MaxSizeMB: 8})
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	defer s.Close()

	sum := contractvm.NewChecksum([]byte("x"))
	if _, ok, err := s.Load(sum); ok || err != nil {
		t.Fatalf("Load empty = %v, %v", ok, err)
	}
	blob := []byte("artifact bytes")
	if err := s.Save(sum, blob); err != nil {
		t.Fatal(err)
	}
	got, ok, err := s.Load(sum)
	if err != nil || !ok || !bytes.Equal(got, blob) {
		t.Fatalf("Load = %q, %v, %v", got, ok, err)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d", s.Len())
	}
	if err := s.Delete(sum); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(sum); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, ok, _ := s.Load(sum); ok {
		t.Fatal("still present")
	}
}
