package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wippyai/contract-vm/cache"
	"github.com/wippyai/contract-vm/engine"
	"github.com/wippyai/contract-vm/errors"
	"github.com/wippyai/contract-vm/gas"
	"github.com/wippyai/contract-vm/storage"
)

const sample = `
[engine]
memory_limit_pages = 64
supported_versions = [1, 2]
capabilities = ["storage", "debug"]
enable_iterators = false

[cache]
max_entries = 8
store = "badger"
dir = "artifacts"

[costs]
storage_write = 5000

[runtime]
max_call_depth = 3
print_debug = true

[storage]
backend = "badger"
dir = "state"

[log]
level = "debug"
file = "vm.log"
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vm.toml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f.Engine.MemoryLimitPages != 64 || f.Engine.EnableIterators {
		t.Errorf("engine = %+v", f.Engine)
	}
	if len(f.Engine.Capabilities) != 2 || f.Engine.Capabilities[1] != engine.CapDebug {
		t.Errorf("capabilities = %v", f.Engine.Capabilities)
	}
	if f.Costs.StorageWrite != 5000 {
		t.Errorf("storage_write = %d", f.Costs.StorageWrite)
	}
	if f.Costs.StorageRead != gas.DefaultCosts().StorageRead {
		t.Errorf("unset cost changed: storage_read = %d", f.Costs.StorageRead)
	}
	if f.Engine.MaxFunctions != engine.DefaultConfig().MaxFunctions {
		t.Errorf("unset engine field changed: max_functions = %d", f.Engine.MaxFunctions)
	}
	if got, want := f.Path(f.Cache.Dir), filepath.Join(dir, "artifacts"); got != want {
		t.Errorf("cache dir = %q, want %q", got, want)
	}

	rc := f.RuntimeConfig(nil)
	if rc.MaxCallDepth != 3 || !rc.PrintDebug || rc.Cache.MaxEntries != 8 {
		t.Errorf("runtime config = %+v", rc)
	}
	if rc.MaxIterators != Default().Runtime.MaxIterators {
		t.Errorf("max iterators = %d", rc.MaxIterators)
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if errors.KindOf(err) != errors.KindNotFound {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"syntax", `[engine`},
		{"unknown key", "[cache]\nsize = 3\n"},
		{"unknown store", "[cache]\nstore = \"s3\"\n"},
		{"store without dir", "[cache]\nstore = \"file\"\n"},
		{"unknown backend", "[storage]\nbackend = \"sql\"\n"},
		{"unknown capability", "[engine]\ncapabilities = [\"network\"]\n"},
		{"negative bound", "[cache]\nmax_bytes = -1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.toml))
			if errors.KindOf(err) != errors.KindValidation {
				t.Fatalf("err = %v, want validation", err)
			}
		})
	}
}

func TestParse_Empty(t *testing.T) {
	f, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Storage.Backend != BackendMemory || f.Cache.Store != StoreNone {
		t.Errorf("defaults = %+v", f)
	}
	if f.Cache.LifeWindow != time.Hour {
		t.Errorf("life window = %v", f.Cache.LifeWindow)
	}
}

func TestOpenArtifactStore(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		store string
		check func(cache.ArtifactStore) bool
	}{
		{StoreNone, func(s cache.ArtifactStore) bool { return s == nil }},
		{StoreFile, func(s cache.ArtifactStore) bool { _, ok := s.(*cache.FileStore); return ok }},
		{StoreBadger, func(s cache.ArtifactStore) bool { _, ok := s.(*cache.BadgerStore); return ok }},
		{StoreMemory, func(s cache.ArtifactStore) bool { _, ok := s.(*cache.MemoryStore); return ok }},
	}
	for _, tt := range tests {
		t.Run("store="+tt.store, func(t *testing.T) {
			f := Default()
			f.Dir = t.TempDir()
			f.Cache.Store = tt.store
			f.Cache.Dir = "artifacts"
			s, err := f.OpenArtifactStore(ctx)
			if err != nil {
				t.Fatalf("OpenArtifactStore: %v", err)
			}
			if s != nil {
				t.Cleanup(func() { _ = s.Close() })
			}
			if !tt.check(s) {
				t.Errorf("store = %T", s)
			}
		})
	}
}

func TestOpenStorage(t *testing.T) {
	f := Default()
	s, closer, err := f.OpenStorage(nil)
	if err != nil {
		t.Fatalf("OpenStorage: %v", err)
	}
	if _, ok := s.(*storage.Memory); !ok {
		t.Errorf("storage = %T", s)
	}
	_ = closer.Close()

	f.Dir = t.TempDir()
	f.Storage = Storage{Backend: BackendBadger, Dir: "state"}
	s, closer, err = f.OpenStorage(nil)
	if err != nil {
		t.Fatalf("OpenStorage(badger): %v", err)
	}
	defer closer.Close()
	if err := s.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, _ := s.Get([]byte("k")); string(v) != "v" {
		t.Errorf("Get = %q", v)
	}
}
