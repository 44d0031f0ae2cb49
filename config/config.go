// Package config loads runtime configuration from TOML files.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	contractvm "github.com/wippyai/contract-vm"
	"github.com/wippyai/contract-vm/cache"
	"github.com/wippyai/contract-vm/engine"
	"github.com/wippyai/contract-vm/errors"
	"github.com/wippyai/contract-vm/gas"
	"github.com/wippyai/contract-vm/runtime"
	"github.com/wippyai/contract-vm/storage"
)

// Artifact store kinds.
const (
	StoreNone   = ""
	StoreFile   = "file"
	StoreBadger = "badger"
	StoreMemory = "memory"
)

// Contract storage backends.
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
)

// File is the on-disk configuration.
type File struct {
	Engine  engine.Config `toml:"engine"`
	Cache   Cache         `toml:"cache"`
	Costs   gas.Costs     `toml:"costs"`
	Runtime Runtime       `toml:"runtime"`
	Storage Storage       `toml:"storage"`
	Log     Log           `toml:"log"`

	// Dir is the directory relative paths are resolved against.
	Dir string `toml:"-"`
}

// Cache configures the module cache and its artifact store.
type Cache struct {
	MaxEntries int   `toml:"max_entries"`
	MaxBytes   int64 `toml:"max_bytes"`

	// Store is one of "", "file", "badger" or "memory".
	Store string `toml:"store"`
	// Dir holds file and badger artifacts.
	Dir string `toml:"dir"`
	// MemoryMB bounds the memory store.
	MemoryMB int `toml:"memory_mb"`
	// LifeWindow expires memory store entries.
	LifeWindow time.Duration `toml:"life_window"`
}

// Runtime holds runtime limits.
type Runtime struct {
	MaxCallDepth int  `toml:"max_call_depth"`
	MaxIterators int  `toml:"max_iterators"`
	PrintDebug   bool `toml:"print_debug"`
}

// Storage selects the contract state backend used by the CLI.
type Storage struct {
	Backend string `toml:"backend"`
	Dir     string `toml:"dir"`
}

// Log configures CLI logging.
type Log struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
	// File routes logs through a rotating file when set.
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Default returns the built-in configuration.
func Default() *File {
	rc := runtime.DefaultConfig()
	return &File{
		Engine: rc.Engine,
		Cache:  Cache{MaxEntries: rc.Cache.MaxEntries, LifeWindow: time.Hour},
		Costs:  rc.Costs,
		Runtime: Runtime{
			MaxCallDepth: rc.MaxCallDepth,
			MaxIterators: rc.MaxIterators,
		},
		Storage: Storage{Backend: BackendMemory},
		Log:     Log{Level: "info", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
	}
}

// Load reads the file at path over the defaults.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, fmt.Sprintf("cannot read %s", path))
	}
	f, err := Parse(data)
	if err != nil {
		return nil, err
	}
	f.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, fmt.Sprintf("cannot resolve path %s", path))
	}
	return f, nil
}

// Parse decodes TOML over the defaults. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	f := Default()
	md, err := toml.Decode(string(data), f)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindValidation, err, "parse error")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, invalid("unknown keys: %s", strings.Join(keys, ", "))
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks enumerations and cross-field constraints.
func (f *File) Validate() error {
	switch f.Cache.Store {
	case StoreNone, StoreMemory:
	case StoreFile, StoreBadger:
		if f.Cache.Dir == "" {
			return invalid("cache store %q requires cache.dir", f.Cache.Store)
		}
	default:
		return invalid("unknown cache store %q", f.Cache.Store)
	}
	switch f.Storage.Backend {
	case BackendMemory, BackendBadger:
	default:
		return invalid("unknown storage backend %q", f.Storage.Backend)
	}
	for _, c := range f.Engine.Capabilities {
		if !knownCapability(c) {
			return invalid("unknown capability %q", c)
		}
	}
	if f.Cache.MaxEntries < 0 || f.Cache.MaxBytes < 0 {
		return invalid("cache bounds must not be negative")
	}
	return nil
}

func knownCapability(c engine.Capability) bool {
	for _, k := range engine.AllCapabilities {
		if k == c {
			return true
		}
	}
	return false
}

// Path resolves p against the configuration directory.
func (f *File) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || f.Dir == "" {
		return p
	}
	return filepath.Join(f.Dir, p)
}

// OpenArtifactStore opens the configured artifact store. It returns nil
// when no store is configured.
func (f *File) OpenArtifactStore(ctx context.Context) (cache.ArtifactStore, error) {
	var (
		store cache.ArtifactStore
		err   error
	)
	switch f.Cache.Store {
	case StoreFile:
		store, err = cache.NewFileStore(f.Path(f.Cache.Dir))
	case StoreBadger:
		store, err = cache.OpenBadgerStore(f.Path(f.Cache.Dir))
	case StoreMemory:
		store, err = cache.NewMemoryStore(ctx, cache.MemoryStoreConfig{
			LifeWindow: f.Cache.LifeWindow,
			MaxSizeMB:  f.Cache.MemoryMB,
		})
	}
	if err != nil {
		return nil, errors.Wrap(errors.PhaseCache, errors.KindNotInitialized, err, "open artifact store")
	}
	return store, nil
}

// OpenStorage opens the contract state backend.
func (f *File) OpenStorage(log *zap.Logger) (contractvm.Storage, io.Closer, error) {
	switch f.Storage.Backend {
	case BackendBadger:
		db, err := storage.OpenBadger(f.Path(f.Storage.Dir), log)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	default:
		return storage.NewMemory(), nopCloser{}, nil
	}
}

// RuntimeConfig converts the file into a runtime configuration that uses
// store for persisted artifacts.
func (f *File) RuntimeConfig(store cache.ArtifactStore) runtime.Config {
	engineCfg := f.Engine
	if engineCfg.CompilationCacheDir != "" {
		engineCfg.CompilationCacheDir = f.Path(engineCfg.CompilationCacheDir)
	}
	return runtime.Config{
		Engine: engineCfg,
		Cache: cache.Config{
			MaxEntries: f.Cache.MaxEntries,
			MaxBytes:   f.Cache.MaxBytes,
			Store:      store,
		},
		Costs:        f.Costs,
		MaxCallDepth: f.Runtime.MaxCallDepth,
		MaxIterators: f.Runtime.MaxIterators,
		PrintDebug:   f.Runtime.PrintDebug,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func invalid(format string, args ...any) error {
	return errors.New(errors.PhaseConfig, errors.KindValidation).Detail(format, args...).Build()
}
