package cache

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/dgraph-io/badger/v3"

	contractvm "github.com/wippyai/contract-vm"
)

// ArtifactStore persists artifact blobs by checksum. Blobs are opaque and
// must be returned byte for byte.
type ArtifactStore interface {
	// Load returns ok == false when no blob is stored.
	Load(checksum contractvm.Checksum) (blob []byte, ok bool, err error)
	Save(checksum contractvm.Checksum, blob []byte) error
	Delete(checksum contractvm.Checksum) error
	Close() error
}

// FileStore keeps one <hex checksum>.cvm file per artifact in a directory.
type FileStore struct {
	dir string
}

// FileExt is the extension of FileStore artifact files.
const FileExt = ".cvm"

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(checksum contractvm.Checksum) string {
	return filepath.Join(s.dir, checksum.String()+FileExt)
}

func (s *FileStore) Load(checksum contractvm.Checksum) ([]byte, bool, error) {
	blob, err := os.ReadFile(s.path(checksum))
	if stderrors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

// Save writes to a temporary file and renames it into place so readers
// never see a partial blob.
func (s *FileStore) Save(checksum contractvm.Checksum, blob []byte) error {
	tmp, err := os.CreateTemp(s.dir, checksum.Short()+"-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path(checksum))
}

func (s *FileStore) Delete(checksum contractvm.Checksum) error {
	err := os.Remove(s.path(checksum))
	if stderrors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileStore) Close() error { return nil }

// BadgerStore keeps artifacts in BadgerDB under an "artifact/" key prefix.
type BadgerStore struct {
	db    *badger.DB
	owned bool
}

var badgerPrefix = []byte("artifact/")

// OpenBadgerStore opens a database in dir; an empty dir is in-memory.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open artifact db: %w", err)
	}
	return &BadgerStore{db: db, owned: true}, nil
}

// NewBadgerStore uses an already open database, which Close leaves open.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func badgerKey(checksum contractvm.Checksum) []byte {
	return append(append([]byte(nil), badgerPrefix...), checksum[:]...)
}

func (s *BadgerStore) Load(checksum contractvm.Checksum) ([]byte, bool, error) {
	var blob []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(checksum))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

func (s *BadgerStore) Save(checksum contractvm.Checksum, blob []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(checksum), blob)
	})
}

func (s *BadgerStore) Delete(checksum contractvm.Checksum) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(checksum))
	})
}

func (s *BadgerStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// MemoryStore is a bounded in-process store on bigcache. Entries older than
// the life window are dropped; a dropped artifact is recompiled.
type MemoryStore struct {
	cache *bigcache.BigCache
}

// MemoryStoreConfig bounds a MemoryStore.
type MemoryStoreConfig struct {
	LifeWindow   time.Duration
	MaxSizeMB    int
	MaxEntrySize int
}

// NewMemoryStore creates a MemoryStore.
func NewMemoryStore(ctx context.Context, cfg MemoryStoreConfig) (*MemoryStore, error) {
	if cfg.LifeWindow == 0 {
		cfg.LifeWindow = time.Hour
	}
	bc := bigcache.DefaultConfig(cfg.LifeWindow)
	bc.Shards = 64
	bc.CleanWindow = cfg.LifeWindow / 2
	bc.HardMaxCacheSize = cfg.MaxSizeMB
	if cfg.MaxEntrySize > 0 {
		bc.MaxEntrySize = cfg.MaxEntrySize
	}
	bc.Verbose = false
	c, err := bigcache.New(ctx, bc)
	if err != nil {
		return nil, fmt.Errorf("create memory store: %w", err)
	}
	return &MemoryStore{cache: c}, nil
}

func (s *MemoryStore) Load(checksum contractvm.Checksum) ([]byte, bool, error) {
	blob, err := s.cache.Get(checksum.String())
	if stderrors.Is(err, bigcache.ErrEntryNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

func (s *MemoryStore) Save(checksum contractvm.Checksum, blob []byte) error {
	return s.cache.Set(checksum.String(), blob)
}

func (s *MemoryStore) Delete(checksum contractvm.Checksum) error {
	err := s.cache.Delete(checksum.String())
	if stderrors.Is(err, bigcache.ErrEntryNotFound) {
		return nil
	}
	return err
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

func (s *MemoryStore) Close() error {
	return s.cache.Close()
}
