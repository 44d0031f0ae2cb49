package storage

import (
	"bytes"
	stderrors "errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	contractvm "github.com/wippyai/contract-vm"
)

// Badger stores contract state in BadgerDB. Every key is prefixed with the
// store's namespace, so one database can hold the state of many contracts.
type Badger struct {
	db     *badger.DB
	prefix []byte
	owned  bool
}

// OpenBadger opens (or creates) a database in dir. An empty dir opens an
// in-memory database.
func OpenBadger(dir string, log *zap.Logger) (*Badger, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = badgerLogger{log: orNop(log).Sugar()}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return &Badger{db: db, owned: true}, nil
}

// Namespace returns a view of the same database whose keys are prefixed
// with ns. Closing a namespace view does not close the database.
func (b *Badger) Namespace(ns string) *Badger {
	prefix := append(append(bytes.Clone(b.prefix), ns...), 0)
	return &Badger{db: b.db, prefix: prefix}
}

// Close closes the database if this store opened it.
func (b *Badger) Close() error {
	if !b.owned {
		return nil
	}
	return b.db.Close()
}

func (b *Badger) key(k []byte) []byte {
	return append(bytes.Clone(b.prefix), k...)
}

func (b *Badger) Get(key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key(key))
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		if out == nil {
			out = []byte{}
		}
		return err
	})
	return out, err
}

func (b *Badger) Set(key, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.key(key), bytes.Clone(value))
	})
}

func (b *Badger) Delete(key []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(b.key(key))
	})
}

// Iterator scans [start, end) inside a read transaction that stays open
// until Close.
func (b *Badger) Iterator(start, end []byte, order contractvm.Order) (contractvm.Iterator, error) {
	if err := checkOrder(order); err != nil {
		return nil, err
	}
	txn := b.db.NewTransaction(false)
	reverse := order == contractvm.Descending
	it := txn.NewIterator(badger.IteratorOptions{
		PrefetchValues: true,
		PrefetchSize:   16,
		Reverse:        reverse,
		Prefix:         b.prefix,
	})

	bi := &badgerIterator{txn: txn, it: it, prefix: b.prefix, start: start, end: end, reverse: reverse}
	switch {
	case !reverse && start != nil:
		it.Seek(b.key(start))
	case !reverse:
		it.Seek(b.prefix)
	case end != nil:
		// Reverse seek lands on the last key <= target; end is exclusive.
		it.Seek(b.key(end))
		if it.Valid() && bytes.Equal(it.Item().Key(), b.key(end)) {
			it.Next()
		}
	default:
		it.Seek(append(bytes.Clone(b.prefix), 0xFF, 0xFF, 0xFF, 0xFF))
	}
	return bi, nil
}

type badgerIterator struct {
	txn        *badger.Txn
	it         *badger.Iterator
	prefix     []byte
	start, end []byte
	reverse    bool
	closed     bool
}

func (bi *badgerIterator) Next() ([]byte, []byte, bool, error) {
	if bi.closed {
		return nil, nil, false, nil
	}
	for ; bi.it.ValidForPrefix(bi.prefix); bi.it.Next() {
		item := bi.it.Item()
		key := bytes.TrimPrefix(item.KeyCopy(nil), bi.prefix)
		if !inRange(key, bi.start, bi.end) {
			if bi.pastEnd(key) {
				return nil, nil, false, nil
			}
			continue
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return nil, nil, false, err
		}
		bi.it.Next()
		return key, value, true, nil
	}
	return nil, nil, false, nil
}

func (bi *badgerIterator) pastEnd(key []byte) bool {
	if bi.reverse {
		return bi.start != nil && bytes.Compare(key, bi.start) < 0
	}
	return bi.end != nil && bytes.Compare(key, bi.end) >= 0
}

func (bi *badgerIterator) Close() error {
	if bi.closed {
		return nil
	}
	bi.closed = true
	bi.it.Close()
	bi.txn.Discard()
	return nil
}

func checkOrder(order contractvm.Order) error {
	if order != contractvm.Ascending && order != contractvm.Descending {
		return contractvm.NewUserError(fmt.Sprintf("invalid iteration order %d", order))
	}
	return nil
}

func orNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// badgerLogger routes BadgerDB's logging to zap.
type badgerLogger struct {
	log *zap.SugaredLogger
}

func (l badgerLogger) Errorf(f string, v ...any)   { l.log.Errorf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...any) { l.log.Warnf(f, v...) }
func (l badgerLogger) Infof(f string, v ...any)    { l.log.Debugf(f, v...) }
func (l badgerLogger) Debugf(f string, v ...any)   { l.log.Debugf(f, v...) }
