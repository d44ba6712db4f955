// Package registry is a small persistent catalog of named vector stores,
// grounded on the teacher's pkg/storage BadgerEngine (SPEC_FULL.md §4.10).
// A single store's own append-only log is authoritative for its own data
// (spec.md §9); the registry exists only so a host process managing many
// named stores doesn't have to re-scan a filesystem to find them. It is
// deliberately kept out of any single store's CRUD write path.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/orneryd/vectordb/pkg/fsutil"
	"github.com/orneryd/vectordb/pkg/similarity"
)

var (
	ErrAlreadyRegistered = errors.New("registry: name already registered")
	ErrNotRegistered     = errors.New("registry: name not registered")
)

// entryPrefix namespaces registry keys within the Badger keyspace, single
// byte per the teacher's prefix-byte convention.
const entryPrefix = byte(0x01)

// Entry describes a single named store's bookkeeping metadata.
type Entry struct {
	Name         string            `json:"name"`
	Path         string            `json:"path"`
	Dimension    uint32            `json:"dimension"`
	Metric       similarity.Metric `json:"metric"`
	CreatedAt    int64             `json:"created_at"`
	LastOpenedAt int64             `json:"last_opened_at"`
}

// Registry wraps a Badger database holding one Entry per registered store.
type Registry struct {
	db *badger.DB
}

// Options configures Open, mirroring the teacher's BadgerOptions but
// trimmed to what a catalog this small needs.
type Options struct {
	DataDir  string
	InMemory bool
}

// Open opens (creating if necessary) the registry's backing Badger
// database.
func Open(opts Options) (*Registry, error) {
	if !opts.InMemory {
		if err := fsutil.EnsureDir(opts.DataDir); err != nil {
			return nil, fmt.Errorf("registry: %w", err)
		}
	}
	badgerOpts := badger.DefaultOptions(opts.DataDir).WithLogger(nil)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("registry: open badger at %s: %w", opts.DataDir, err)
	}
	return &Registry{db: db}, nil
}

// OpenInMemory opens a registry with no disk footprint, for tests.
func OpenInMemory() (*Registry, error) {
	return Open(Options{InMemory: true})
}

// Close closes the underlying Badger database.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Register adds a new entry. It fails if name is already registered.
func (r *Registry) Register(e Entry) error {
	key := entryKey(e.Name)
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return ErrAlreadyRegistered
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("registry: encode entry: %w", err)
		}
		return txn.Set(key, data)
	})
}

// Lookup returns the entry for name, and bumps LastOpenedAt to now.
func (r *Registry) Lookup(name string) (Entry, error) {
	var e Entry
	err := r.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotRegistered
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		}); err != nil {
			return fmt.Errorf("registry: decode entry: %w", err)
		}
		e.LastOpenedAt = time.Now().Unix()
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("registry: encode entry: %w", err)
		}
		return txn.Set(entryKey(name), data)
	})
	return e, err
}

// List returns every registered entry, sorted by name.
func (r *Registry) List() ([]Entry, error) {
	var entries []Entry
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte{entryPrefix}
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("registry: decode entry: %w", err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

// Forget removes name from the registry. It does not touch the store's
// own files on disk — forgetting is bookkeeping only.
func (r *Registry) Forget(name string) error {
	return r.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(entryKey(name)); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotRegistered
		} else if err != nil {
			return err
		}
		return txn.Delete(entryKey(name))
	})
}

func entryKey(name string) []byte {
	return append([]byte{entryPrefix}, []byte(name)...)
}
