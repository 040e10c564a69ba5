// Package index implements the derived-state key-value store (C6, spec
// §4.5, §6): one badger database holding every typed keyspace the workers
// write to, with atomic write-batches and snapshot reads.
package index

import (
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger"

	"github.com/torrentnode/replicator/log"
)

var logger = log.New("storage/index")

// ErrNotFound names an absent key. The typed Get helpers do not return it;
// they report absence through their bool result.
var ErrNotFound = errors.New("index: key not found")

// Store wraps a badger.DB with the typed keyspace accessors workers use
// (spec §6 "Key-value store keyspaces"), grounded on klaytn's
// storage/database badgerDB (Open/Put/Get/Batch shape).
type Store struct {
	db *badger.DB
}

// Open opens (creating if absent) the badger database rooted at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Batch is one atomic write-batch (spec §5: "Write batches are atomic
// (all-or-nothing) and commit-visible on success").
type Batch struct {
	txn *badger.Txn
}

// NewBatch starts a new read-write transaction. Callers must Commit or
// Discard it.
func (s *Store) NewBatch() *Batch {
	return &Batch{txn: s.db.NewTransaction(true)}
}

// Commit applies the batch atomically. A failed commit never partially
// applies (spec §7 "Storage... write-batch failure is fatal to the worker").
func (b *Batch) Commit() error {
	return b.txn.Commit()
}

// Discard abandons the batch without applying any of its writes.
func (b *Batch) Discard() {
	b.txn.Discard()
}

func (b *Batch) set(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.txn.Set(key, data)
}

func (b *Batch) delete(key []byte) error {
	return b.txn.Delete(key)
}

// get reads key within the batch's own in-flight transaction, seeing any
// writes already staged in this batch (spec §4.5 "overlay read: in-batch
// then store").
func (b *Batch) get(key []byte, v interface{}) (bool, error) {
	item, err := b.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, v)
}

// view reads key from a fresh snapshot transaction, for readers outside any
// in-flight batch (spec §5 "Readers use snapshot semantics").
func (s *Store) view(key []byte, v interface{}) (bool, error) {
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		found = true
		return json.Unmarshal(data, v)
	})
	return found, err
}

// scanPrefix walks every key under prefix in key order, calling fn with the
// key (prefix stripped) and decoded value until fn returns false or keys are
// exhausted (spec §6 "ordered scan by address prefix").
func (s *Store) scanPrefix(prefix []byte, newValue func() interface{}, fn func(keySuffix []byte, v interface{}) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			v := newValue()
			if err := json.Unmarshal(data, v); err != nil {
				return err
			}
			key := append([]byte(nil), item.Key()...)
			if !fn(key[len(prefix):], v) {
				break
			}
		}
		return nil
	})
}
