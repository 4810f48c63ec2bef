// Package storage provides the badger-backed row store that scan nodes
// read from. Rows are free-form column maps keyed by entity type and row
// id; the store knows nothing about filters.
package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/siegeon/dynfilter"
	"github.com/siegeon/dynfilter/plan"
)

func init() {
	// Row values travel as interface{}; gob needs the concrete scalar
	// types registered up front.
	gob.Register(int(0))
	gob.Register(int64(0))
	gob.Register(uint64(0))
	gob.Register(float64(0))
	gob.Register(false)
	gob.Register("")
	gob.Register(time.Time{})
}

// RowStore implements an entity row source on BadgerDB.
type RowStore struct {
	db *badger.DB
}

// NewRowStore opens (or creates) a row store at path.
func NewRowStore(path string) (*RowStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable BadgerDB logs

	// Row workloads here are small and read-heavy; keep values in the
	// LSM tree and skip conflict detection.
	opts.DetectConflicts = false
	opts.ValueThreshold = 1 << 10

	return open(opts)
}

// NewInMemoryRowStore opens a store with no backing files, for tests and
// the demo.
func NewInMemoryRowStore() (*RowStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (*RowStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &RowStore{db: db}, nil
}

// Put upserts one row of entity under id. Null columns are represented
// by omitting the key (gob cannot carry nil interface values, and the
// expression evaluator reads a missing column as null anyway).
func (s *RowStore) Put(entity dynfilter.TypeID, id uint64, row plan.Row) error {
	value, err := encodeRow(row)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(rowKey(entity, id), value)
	})
}

// PutAll upserts rows under ids 1..n in one transaction.
func (s *RowStore) PutAll(entity dynfilter.TypeID, rows []plan.Row) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for i, row := range rows {
			value, err := encodeRow(row)
			if err != nil {
				return err
			}
			if err := txn.Set(rowKey(entity, uint64(i+1)), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Scan returns every row of entity in id order. It implements the
// engine's RowSource.
func (s *RowStore) Scan(entity dynfilter.TypeID) ([]plan.Row, error) {
	var rows []plan.Row
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		prefix := entityPrefix(entity)
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				row, err := decodeRow(val)
				if err != nil {
					return err
				}
				rows = append(rows, row)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", entity, err)
	}
	return rows, nil
}

// DeleteAll removes every row of entity.
func (s *RowStore) DeleteAll(entity dynfilter.TypeID) error {
	prefix := entityPrefix(entity)

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range keys {
			if err := txn.Delete(key); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying badger database.
func (s *RowStore) Close() error {
	return s.db.Close()
}

func entityPrefix(entity dynfilter.TypeID) []byte {
	return []byte("row/" + string(entity) + "/")
}

func rowKey(entity dynfilter.TypeID, id uint64) []byte {
	prefix := entityPrefix(entity)
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], id)
	return key
}

func encodeRow(row plan.Row) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(map[string]interface{}(row)); err != nil {
		return nil, fmt.Errorf("encoding row: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRow(value []byte) (plan.Row, error) {
	var m map[string]interface{}
	if err := gob.NewDecoder(bytes.NewReader(value)).Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding row: %w", err)
	}
	return plan.Row(m), nil
}
