// internal/storage/badger_store.go
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"geotig/internal/errors"
)

// KV is the byte-oriented persistence contract the rest of the repository
// relies on. Any engine providing these operations can back a keyspace.
type KV interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	Has(key string) (bool, error)
	Delete(key string) error
	Scan(prefix string, fn func(key string, value []byte) error) error
}

// Entity represents any storable entity with an ID
type Entity interface {
	GetID() string
}

// BadgerStore is one prefixed keyspace inside a shared badger database.
type BadgerStore struct {
	db     *badger.DB
	prefix string
}

var _ KV = (*BadgerStore)(nil)

func NewBadgerStore(db *badger.DB, prefix string) *BadgerStore {
	return &BadgerStore{
		db:     db,
		prefix: prefix,
	}
}

func (s *BadgerStore) DB() *badger.DB { return s.db }

func (s *BadgerStore) Prefix() string { return s.prefix }

func (s *BadgerStore) makeKey(id string) []byte {
	return []byte(s.prefix + ":" + id)
}

func (s *BadgerStore) keyspace() []byte {
	return []byte(s.prefix + ":")
}

func (s *BadgerStore) stripPrefix(key []byte) string {
	return string(key[len(s.prefix)+1:])
}

func (s *BadgerStore) Put(key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.makeKey(key), value)
	})
}

// PutIfAbsent stores value unless key already exists and reports whether it wrote.
func (s *BadgerStore) PutIfAbsent(key string, value []byte) (bool, error) {
	written := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(s.makeKey(key))
		if err == nil {
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		written = true
		return txn.Set(s.makeKey(key), value)
	})
	return written, err
}

func (s *BadgerStore) Get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.makeKey(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, errors.NotFound(fmt.Sprintf("%s not found: %s", s.prefix, key))
	}
	return out, err
}

func (s *BadgerStore) Has(key string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(s.makeKey(key))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	return err == nil, err
}

// Delete removes key. Deleting a missing key is not an error.
func (s *BadgerStore) Delete(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.makeKey(key))
	})
}

// Scan calls fn for every key in the keyspace starting with prefix, in key
// order. The value slice is only valid during the call.
func (s *BadgerStore) Scan(prefix string, fn func(key string, value []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		full := append(s.keyspace(), prefix...)
		opts.Prefix = full

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(full); it.ValidForPrefix(full); it.Next() {
			item := it.Item()
			key := s.stripPrefix(item.Key())
			err := item.Value(func(val []byte) error {
				return fn(key, val)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Keys lists the keys starting with prefix without fetching values.
func (s *BadgerStore) Keys(prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		full := append(s.keyspace(), prefix...)
		opts.Prefix = full

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(full); it.ValidForPrefix(full); it.Next() {
			keys = append(keys, s.stripPrefix(it.Item().Key()))
		}
		return nil
	})
	return keys, err
}

func (s *BadgerStore) Count() (int, error) {
	keys, err := s.Keys("")
	return len(keys), err
}

// Clear deletes every key in the keyspace.
func (s *BadgerStore) Clear() error {
	return s.db.DropPrefix(s.keyspace())
}

func (s *BadgerStore) PutEntity(entity Entity) error {
	if entity.GetID() == "" {
		return errors.ValidationError("entity ID cannot be empty", nil)
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshaling entity: %w", err)
	}
	return s.Put(entity.GetID(), data)
}

func (s *BadgerStore) GetEntity(id string, entity Entity) error {
	data, err := s.Get(id)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, entity)
}

// Move deletes key from src and writes value under the same key in dst in a
// single transaction. Both keyspaces must live in the same database.
func Move(src, dst *BadgerStore, key string, value []byte) error {
	if src.db != dst.db {
		return fmt.Errorf("move between %s and %s: keyspaces use different databases", src.prefix, dst.prefix)
	}
	return src.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(src.makeKey(key)); err != nil {
			return err
		}
		return txn.Set(dst.makeKey(key), value)
	})
}
