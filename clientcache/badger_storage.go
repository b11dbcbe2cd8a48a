package clientcache

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStorage is a Storage backed by an embedded Badger database.
type BadgerStorage struct {
	db    *badger.DB
	quota int64
}

// BadgerOptions configures OpenBadgerStorage
type BadgerOptions struct {
	// Dir is ignored when InMemory is set
	Dir      string
	InMemory bool
	// Quota caps the total bytes of keys plus values; zero disables it
	Quota int64
}

func OpenBadgerStorage(opts BadgerOptions) (*BadgerStorage, error) {
	var bo badger.Options
	if opts.InMemory {
		bo = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Dir == "" {
			return nil, errors.New("badger dir required")
		}
		bo = badger.DefaultOptions(opts.Dir)
	}
	bo = bo.WithLogger(nil)

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStorage{db: db, quota: opts.Quota}, nil
}

func (s *BadgerStorage) Close() error {
	return s.db.Close()
}

func (s *BadgerStorage) GetItem(key string) (string, bool, error) {
	var out string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		out = string(v)
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return out, true, nil
}

func (s *BadgerStorage) SetItem(key, value string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if s.quota > 0 {
			used, err := usedBytes(txn)
			if err != nil {
				return err
			}
			if item, err := txn.Get([]byte(key)); err == nil {
				used -= int64(len(key)) + item.ValueSize()
			}
			if used+int64(len(key)+len(value)) > s.quota {
				return ErrQuotaExceeded
			}
		}
		return txn.Set([]byte(key), []byte(value))
	})
}

func (s *BadgerStorage) RemoveItem(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (s *BadgerStorage) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	return keys, err
}

func usedBytes(txn *badger.Txn) (int64, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var total int64
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		total += int64(len(item.Key())) + item.ValueSize()
	}
	return total, nil
}
