package ledger

import (
	"context"
	"path/filepath"

	"github.com/cockroachdb/errors"
	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore implements Store using BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(dir)).WithLogger(nil).WithSyncWrites(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "badger open")
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error { return b.db.Close() }

func (b *BadgerStore) Apply(_ context.Context, key string, e Entry) (bool, error) {
	var applied bool
	err := b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		v, err := encodeEntry(e)
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(key), v); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

func (b *BadgerStore) Get(_ context.Context, key string) (Entry, bool, error) {
	var e Entry
	var found bool
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		e, err = decodeEntry(v)
		found = err == nil
		return err
	})
	if err != nil {
		return Entry{}, false, err
	}
	return e, found, nil
}

func (b *BadgerStore) Range(_ context.Context, fn func(key string, e Entry) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			k := item.KeyCopy(nil)
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			e, err := decodeEntry(v)
			if err != nil {
				return err
			}
			if err := fn(string(k), e); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadAll replaces every key with the snapshot contents.
func (b *BadgerStore) LoadAll(_ context.Context, all map[string]Entry) error {
	return b.db.Update(func(txn *badger.Txn) error {
		// Collect keys first to avoid mutating while iterating.
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for k, e := range all {
			v, err := encodeEntry(e)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}
