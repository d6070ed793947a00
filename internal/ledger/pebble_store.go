package ledger

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
)

// PebbleStore implements Store using PebbleDB.
type PebbleStore struct {
	mu sync.Mutex
	db *pebble.DB
}

func NewPebbleStore(dir string) (*PebbleStore, error) {
	opts := &pebble.Options{
		// Ledger writes are tiny and infrequent; keep the memtable small.
		MemTableSize: 4 << 20,
	}
	d, err := pebble.Open(filepath.Clean(dir), opts)
	if err != nil {
		return nil, errors.Wrap(err, "pebble open")
	}
	return &PebbleStore{db: d}, nil
}

func (p *PebbleStore) Close() error { return p.db.Close() }

func encodeEntry(e Entry) ([]byte, error) { return json.Marshal(e) }
func decodeEntry(val []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(val, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (p *PebbleStore) Apply(_ context.Context, key string, e Entry) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := []byte(key)
	_, closer, err := p.db.Get(k)
	if err == nil {
		_ = closer.Close()
		return false, nil
	}
	if err != pebble.ErrNotFound {
		return false, err
	}
	b, err := encodeEntry(e)
	if err != nil {
		return false, err
	}
	// Sync: a record marked here must survive a crash right after Braze accepted it.
	if err := p.db.Set(k, b, pebble.Sync); err != nil {
		return false, err
	}
	return true, nil
}

func (p *PebbleStore) Get(_ context.Context, key string) (Entry, bool, error) {
	v, closer, err := p.db.Get([]byte(key))
	if err == pebble.ErrNotFound {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	defer closer.Close()
	e, err := decodeEntry(v)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (p *PebbleStore) Range(_ context.Context, fn func(key string, e Entry) error) error {
	it, err := p.db.NewIter(nil)
	if err != nil {
		return err
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		k := append([]byte(nil), it.Key()...)
		e, err := decodeEntry(it.Value())
		if err != nil {
			return err
		}
		if err := fn(string(k), e); err != nil {
			return err
		}
	}
	return it.Error()
}

// LoadAll replaces all keys with the snapshot in a single batch.
func (p *PebbleStore) LoadAll(_ context.Context, all map[string]Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	wb := p.db.NewBatch()
	defer wb.Close()

	it, err := p.db.NewIter(nil)
	if err != nil {
		return err
	}
	for it.First(); it.Valid(); it.Next() {
		if err := wb.Delete(append([]byte(nil), it.Key()...), nil); err != nil {
			_ = it.Close()
			return err
		}
	}
	if err := it.Close(); err != nil {
		return err
	}
	for k, e := range all {
		b, err := encodeEntry(e)
		if err != nil {
			return err
		}
		if err := wb.Set([]byte(k), b, nil); err != nil {
			return err
		}
	}
	return wb.Commit(pebble.Sync)
}
