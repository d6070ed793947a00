// Package ledger records which import records Braze has already accepted,
// so that a rerun against the same export does not send them twice.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// Kind distinguishes the two record collections.
type Kind string

const (
	KindPurchase Kind = "purchase"
	KindEvent    Kind = "event"
)

// Entry is stored per accepted record key.
type Entry struct {
	Kind    Kind   `json:"kind"`
	OrderID string `json:"orderId"`
	RunID   string `json:"runId"`
	SentAt  int64  `json:"sentAt"`
}

// PurchaseKey returns externalId#purchase#orderRef#itemIndex.
func PurchaseKey(externalID, orderRef string, item int) string {
	return fmt.Sprintf("%s#%s#%s#%d", externalID, KindPurchase, orderRef, item)
}

// EventKey returns externalId#event#orderRef.
func EventKey(externalID, orderRef string) string {
	return fmt.Sprintf("%s#%s#%s", externalID, KindEvent, orderRef)
}

// ParseKey splits a record key back into its kind and order reference.
func ParseKey(key string) (Kind, string, bool) {
	for _, k := range []Kind{KindPurchase, KindEvent} {
		sep := "#" + string(k) + "#"
		i := strings.LastIndex(key, sep)
		if i < 0 {
			continue
		}
		ref := key[i+len(sep):]
		if k == KindPurchase {
			j := strings.LastIndex(ref, "#")
			if j < 0 {
				return "", "", false
			}
			ref = ref[:j]
		}
		return k, ref, true
	}
	return "", "", false
}

// Store abstracts the ledger backend.
// Apply is idempotent: an existing key is left untouched and reported as not applied.
type Store interface {
	Apply(ctx context.Context, key string, e Entry) (applied bool, err error)
	Get(ctx context.Context, key string) (Entry, bool, error)
	Range(ctx context.Context, fn func(key string, e Entry) error) error
	LoadAll(ctx context.Context, all map[string]Entry) error
	Close() error
}

// InMemoryStore is a thread-safe map store. It only lives for one process.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[string]Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{data: make(map[string]Entry)}
}

// LoadAll replaces the store contents with the provided snapshot.
func (s *InMemoryStore) LoadAll(_ context.Context, all map[string]Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]Entry, len(all))
	for k, v := range all {
		s.data[k] = v
	}
	return nil
}

func (s *InMemoryStore) Apply(_ context.Context, key string, e Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = e
	return true, nil
}

func (s *InMemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key]
	return e, ok, nil
}

func (s *InMemoryStore) Range(_ context.Context, fn func(key string, e Entry) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range s.data {
		if err := fn(k, v); err != nil {
			return errors.Wrap(err, "range callback failed")
		}
	}
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

// Open returns the backend named by kind. dir is used by the on-disk
// backends, addr by redis. An empty kind or "none" returns nil.
func Open(kind, dir, addr string) (Store, error) {
	switch kind {
	case "", "none":
		return nil, nil
	case "memory":
		return NewInMemoryStore(), nil
	case "pebble":
		return NewPebbleStore(dir)
	case "badger":
		return NewBadgerStore(dir)
	case "redis":
		return NewRedisStore(addr, "brazekit:ledger")
	default:
		return nil, errors.Newf("unknown ledger backend %q (want memory|pebble|badger|redis)", kind)
	}
}
