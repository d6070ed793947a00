package ledger

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the ledger in Redis so several operators share one view.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(addr, prefix string) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis ledger: empty address")
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
	}, nil
}

func (r *RedisStore) key(k string) string { return r.prefix + ":" + k }

func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) Apply(ctx context.Context, key string, e Entry) (bool, error) {
	v, err := encodeEntry(e)
	if err != nil {
		return false, err
	}
	ok, err := r.client.SetNX(ctx, r.key(key), v, 0).Result()
	if err != nil {
		return false, errors.Wrapf(err, "redis setnx %s", key)
	}
	return ok, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, errors.Wrapf(err, "redis get %s", key)
	}
	e, err := decodeEntry(v)
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (r *RedisStore) Range(ctx context.Context, fn func(key string, e Entry) error) error {
	iter := r.client.Scan(ctx, 0, r.prefix+":*", 500).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		e, ok, err := r.Get(ctx, strings.TrimPrefix(full, r.prefix+":"))
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := fn(strings.TrimPrefix(full, r.prefix+":"), e); err != nil {
			return err
		}
	}
	return iter.Err()
}

// LoadAll replaces every ledger key under the prefix in one pipeline.
func (r *RedisStore) LoadAll(ctx context.Context, all map[string]Entry) error {
	var stale []string
	iter := r.client.Scan(ctx, 0, r.prefix+":*", 500).Iterator()
	for iter.Next(ctx) {
		stale = append(stale, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(stale) > 0 {
			pipe.Del(ctx, stale...)
		}
		for k, e := range all {
			v, err := encodeEntry(e)
			if err != nil {
				return err
			}
			pipe.Set(ctx, r.key(k), v, 0)
		}
		return nil
	})
	return err
}
