// Package store implements the state store abstraction against Redis: SET
// with expiry and GET/DEL/SCAN for the key-value half, RPUSH/LPOP/LLEN/LRANGE
// for the list half.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/bobmcallan/jobmesh/internal/common"
	"github.com/bobmcallan/jobmesh/internal/coreerr"
	"github.com/redis/go-redis/v9"
)

// RedisStore is a StateStore backed by a Redis (or Redis-protocol) server.
type RedisStore struct {
	client *redis.Client
	logger *common.Logger
}

// NewRedisStore dials a Redis server at addr and returns a RedisStore.
func NewRedisStore(addr, password string, db int, dialTimeout time.Duration, logger *common.Logger) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: dialTimeout,
	})
	return &RedisStore{client: client, logger: logger}
}

// NewRedisStoreFromClient wraps an already-constructed client, used by tests
// to point at a miniredis instance.
func NewRedisStoreFromClient(client *redis.Client, logger *common.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return coreerr.StoreUnavailable("put", "redis", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, coreerr.NotFound("get", "redis", key)
	}
	if err != nil {
		return nil, coreerr.StoreUnavailable("get", "redis", err)
	}
	return val, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return coreerr.StoreUnavailable("delete", "redis", err)
	}
	return nil
}

// Scan returns every key with the given prefix, walking the cursor until
// exhausted rather than relying on a single SCAN round trip.
func (s *RedisStore) Scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, prefix+"*", 200).Result()
		if err != nil {
			return nil, coreerr.StoreUnavailable("scan", "redis", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func (s *RedisStore) ListPushTail(ctx context.Context, key string, value []byte) error {
	if err := s.client.RPush(ctx, key, value).Err(); err != nil {
		return coreerr.StoreUnavailable("list_push_tail", "redis", err)
	}
	return nil
}

func (s *RedisStore) ListPopHead(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.LPop(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, coreerr.StoreUnavailable("list_pop_head", "redis", err)
	}
	return val, nil
}

func (s *RedisStore) ListLen(ctx context.Context, key string) (int, error) {
	n, err := s.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, coreerr.StoreUnavailable("list_len", "redis", err)
	}
	return int(n), nil
}

func (s *RedisStore) ListSnapshot(ctx context.Context, key string) ([][]byte, error) {
	vals, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, coreerr.StoreUnavailable("list_snapshot", "redis", err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// ListReplace atomically clears key and rewrites it as values, in order, via
// a single pipeline so a reader mid-scan never observes a half-written list.
func (s *RedisStore) ListReplace(ctx context.Context, key string, values [][]byte) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(values) > 0 {
		args := make([]any, len(values))
		for i, v := range values {
			args[i] = v
		}
		pipe.RPush(ctx, key, args...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return coreerr.StoreUnavailable("list_replace", "redis", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return coreerr.StoreUnavailable("ping", "redis", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
