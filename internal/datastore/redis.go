// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package datastore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// DefaultRedisPrefix namespaces the hashes the Redis backend uses.
const DefaultRedisPrefix = "pluginhost"

// setScript writes a value and bumps its version in one step. It returns -1
// when the key is new and the store is full.
var setScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
  local max = tonumber(ARGV[3])
  if max > 0 and redis.call('HLEN', KEYS[1]) >= max then
    return -1
  end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[4])
return redis.call('HINCRBY', KEYS[2], ARGV[1], 1)
`)

var deleteScript = redis.NewScript(`
local n = redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
return n
`)

// RedisStore keeps entries in three hashes: values, versions and update
// times, all keyed by entry key.
type RedisStore struct {
	client redis.UniversalClient
	limits Limits
	keys   []string
}

// NewRedisStore wraps client. An empty prefix uses DefaultRedisPrefix.
func NewRedisStore(client redis.UniversalClient, prefix string, limits Limits) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{
		client: client,
		limits: limits,
		keys:   RedisKeys(prefix),
	}
}

// RedisKeys returns the value, version and timestamp hash names for prefix.
func RedisKeys(prefix string) []string {
	return []string{prefix + ":data:values", prefix + ":data:versions", prefix + ":data:updated"}
}

// OpenRedis connects to addr, retrying the initial ping with backoff.
func OpenRedis(ctx context.Context, addr, prefix string, limits Limits) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	backoff := retry.WithMaxRetries(ConnectRetries, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if pingErr := client.Ping(ctx).Err(); pingErr != nil {
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		_ = client.Close() //nolint:errcheck // ping error takes precedence
		return nil, oops.Code(CodeBackend).
			In("datastore").
			With("operation", "ping").
			With("addr", addr).
			Hint("check datastore.redis.addr").
			Wrap(err)
	}
	return NewRedisStore(client, prefix, limits), nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key, value string) (Entry, error) {
	if err := s.limits.Validate(key, value); err != nil {
		return Entry{}, err
	}

	now := time.Now().UTC()
	version, err := setScript.Run(ctx, s.client, s.keys,
		key, value, s.limits.MaxEntries, now.Format(time.RFC3339Nano)).Int64()
	if err != nil {
		return Entry{}, backendError("set", key, err)
	}
	if version < 0 {
		return Entry{}, capacityError(key, s.limits.MaxEntries)
	}
	return Entry{Key: key, Value: value, Version: uint64(version), UpdatedAt: now}, nil
}

// Get implements Store. The three fields are read in one transaction.
func (s *RedisStore) Get(ctx context.Context, key string) (Entry, error) {
	var value, version, updated *redis.StringCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		value = p.HGet(ctx, s.keys[0], key)
		version = p.HGet(ctx, s.keys[1], key)
		updated = p.HGet(ctx, s.keys[2], key)
		return nil
	})
	if errors.Is(value.Err(), redis.Nil) {
		return Entry{}, notFoundError(key)
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return Entry{}, backendError("get", key, err)
	}

	e := Entry{Key: key, Value: value.Val()}
	if v, convErr := strconv.ParseUint(version.Val(), 10, 64); convErr == nil {
		e.Version = v
	}
	if t, parseErr := time.Parse(time.RFC3339Nano, updated.Val()); parseErr == nil {
		e.UpdatedAt = t
	}
	return e, nil
}

// Has implements Store.
func (s *RedisStore) Has(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.HExists(ctx, s.keys[0], key).Result()
	if err != nil {
		return false, backendError("has", key, err)
	}
	return ok, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := deleteScript.Run(ctx, s.client, s.keys, key).Int64()
	if err != nil {
		return false, backendError("delete", key, err)
	}
	return n > 0, nil
}

// Len implements Store.
func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, s.keys[0]).Result()
	if err != nil {
		return 0, backendError("len", "", err)
	}
	return int(n), nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
