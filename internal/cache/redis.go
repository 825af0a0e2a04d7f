package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Interface on a shared redis instance so cache
// contents survive restarts and are shared across replicas. Values
// round-trip through JSON, so a caller reading back a struct sees the
// generic decoded form; callers that inspect cached values rather than
// re-serializing them must normalize both shapes.
//
// Redis errors degrade to miss/no-op: the cache is an accelerator, not
// a source of truth.
type RedisStore struct {
	rdb        *redis.Client
	prefix     string
	defaultTTL time.Duration
	timeout    time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64

	// OnError is called when an operation cannot reach redis.
	OnError func(op string, err error)
}

// NewRedisStore wraps an existing client. The prefix namespaces cache
// keys away from rate-limit counters on the same instance.
func NewRedisStore(rdb *redis.Client, defaultTTL time.Duration) *RedisStore {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &RedisStore{
		rdb:        rdb,
		prefix:     "vulnboard:cache:",
		defaultTTL: defaultTTL,
		timeout:    500 * time.Millisecond,
	}
}

func (s *RedisStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *RedisStore) fail(op string, err error) {
	if s.OnError != nil {
		s.OnError(op, err)
	}
}

func (s *RedisStore) Get(key string) (any, bool) {
	ctx, cancel := s.ctx()
	defer cancel()

	raw, err := s.rdb.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		s.misses.Add(1)
		return nil, false
	}
	if err != nil {
		s.fail("get", err)
		s.misses.Add(1)
		return nil, false
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		s.fail("get", err)
		s.misses.Add(1)
		return nil, false
	}
	s.hits.Add(1)
	return v, true
}

func (s *RedisStore) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	raw, err := json.Marshal(value)
	if err != nil {
		s.fail("set", err)
		return
	}

	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.rdb.Set(ctx, s.prefix+key, raw, ttl).Err(); err != nil {
		s.fail("set", err)
	}
}

func (s *RedisStore) GetOrSet(key string, factory func() (any, error), ttl time.Duration) (any, error) {
	if v, ok := s.Get(key); ok {
		return v, nil
	}
	v, err := factory()
	if err != nil {
		return nil, err
	}
	s.Set(key, v, ttl)
	return v, nil
}

func (s *RedisStore) Delete(key string) bool {
	ctx, cancel := s.ctx()
	defer cancel()

	n, err := s.rdb.Del(ctx, s.prefix+key).Result()
	if err != nil {
		s.fail("delete", err)
		return false
	}
	return n > 0
}

// DeleteByPrefix scans for matching keys and removes them. SCAN keeps
// redis responsive on large keyspaces where KEYS would block.
func (s *RedisStore) DeleteByPrefix(prefix string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n := 0
	iter := s.rdb.Scan(ctx, 0, s.prefix+prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		if err := s.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			s.fail("deleteByPrefix", err)
			continue
		}
		n++
	}
	if err := iter.Err(); err != nil {
		s.fail("deleteByPrefix", err)
	}
	return n
}

func (s *RedisStore) Clear() {
	s.DeleteByPrefix("")
}

func (s *RedisStore) Stats() Stats {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	size := 0
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		size++
	}
	if err := iter.Err(); err != nil {
		s.fail("stats", err)
	}

	st := Stats{
		Size:   size,
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st
}
