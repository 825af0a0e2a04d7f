// Package cache is a bounded in-memory TTL store shared across request
// handlers.
//
// Entries expire individually and the whole store is capped at a fixed
// number of entries. When full, eviction is oldest-insertion-order, not
// LRU: cheap, no access bookkeeping, and acceptable because entries
// mostly expire before the bound is hit. Under sustained pressure this
// can evict a hot key while a cold long-TTL one survives; if that ever
// matters, move to real LRU.
//
// GetOrSet does not serialize concurrent factories by default: two
// callers missing on the same key may both compute, last write wins.
// WithSingleFlight opts into compute-once-per-key coordination.
//
// State is process-local. Deployments that need a shared cache across
// replicas swap in the redis-backed store in this package behind the
// same interface.
package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Interface is the lookup surface handlers depend on. Both the
// in-memory Store and RedisStore satisfy it.
type Interface interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	GetOrSet(key string, factory func() (any, error), ttl time.Duration) (any, error)
	Delete(key string) bool
	DeleteByPrefix(prefix string) int
	Clear()
	Stats() Stats
}

// Stats is a point-in-time snapshot for the admin endpoint.
type Stats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"maxSize"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

type entry struct {
	key       string
	value     any
	expiresAt time.Time
	elem      *list.Element // position in insertion order
}

// Store is the in-memory implementation.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // front = oldest insertion

	maxSize    int
	defaultTTL time.Duration
	sweepEvery time.Duration
	nowFn      func() time.Time

	hits   uint64
	misses uint64

	sf *singleflight.Group

	// OnEvict is called with the key of every entry removed to make
	// room, not for expiry or explicit deletes.
	OnEvict func(key string)
}

type Option func(*Store)

// WithMaxSize bounds the number of live entries.
func WithMaxSize(n int) Option {
	return func(s *Store) {
		s.maxSize = n
	}
}

// WithDefaultTTL sets the ttl used when Set is called with ttl <= 0.
func WithDefaultTTL(d time.Duration) Option {
	return func(s *Store) {
		s.defaultTTL = d
	}
}

// WithSweepEvery controls how often the janitor removes expired entries.
func WithSweepEvery(d time.Duration) Option {
	return func(s *Store) {
		s.sweepEvery = d
	}
}

// WithNow overrides the clock. Tests use this to simulate expiry
// without sleeping.
func WithNow(fn func() time.Time) Option {
	return func(s *Store) {
		s.nowFn = fn
	}
}

// WithSingleFlight makes GetOrSet compute at most once per key under
// concurrent misses. This changes observable behavior: without it,
// concurrent misses may each run the factory.
func WithSingleFlight() Option {
	return func(s *Store) {
		s.sf = new(singleflight.Group)
	}
}

// WithOnEvict sets a callback for capacity evictions.
func WithOnEvict(fn func(key string)) Option {
	return func(s *Store) {
		s.OnEvict = fn
	}
}

// New creates a Store. StartJanitor must be called separately if a
// background sweep is wanted; lookups already remove expired entries
// lazily.
func New(opts ...Option) *Store {
	s := &Store{
		entries:    make(map[string]*entry),
		order:      list.New(),
		maxSize:    1000,
		defaultTTL: 5 * time.Minute,
		sweepEvery: time.Minute,
		nowFn:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns the live value for key. Expired entries are removed as a
// side effect and reported as absent.
func (s *Store) Get(key string) (any, bool) {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		s.misses++
		return nil, false
	}
	if !e.expiresAt.After(now) {
		s.removeLocked(e)
		s.misses++
		return nil, false
	}
	s.hits++
	return e.value, true
}

// Set inserts or replaces key. ttl <= 0 means the store default.
// Replacing an existing key keeps its original insertion position. At
// capacity, expired entries are swept first; if the store is still
// full, the oldest insertion is evicted.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := s.nowFn()

	s.mu.Lock()

	if e, ok := s.entries[key]; ok {
		e.value = value
		e.expiresAt = now.Add(ttl)
		s.mu.Unlock()
		return
	}

	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.sweepLocked(now)
	}
	var evictedKey string
	var evictedAny bool
	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		if front := s.order.Front(); front != nil {
			evicted := front.Value.(*entry)
			s.removeLocked(evicted)
			evictedKey, evictedAny = evicted.key, true
		}
	}

	e := &entry{key: key, value: value, expiresAt: now.Add(ttl)}
	e.elem = s.order.PushBack(e)
	s.entries[key] = e

	// release before calling the hook, it may re-enter the store
	s.mu.Unlock()
	if evictedAny && s.OnEvict != nil {
		s.OnEvict(evictedKey)
	}
}

// GetOrSet returns the cached value for key, or computes, stores, and
// returns it. A factory error propagates to the caller and writes
// nothing.
func (s *Store) GetOrSet(key string, factory func() (any, error), ttl time.Duration) (any, error) {
	if v, ok := s.Get(key); ok {
		return v, nil
	}

	if s.sf != nil {
		v, err, _ := s.sf.Do(key, func() (any, error) {
			// another flight may have filled the key while we queued
			if v, ok := s.Get(key); ok {
				return v, nil
			}
			v, err := factory()
			if err != nil {
				return nil, err
			}
			s.Set(key, v, ttl)
			return v, nil
		})
		return v, err
	}

	v, err := factory()
	if err != nil {
		return nil, err
	}
	s.Set(key, v, ttl)
	return v, nil
}

// Delete removes key, reporting whether a live entry was present.
func (s *Store) Delete(key string) bool {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false
	}
	live := e.expiresAt.After(now)
	s.removeLocked(e)
	return live
}

// DeleteByPrefix removes every entry whose key starts with prefix and
// returns how many were removed. Prefixes should end with a separator
// so "project:1:" cannot match "project:10:vulns".
func (s *Store) DeleteByPrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, e := range s.entries {
		if strings.HasPrefix(key, prefix) {
			s.removeLocked(e)
			n++
		}
	}
	return n
}

// Clear empties the store. Hit counters survive; they describe the
// process, not the current contents.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]*entry)
	s.order.Init()
	s.mu.Unlock()
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Size:    len(s.entries),
		MaxSize: s.maxSize,
		Hits:    s.hits,
		Misses:  s.misses,
	}
	if total := s.hits + s.misses; total > 0 {
		st.HitRate = float64(s.hits) / float64(total)
	}
	return st
}

// Len reports the number of physical entries, expired ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartJanitor runs a background sweep until ctx is cancelled. The
// sweep takes the same lock as foreground operations.
func (s *Store) StartJanitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				s.sweepLocked(s.nowFn())
				s.mu.Unlock()
			}
		}
	}()
}

func (s *Store) removeLocked(e *entry) {
	delete(s.entries, e.key)
	s.order.Remove(e.elem)
}

func (s *Store) sweepLocked(now time.Time) {
	for _, e := range s.entries {
		if !e.expiresAt.After(now) {
			s.removeLocked(e)
		}
	}
}
