// Package ratelimit implements per-key request admission with a
// fixed-window counter.
//
// # Simple in-memory implementation, not shared between instances or distributed
//
// What this does protect against:
//   - a single identity (user or ip) hammering an expensive endpoint
//   - credential-stuffing against the login route via a tight per-key budget
//   - gives observability insight into who/what/when/where/how
//
// What this does NOT protect against:
//   - distributed abuse across many identities
//   - bursts straddling a window boundary: up to 2x the nominal quota
//     can land inside one window length. Accepted trade-off for an O(1)
//     gate with one map entry per key.
//
// State is process-local. Deployments that need a shared budget across
// replicas swap in the redis-backed limiter in this package behind the
// same middleware.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of a single admission check.
type Decision struct {
	Admitted  bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Entry is a snapshot of one key's live window, returned by Status.
type Entry struct {
	Key     string
	Count   int
	ResetAt time.Time
}

// window tracks one key's counter inside the current fixed window.
type window struct {
	count   int
	resetAt time.Time
	// denialLogged tracks whether we have already emitted the
	// first-denial hook for this window; resets with the window
	denialLogged bool
}

// Limiter holds per-key fixed-window counters with background eviction.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window

	nowFn      func() time.Time
	sweepEvery time.Duration

	// OnFirstDenied is called once per window when a key first gets
	// rate limited, used for single-entry logging per offender.
	OnFirstDenied func(key string)

	// OnDenied is called on every denied request, used for
	// incrementing prometheus counters.
	OnDenied func(key string)
}

type Option func(*Limiter)

// WithNow overrides the clock. Tests use this to simulate window
// expiry without sleeping.
func WithNow(fn func() time.Time) Option {
	return func(l *Limiter) {
		l.nowFn = fn
	}
}

// WithSweepEvery controls how often the janitor removes expired windows.
func WithSweepEvery(d time.Duration) Option {
	return func(l *Limiter) {
		l.sweepEvery = d
	}
}

// WithOnFirstDenied sets a callback for the first denial per window.
// Intentionally separate from OnDenied - we log once per offender, but
// increment counters on each denial.
func WithOnFirstDenied(fn func(key string)) Option {
	return func(l *Limiter) {
		l.OnFirstDenied = fn
	}
}

// WithOnDenied sets a callback for every denied request.
func WithOnDenied(fn func(key string)) Option {
	return func(l *Limiter) {
		l.OnDenied = fn
	}
}

// New creates a Limiter and starts the background janitor, which stops
// when ctx is cancelled.
func New(ctx context.Context, opts ...Option) *Limiter {
	l := &Limiter{
		windows:    make(map[string]*window),
		nowFn:      time.Now,
		sweepEvery: time.Minute,
	}
	for _, o := range opts {
		o(l)
	}
	go l.janitor(ctx)
	return l
}

// Check runs one admission decision for key under cfg.
//
// A fresh or expired window starts at count 1 and admits. A full
// window rejects without touching the counter, so a rejected caller is
// not charged and sees a stable ResetAt for the rest of the window.
func (l *Limiter) Check(key string, cfg Config) Decision {
	now := l.nowFn()

	l.mu.Lock()
	w, ok := l.windows[key]
	if !ok || !w.resetAt.After(now) {
		w = &window{
			count:   1,
			resetAt: now.Add(cfg.Window),
		}
		l.windows[key] = w
		l.mu.Unlock()
		return Decision{
			Admitted:  true,
			Limit:     cfg.MaxRequests,
			Remaining: cfg.MaxRequests - 1,
			ResetAt:   w.resetAt,
		}
	}

	if w.count >= cfg.MaxRequests {
		d := Decision{
			Admitted:  false,
			Limit:     cfg.MaxRequests,
			Remaining: 0,
			ResetAt:   w.resetAt,
		}
		first := !w.denialLogged
		w.denialLogged = true
		// release before calling hooks, they may do slow work
		l.mu.Unlock()
		if first && l.OnFirstDenied != nil {
			l.OnFirstDenied(key)
		}
		if l.OnDenied != nil {
			l.OnDenied(key)
		}
		return d
	}

	w.count++
	d := Decision{
		Admitted:  true,
		Limit:     cfg.MaxRequests,
		Remaining: cfg.MaxRequests - w.count,
		ResetAt:   w.resetAt,
	}
	l.mu.Unlock()
	return d
}

// Status returns key's live window, or ok=false if absent or expired.
// Read-only: it never creates or mutates an entry.
func (l *Limiter) Status(key string) (Entry, bool) {
	now := l.nowFn()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !w.resetAt.After(now) {
		return Entry{}, false
	}
	return Entry{Key: key, Count: w.count, ResetAt: w.resetAt}, true
}

// Clear removes one key's window.
func (l *Limiter) Clear(key string) {
	l.mu.Lock()
	delete(l.windows, key)
	l.mu.Unlock()
}

// ClearAll resets the whole store.
func (l *Limiter) ClearAll() {
	l.mu.Lock()
	l.windows = make(map[string]*window)
	l.mu.Unlock()
}

// Len reports the number of tracked windows, expired ones included.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// janitor periodically evicts expired windows so idle keys don't
// accumulate between requests.
func (l *Limiter) janitor(ctx context.Context) {
	ticker := time.NewTicker(l.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := l.nowFn()
			l.mu.Lock()
			for key, w := range l.windows {
				if !w.resetAt.After(now) {
					delete(l.windows, key)
				}
			}
			l.mu.Unlock()
		}
	}
}
