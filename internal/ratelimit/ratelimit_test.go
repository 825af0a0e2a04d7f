package ratelimit

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"
)

// newTestLimiter returns a limiter on a fake clock plus a function to
// advance it.
func newTestLimiter(t *testing.T, opts ...Option) (*Limiter, func(time.Duration)) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var mu sync.Mutex
	now := time.Unix(1700000000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	opts = append([]Option{WithNow(clock), WithSweepEvery(time.Hour)}, opts...)
	return New(ctx, opts...), advance
}

func TestCheck_ExhaustsWindow(t *testing.T) {
	l, _ := newTestLimiter(t)
	cfg := Config{Window: time.Minute, MaxRequests: 5}

	for i, wantRemaining := range []int{4, 3, 2, 1, 0} {
		d := l.Check("ip:1.2.3.4", cfg)
		if !d.Admitted {
			t.Fatalf("call %d: rejected, want admitted", i+1)
		}
		if d.Remaining != wantRemaining {
			t.Fatalf("call %d: remaining = %d, want %d", i+1, d.Remaining, wantRemaining)
		}
		if d.Limit != 5 {
			t.Fatalf("call %d: limit = %d, want 5", i+1, d.Limit)
		}
	}

	d := l.Check("ip:1.2.3.4", cfg)
	if d.Admitted {
		t.Fatal("6th call admitted, want rejected")
	}
	if d.Remaining != 0 {
		t.Fatalf("6th call remaining = %d, want 0", d.Remaining)
	}
}

func TestCheck_RejectionNotCharged(t *testing.T) {
	l, _ := newTestLimiter(t)
	cfg := Config{Window: time.Minute, MaxRequests: 2}

	l.Check("k", cfg)
	l.Check("k", cfg)

	first := l.Check("k", cfg)
	if first.Admitted {
		t.Fatal("over-quota call admitted")
	}

	// repeated rejections must not move the window or the counter
	for i := 0; i < 10; i++ {
		d := l.Check("k", cfg)
		if d.Admitted {
			t.Fatalf("rejection %d admitted", i)
		}
		if !d.ResetAt.Equal(first.ResetAt) {
			t.Fatalf("rejection %d moved ResetAt from %v to %v", i, first.ResetAt, d.ResetAt)
		}
	}

	e, ok := l.Status("k")
	if !ok {
		t.Fatal("Status: entry absent")
	}
	if e.Count != 2 {
		t.Fatalf("count = %d after rejections, want 2", e.Count)
	}
}

func TestCheck_WindowReset(t *testing.T) {
	l, advance := newTestLimiter(t)
	cfg := Config{Window: time.Minute, MaxRequests: 3}

	for i := 0; i < 3; i++ {
		l.Check("k", cfg)
	}
	if d := l.Check("k", cfg); d.Admitted {
		t.Fatal("over-quota call admitted")
	}

	advance(time.Minute + time.Second)

	d := l.Check("k", cfg)
	if !d.Admitted {
		t.Fatal("call after window expiry rejected")
	}
	if d.Remaining != 2 {
		t.Fatalf("remaining = %d after fresh window, want 2", d.Remaining)
	}
}

func TestCheck_KeysIndependent(t *testing.T) {
	l, _ := newTestLimiter(t)
	cfg := Config{Window: time.Minute, MaxRequests: 1}

	if d := l.Check("user:1", cfg); !d.Admitted {
		t.Fatal("first key rejected")
	}
	if d := l.Check("user:2", cfg); !d.Admitted {
		t.Fatal("second key rejected, budgets not independent")
	}
	if d := l.Check("user:1", cfg); d.Admitted {
		t.Fatal("first key admitted past its budget")
	}
}

func TestCheck_NoLostUpdates(t *testing.T) {
	l, _ := newTestLimiter(t)
	cfg := Config{Window: time.Minute, MaxRequests: 50}

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("k", cfg).Admitted {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 50 {
		t.Fatalf("admitted %d concurrent calls, want exactly 50", admitted)
	}
}

func TestStatus(t *testing.T) {
	l, advance := newTestLimiter(t)
	cfg := Config{Window: time.Minute, MaxRequests: 5}

	if _, ok := l.Status("k"); ok {
		t.Fatal("Status ok for never-seen key")
	}

	l.Check("k", cfg)
	l.Check("k", cfg)

	e, ok := l.Status("k")
	if !ok || e.Count != 2 {
		t.Fatalf("Status = %+v, %v; want count 2", e, ok)
	}

	// Status is read-only
	if e2, _ := l.Status("k"); e2.Count != 2 {
		t.Fatalf("Status mutated the entry: count %d", e2.Count)
	}

	advance(2 * time.Minute)
	if _, ok := l.Status("k"); ok {
		t.Fatal("Status ok for expired window")
	}
}

func TestClear(t *testing.T) {
	l, _ := newTestLimiter(t)
	cfg := Config{Window: time.Minute, MaxRequests: 1}

	l.Check("a", cfg)
	l.Check("b", cfg)

	l.Clear("a")
	if d := l.Check("a", cfg); !d.Admitted {
		t.Fatal("cleared key still limited")
	}
	if d := l.Check("b", cfg); d.Admitted {
		t.Fatal("uncleared key was reset")
	}

	l.ClearAll()
	if d := l.Check("b", cfg); !d.Admitted {
		t.Fatal("key limited after ClearAll")
	}
}

func TestDenialHooks(t *testing.T) {
	var first, every []string
	l, advance := newTestLimiter(t,
		WithOnFirstDenied(func(key string) { first = append(first, key) }),
		WithOnDenied(func(key string) { every = append(every, key) }),
	)
	cfg := Config{Window: time.Minute, MaxRequests: 1}

	l.Check("k", cfg)
	l.Check("k", cfg)
	l.Check("k", cfg)

	if len(first) != 1 {
		t.Fatalf("OnFirstDenied called %d times, want 1", len(first))
	}
	if len(every) != 2 {
		t.Fatalf("OnDenied called %d times, want 2", len(every))
	}

	// a fresh window logs again
	advance(2 * time.Minute)
	l.Check("k", cfg)
	l.Check("k", cfg)

	if len(first) != 2 {
		t.Fatalf("OnFirstDenied called %d times after new window, want 2", len(first))
	}
}

func TestJanitorSweepsExpired(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var mu sync.Mutex
	now := time.Unix(1700000000, 0)
	l := New(ctx,
		WithNow(func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		}),
		WithSweepEvery(10*time.Millisecond),
	)
	cfg := Config{Window: time.Minute, MaxRequests: 5}

	l.Check("a", cfg)
	l.Check("b", cfg)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for l.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("janitor left %d expired windows", l.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// compile-time contract checks
var (
	_ Checker = (*Limiter)(nil)
	_ Checker = (*RedisLimiter)(nil)
)

func TestConfigFor(t *testing.T) {
	if got := ConfigFor("scans:ingest"); got.MaxRequests != 10 || got.Window != time.Minute {
		t.Errorf("scans:ingest config = %+v", got)
	}
	if got := ConfigFor("auth:login"); got.MaxRequests != 5 || got.Window != 5*time.Minute {
		t.Errorf("auth:login config = %+v", got)
	}
	if got := ConfigFor("no-such-endpoint"); !reflect.DeepEqual(got, DefaultConfig) {
		t.Errorf("unknown endpoint config = %+v, want default", got)
	}
}
