package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vulnboard/vulnboard/internal/httpmw"
)

// FloodGuard is a per-ip token-bucket gate that sits in front of the
// whole public listener. It is a blunt instrument against connection
// flooding from a single address and runs before routing, so it is
// separate from the per-endpoint window budgets: those meter logical
// usage, this sheds abusive sockets.
type FloodGuard struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	// rate controls: tokens added per second and bucket capacity
	perSecond rate.Limit
	burst     int

	// ttl controls how long an idle ip stays in the map before the
	// cleanup loop evicts it
	ttl time.Duration

	// OnDenied is called on every shed request.
	OnDenied func(ip string)
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type GuardOption func(*FloodGuard)

// WithGuardRate sets the refill rate and the bucket capacity.
// WithGuardRate(10, 50) allows 50 requests at once, then refills at 10
// requests per second.
func WithGuardRate(perSecond float64, burst int) GuardOption {
	return func(g *FloodGuard) {
		g.perSecond = rate.Limit(perSecond)
		g.burst = burst
	}
}

// WithGuardTTL controls how long an idle ip stays tracked.
func WithGuardTTL(d time.Duration) GuardOption {
	return func(g *FloodGuard) {
		g.ttl = d
	}
}

// WithGuardOnDenied sets a callback for every shed request.
func WithGuardOnDenied(fn func(ip string)) GuardOption {
	return func(g *FloodGuard) {
		g.OnDenied = fn
	}
}

// NewFloodGuard creates a FloodGuard and starts its cleanup goroutine,
// which stops when ctx is cancelled.
func NewFloodGuard(ctx context.Context, opts ...GuardOption) *FloodGuard {
	g := &FloodGuard{
		visitors:  make(map[string]*visitor),
		perSecond: 20,
		burst:     60,
		ttl:       5 * time.Minute,
	}
	for _, o := range opts {
		o(g)
	}
	go g.cleanup(ctx)
	return g
}

func (g *FloodGuard) allow(ip string) bool {
	g.mu.Lock()
	v, ok := g.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(g.perSecond, g.burst)}
		g.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	allowed := v.limiter.Allow()
	g.mu.Unlock()

	if !allowed && g.OnDenied != nil {
		g.OnDenied(ip)
	}
	return allowed
}

// cleanup evicts idle visitors. Runs every ttl/2 so stale entries are
// not held much longer than intended.
func (g *FloodGuard) cleanup(ctx context.Context) {
	ticker := time.NewTicker(g.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			g.mu.Lock()
			for ip, v := range g.visitors {
				if now.Sub(v.lastSeen) > g.ttl {
					delete(g.visitors, ip)
				}
			}
			g.mu.Unlock()
		}
	}
}

// Middleware sheds requests over the per-ip flood budget with a bare
// 429. Unlike the window middleware it reports no quota detail.
func (g *FloodGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httpmw.ClientIPFromContext(r.Context())

		if !g.allow(ip) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"too many requests"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
