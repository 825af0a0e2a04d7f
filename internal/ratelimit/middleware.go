package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/vulnboard/vulnboard/internal/reqkey"
)

// rejection is the payload the HTTP layer returns on a denied request.
type rejection struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retryAfter"`
}

// Checker is the admission surface the middleware needs. Both the
// in-memory Limiter and RedisLimiter satisfy it.
type Checker interface {
	Check(key string, cfg Config) Decision
}

// Middleware returns middleware enforcing cfg on every request. Quota
// headers are set on admitted and denied responses alike; denials get
// a 429 with a retryAfter payload.
func Middleware(c Checker, cfg Config) func(http.Handler) http.Handler {
	keyFn := cfg.KeyFunc
	if keyFn == nil {
		keyFn = func(r *http.Request) string {
			return reqkey.Client(r.Context())
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := c.Check(keyFn(r), cfg)

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Admitted {
				if cfg.OnDenied != nil {
					cfg.OnDenied()
				}
				retryAfter := retryAfterSeconds(d.ResetAt, time.Now())
				h.Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				h.Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(rejection{
					StatusCode: http.StatusTooManyRequests,
					Message:    "too many requests, please try again later",
					RetryAfter: retryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds rounds up so a client that waits the advertised
// interval always lands in the next window.
func retryAfterSeconds(resetAt, now time.Time) int64 {
	if !resetAt.After(now) {
		return 0
	}
	return int64(math.Ceil(resetAt.Sub(now).Seconds()))
}
