package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vulnboard/vulnboard/internal/httpmw"
)

func TestMiddleware_QuotaHeaders(t *testing.T) {
	l, _ := newTestLimiter(t)
	cfg := Config{Window: time.Minute, MaxRequests: 3}

	h := Middleware(l, cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(httpmw.WithClientIP(r.Context(), "1.2.3.4"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "3" {
		t.Errorf("X-RateLimit-Limit = %q, want 3", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "2" {
		t.Errorf("X-RateLimit-Remaining = %q, want 2", got)
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("X-RateLimit-Reset not set")
	}
}

func TestMiddleware_OnDeniedHook(t *testing.T) {
	l, _ := newTestLimiter(t)
	denied := 0
	cfg := Config{
		Window:      time.Minute,
		MaxRequests: 1,
		OnDenied:    func() { denied++ },
	}

	h := Middleware(l, cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	mkReq := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		return r.WithContext(httpmw.WithClientIP(r.Context(), "1.2.3.4"))
	}

	h.ServeHTTP(httptest.NewRecorder(), mkReq())
	if denied != 0 {
		t.Fatalf("hook fired on admitted request")
	}
	h.ServeHTTP(httptest.NewRecorder(), mkReq())
	h.ServeHTTP(httptest.NewRecorder(), mkReq())
	if denied != 2 {
		t.Fatalf("hook fired %d times, want 2", denied)
	}
}

func TestMiddleware_Rejection(t *testing.T) {
	l, _ := newTestLimiter(t)
	cfg := Config{Window: time.Minute, MaxRequests: 1}

	handlerCalls := 0
	h := Middleware(l, cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalls++
	}))

	mkReq := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		return r.WithContext(httpmw.WithClientIP(r.Context(), "1.2.3.4"))
	}

	h.ServeHTTP(httptest.NewRecorder(), mkReq())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, mkReq())

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if handlerCalls != 1 {
		t.Fatalf("handler called %d times, want 1", handlerCalls)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}

	var body rejection
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.StatusCode != http.StatusTooManyRequests {
		t.Errorf("statusCode = %d, want 429", body.StatusCode)
	}
	if body.Message == "" {
		t.Error("message empty")
	}
	if body.RetryAfter <= 0 || body.RetryAfter > 60 {
		t.Errorf("retryAfter = %d, want within (0, 60]", body.RetryAfter)
	}
}

func TestMiddleware_CustomKeyFunc(t *testing.T) {
	l, _ := newTestLimiter(t)
	cfg := Config{
		Window:      time.Minute,
		MaxRequests: 1,
		KeyFunc: func(r *http.Request) string {
			return "route:" + r.URL.Path
		},
	}

	h := Middleware(l, cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/a", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first /a: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/b", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/b shares budget with /a: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/a", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second /a: status = %d, want 429", rec.Code)
	}
}

func TestMiddleware_AnonymousSharedBucket(t *testing.T) {
	l, _ := newTestLimiter(t)
	cfg := Config{Window: time.Minute, MaxRequests: 1}

	h := Middleware(l, cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	// no principal, no client ip: both requests land in ip:unknown
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background()))
	if rec.Code != http.StatusOK {
		t.Fatalf("first: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil).WithContext(context.Background()))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second: status = %d, want 429", rec.Code)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	now := time.Unix(1700000000, 0)
	tests := []struct {
		name    string
		resetAt time.Time
		want    int64
	}{
		{"rounds up partial seconds", now.Add(1500 * time.Millisecond), 2},
		{"exact seconds unchanged", now.Add(30 * time.Second), 30},
		{"past reset clamps to zero", now.Add(-time.Second), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryAfterSeconds(tt.resetAt, now); got != tt.want {
				t.Errorf("retryAfterSeconds = %d, want %d", got, tt.want)
			}
		})
	}
}
