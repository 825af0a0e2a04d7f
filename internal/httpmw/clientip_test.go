package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveClientAddr_NoTrustedHops(t *testing.T) {
	// TrustedHops=0 means no proxies: X-Forwarded-For is always ignored
	// and the headers are cleared before the handler sees them.
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{
			name:       "private peer ignores XFF",
			remoteAddr: "10.0.0.1:1234",
			xff:        "203.0.113.50",
			want:       "10.0.0.1",
		},
		{
			name:       "public peer ignores XFF",
			remoteAddr: "203.0.113.1:1234",
			xff:        "10.0.0.1",
			want:       "203.0.113.1",
		},
		{
			name:       "no XFF returns peer IP",
			remoteAddr: "192.168.1.1:5678",
			xff:        "",
			want:       "192.168.1.1",
		},
		{
			name:       "malformed peer address returns empty",
			remoteAddr: "not-an-ip:1234",
			xff:        "",
			want:       "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}

			got := resolveClientAddr(r, 0)
			if got != tt.want {
				t.Errorf("resolveClientAddr() = %q, want %q", got, tt.want)
			}
			if r.Header.Get("X-Forwarded-For") != "" {
				t.Errorf("X-Forwarded-For not stripped")
			}
		})
	}
}

func TestResolveClientAddr_TrustedHops(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		hops       int
		want       string
	}{
		{
			name:       "single hop takes rightmost entry",
			remoteAddr: "10.0.0.1:1234",
			xff:        "203.0.113.50",
			hops:       1,
			want:       "203.0.113.50",
		},
		{
			name:       "single hop ignores spoofed left entries",
			remoteAddr: "10.0.0.1:1234",
			xff:        "1.2.3.4, 203.0.113.50",
			hops:       1,
			want:       "203.0.113.50",
		},
		{
			name:       "two hops takes second from end",
			remoteAddr: "10.0.0.1:1234",
			xff:        "198.51.100.7, 10.0.0.5",
			hops:       2,
			want:       "198.51.100.7",
		},
		{
			name:       "fewer entries than hops falls back to peer",
			remoteAddr: "10.0.0.1:1234",
			xff:        "198.51.100.7",
			hops:       2,
			want:       "10.0.0.1",
		},
		{
			name:       "public peer never honors XFF",
			remoteAddr: "203.0.113.1:1234",
			xff:        "198.51.100.7",
			hops:       1,
			want:       "203.0.113.1",
		},
		{
			name:       "garbage XFF entry falls back to peer",
			remoteAddr: "10.0.0.1:1234",
			xff:        "not-an-ip",
			hops:       1,
			want:       "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}

			got := resolveClientAddr(r, tt.hops)
			if got != tt.want {
				t.Errorf("resolveClientAddr() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIPMiddleware(t *testing.T) {
	var got string
	h := ClientIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:4444"
	h.ServeHTTP(httptest.NewRecorder(), r)

	if got != "203.0.113.9" {
		t.Errorf("ClientIPFromContext = %q, want 203.0.113.9", got)
	}
}

func TestClientIPFromContext_Missing(t *testing.T) {
	if got := ClientIPFromContext(context.Background()); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}
