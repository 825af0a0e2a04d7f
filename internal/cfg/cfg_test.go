package cfg

import (
	"flag"
	"strings"
	"testing"
	"time"
)

func wantErrContains(t *testing.T, err error, sub string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got <nil>", sub)
	}
	if !strings.Contains(err.Error(), sub) {
		t.Fatalf("error %q does not contain %q", err.Error(), sub)
	}
}

// newTestConfig registers flags on a fresh FlagSet, parses the given args,
// and returns the resulting App. This isolates each test from flag.CommandLine.
func newTestConfig(t *testing.T, args []string) App {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return c
}

func TestRegister_Defaults(t *testing.T) {
	c := newTestConfig(t, nil)

	if !c.LogJSON {
		t.Error("LogJSON: want true")
	}
	if c.LogLevel != "info" {
		t.Errorf("LogLevel: want %q, got %q", "info", c.LogLevel)
	}
	if c.HTTPPort != 8080 {
		t.Errorf("HTTPPort: want 8080, got %d", c.HTTPPort)
	}
	if c.AdminPort != 9000 {
		t.Errorf("AdminPort: want 9000, got %d", c.AdminPort)
	}
	if c.TrustedHops != 0 {
		t.Errorf("TrustedHops: want 0, got %d", c.TrustedHops)
	}
	if c.CacheMaxSize != 1000 {
		t.Errorf("CacheMaxSize: want 1000, got %d", c.CacheMaxSize)
	}
	if c.CacheDefaultTTL != 5*time.Minute {
		t.Errorf("CacheDefaultTTL: want 5m, got %v", c.CacheDefaultTTL)
	}
	if c.RateWindow != time.Minute {
		t.Errorf("RateWindow: want 1m, got %v", c.RateWindow)
	}
	if c.RateMaxRequests != 100 {
		t.Errorf("RateMaxRequests: want 100, got %d", c.RateMaxRequests)
	}
	if c.SingleFlight {
		t.Error("SingleFlight: want false")
	}
	if c.RedisAddr != "" {
		t.Errorf("RedisAddr: want empty, got %q", c.RedisAddr)
	}
}

func TestRegister_CLIOverrides(t *testing.T) {
	c := newTestConfig(t, []string{
		"-log-level=debug",
		"-http-port=9090",
		"-cache-max-size=50",
		"-cache-default-ttl=30s",
		"-cache-single-flight=true",
		"-rate-window=5m",
		"-rate-max-requests=10",
		"-trusted-hops=2",
		"-redis-addr=localhost:6379",
	})

	if c.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", c.LogLevel)
	}
	if c.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d", c.HTTPPort)
	}
	if c.CacheMaxSize != 50 {
		t.Errorf("CacheMaxSize = %d", c.CacheMaxSize)
	}
	if c.CacheDefaultTTL != 30*time.Second {
		t.Errorf("CacheDefaultTTL = %v", c.CacheDefaultTTL)
	}
	if !c.SingleFlight {
		t.Error("SingleFlight: want true")
	}
	if c.RateWindow != 5*time.Minute {
		t.Errorf("RateWindow = %v", c.RateWindow)
	}
	if c.RateMaxRequests != 10 {
		t.Errorf("RateMaxRequests = %d", c.RateMaxRequests)
	}
	if c.TrustedHops != 2 {
		t.Errorf("TrustedHops = %d", c.TrustedHops)
	}
	if c.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q", c.RedisAddr)
	}
}

func TestFillFromEnv(t *testing.T) {
	t.Setenv("VBTEST_HTTP_PORT", "7070")
	t.Setenv("VBTEST_CACHE_MAX_SIZE", "99")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	// -http-port on the cli beats the env var
	if err := fs.Parse([]string{"-http-port=6060"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	FillFromEnv(fs, "VBTEST_", nil)

	if c.HTTPPort != 6060 {
		t.Errorf("HTTPPort = %d, want cli value 6060", c.HTTPPort)
	}
	if c.CacheMaxSize != 99 {
		t.Errorf("CacheMaxSize = %d, want env value 99", c.CacheMaxSize)
	}
}

func TestFillFromEnv_InvalidValueKeepsDefault(t *testing.T) {
	t.Setenv("VBTEST_HTTP_PORT", "not-a-number")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	fs.Parse(nil)
	FillFromEnv(fs, "VBTEST_", nil)

	if c.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want default 8080", c.HTTPPort)
	}
}

func TestValidate_Defaults(t *testing.T) {
	c := newTestConfig(t, nil)
	if err := Validate(c); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*App)
		wantSub string
	}{
		{"bad http port", func(c *App) { c.HTTPPort = 0 }, "HTTP_PORT"},
		{"same ports", func(c *App) { c.AdminPort = c.HTTPPort }, "must differ"},
		{"bad log level", func(c *App) { c.LogLevel = "loud" }, "LOG_LEVEL"},
		{"bad trusted hops", func(c *App) { c.TrustedHops = 99 }, "TRUSTED_HOPS"},
		{"bad trace sample", func(c *App) { c.TraceSample = 2 }, "TRACE_SAMPLE"},
		{"pyroscope without server", func(c *App) { c.EnablePyroscope = true }, "PYRO_SERVER"},
		{"tracing without endpoint", func(c *App) { c.EnableTracing = true }, "OTLP_ENDPOINT"},
		{"zero cache size", func(c *App) { c.CacheMaxSize = 0 }, "CACHE_MAX_SIZE"},
		{"zero cache ttl", func(c *App) { c.CacheDefaultTTL = 0 }, "CACHE_DEFAULT_TTL"},
		{"zero rate window", func(c *App) { c.RateWindow = 0 }, "RATE_WINDOW"},
		{"zero rate budget", func(c *App) { c.RateMaxRequests = 0 }, "RATE_MAX_REQUESTS"},
		{"zero guard rate", func(c *App) { c.FloodGuardRate = 0 }, "FLOODGUARD_RATE"},
		{"bad redis addr", func(c *App) { c.RedisAddr = "localhost" }, "REDIS_ADDR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestConfig(t, nil)
			tt.mutate(&c)
			wantErrContains(t, Validate(c), tt.wantSub)
		})
	}
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	c := newTestConfig(t, nil)
	c.HTTPPort = 0
	c.LogLevel = "loud"
	c.CacheMaxSize = 0

	err := Validate(c)
	wantErrContains(t, err, "HTTP_PORT")
	wantErrContains(t, err, "LOG_LEVEL")
	wantErrContains(t, err, "CACHE_MAX_SIZE")
}

func TestParseAPITokens(t *testing.T) {
	got, err := ParseAPITokens("tok-a=alice, tok-b=bob")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 || got["tok-a"] != "alice" || got["tok-b"] != "bob" {
		t.Fatalf("tokens = %v", got)
	}

	if got, err := ParseAPITokens("  "); err != nil || got != nil {
		t.Fatalf("empty input: got %v, err %v", got, err)
	}

	for _, bad := range []string{"tok-a", "=alice", "tok-a=", "tok-a=alice,junk"} {
		if _, err := ParseAPITokens(bad); err == nil {
			t.Errorf("ParseAPITokens(%q): expected error", bad)
		}
	}
}
