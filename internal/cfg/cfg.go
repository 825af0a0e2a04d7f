package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/vulnboard/vulnboard/internal/log"
)

type App struct {
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string

	HTTPPort  int
	AdminPort int

	TrustedHops int

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	CacheMaxSize    int
	CacheDefaultTTL time.Duration
	CacheSweepEvery time.Duration
	SingleFlight    bool

	RateWindow      time.Duration
	RateMaxRequests int

	FloodGuardRate  float64
	FloodGuardBurst int

	// RedisAddr switches the limiter and cache to a shared redis
	// instance; empty keeps both process-local.
	RedisAddr     string
	RedisPassword string

	// APITokens holds static token=userid pairs for deployments
	// without an auth service in front. Empty disables bearer auth
	// and every request is keyed by client ip.
	APITokens string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 0, "number of trusted reverse proxies in front of the server (0..8)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.IntVar(&c.CacheMaxSize, "cache-max-size", 1000, "max live cache entries (1..1000000)")
	fs.DurationVar(&c.CacheDefaultTTL, "cache-default-ttl", 5*time.Minute, "cache entry ttl when a handler does not override it")
	fs.DurationVar(&c.CacheSweepEvery, "cache-sweep-every", time.Minute, "interval between background sweeps of expired entries")
	fs.BoolVar(&c.SingleFlight, "cache-single-flight", false, "serialize concurrent cache fills per key")
	fs.DurationVar(&c.RateWindow, "rate-window", time.Minute, "default fixed-window length for endpoints without a specific policy")
	fs.IntVar(&c.RateMaxRequests, "rate-max-requests", 100, "default request budget per window (1..100000)")
	fs.Float64Var(&c.FloodGuardRate, "floodguard-rate", 20, "per-ip refill rate in requests/second")
	fs.IntVar(&c.FloodGuardBurst, "floodguard-burst", 60, "per-ip burst ceiling")
	fs.StringVar(&c.RedisAddr, "redis-addr", "", "redis host:port for shared limiter/cache state (empty = in-memory)")
	fs.StringVar(&c.RedisPassword, "redis-password", "", "redis auth password")
	fs.StringVar(&c.APITokens, "api-tokens", "", "comma-separated token=userid pairs for static bearer auth (empty = anonymous only)")
}

// ParseAPITokens splits the api-tokens value into a token -> userid map.
func ParseAPITokens(s string) (map[string]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	out := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		tok, uid, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || tok == "" || uid == "" {
			return nil, fmt.Errorf("API_TOKENS entry %q must be token=userid", pair)
		}
		out[tok] = uid
	}
	return out, nil
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if c.TrustedHops < 0 || c.TrustedHops > 8 {
		errs = append(errs, fmt.Errorf("invalid TRUSTED_HOPS %d (must be 0..8)", c.TrustedHops))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Cache bounds
	if c.CacheMaxSize < 1 || c.CacheMaxSize > 1000000 {
		errs = append(errs, fmt.Errorf("CACHE_MAX_SIZE must be 1..1000000 (got %d)", c.CacheMaxSize))
	}
	if c.CacheDefaultTTL <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_DEFAULT_TTL must be positive (got %v)", c.CacheDefaultTTL))
	}
	if c.CacheSweepEvery <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_SWEEP_EVERY must be positive (got %v)", c.CacheSweepEvery))
	}

	// Rate limits
	if c.RateWindow <= 0 {
		errs = append(errs, fmt.Errorf("RATE_WINDOW must be positive (got %v)", c.RateWindow))
	}
	if c.RateMaxRequests < 1 || c.RateMaxRequests > 100000 {
		errs = append(errs, fmt.Errorf("RATE_MAX_REQUESTS must be 1..100000 (got %d)", c.RateMaxRequests))
	}
	if c.FloodGuardRate <= 0 {
		errs = append(errs, fmt.Errorf("FLOODGUARD_RATE must be positive (got %v)", c.FloodGuardRate))
	}
	if c.FloodGuardBurst < 1 {
		errs = append(errs, fmt.Errorf("FLOODGUARD_BURST must be at least 1 (got %d)", c.FloodGuardBurst))
	}

	if c.RedisAddr != "" {
		if _, _, err := net.SplitHostPort(c.RedisAddr); err != nil {
			errs = append(errs, fmt.Errorf("REDIS_ADDR must be host:port (got %q): %v", c.RedisAddr, err))
		}
	}

	if _, err := ParseAPITokens(c.APITokens); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
