package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vulnboard/vulnboard/internal/apihttp"
	"github.com/vulnboard/vulnboard/internal/cache"
	"github.com/vulnboard/vulnboard/internal/catalog"
	"github.com/vulnboard/vulnboard/internal/cfg"
	"github.com/vulnboard/vulnboard/internal/httpmw"
	"github.com/vulnboard/vulnboard/internal/opshttp"
	"github.com/vulnboard/vulnboard/internal/probe"
	"github.com/vulnboard/vulnboard/internal/ratelimit"

	"github.com/vulnboard/vulnboard/internal/httpserver"
	"github.com/vulnboard/vulnboard/internal/log"
	"github.com/vulnboard/vulnboard/internal/metrics"
	"github.com/vulnboard/vulnboard/internal/otelx"
	"github.com/vulnboard/vulnboard/internal/prof"
	v "github.com/vulnboard/vulnboard/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get build/version info
	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			v.AppName, vi.Version, vi.Commit, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix VULNBOARD_ and validate
	cfg.FillFromEnv(flag.CommandLine, "VULNBOARD_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	// validate config
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:             v.AppName,
		Level:           lvl,
		StacktraceLevel: stLvl,
		JSONFormat:      conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"trusted_hops", conf.TrustedHops,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"pyro_server", conf.PyroServer,
		"pyro_tenant", conf.PyroTenantID,
		"trace_sample", conf.TraceSample,
		"cache_max_size", conf.CacheMaxSize,
		"cache_default_ttl", conf.CacheDefaultTTL,
		"cache_single_flight", conf.SingleFlight,
		"rate_window", conf.RateWindow,
		"rate_max_requests", conf.RateMaxRequests,
		"floodguard_rate", conf.FloodGuardRate,
		"floodguard_burst", conf.FloodGuardBurst,
		"redis_addr", conf.RedisAddr,
	)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
			"source":    "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Setup metrics / admin listener
	var m *metrics.ServerMetrics = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(conf.EnablePyroscope)

	// Shared redis for limiter+cache state when configured; the
	// in-memory variants are the default for single-instance deploys
	var rdb *redis.Client
	if conf.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     conf.RedisAddr,
			Password: conf.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			L.Error(ctx, err, "redis unreachable at startup", "redis_addr", conf.RedisAddr)
			os.Exit(1)
		}
		L.Info(ctx, "using redis for limiter and cache state", "redis_addr", conf.RedisAddr)
	}

	// Response cache
	var store cache.Interface
	if rdb != nil {
		rs := cache.NewRedisStore(rdb, conf.CacheDefaultTTL)
		rs.OnError = func(op string, err error) {
			m.IncRedisError(op)
			L.Warn(ctx, "redis cache error, degrading to miss", "op", op, "error", err)
		}
		store = rs
	} else {
		memOpts := []cache.Option{
			cache.WithMaxSize(conf.CacheMaxSize),
			cache.WithDefaultTTL(conf.CacheDefaultTTL),
			cache.WithSweepEvery(conf.CacheSweepEvery),
			cache.WithOnEvict(func(key string) { m.IncCacheEviction() }),
		}
		if conf.SingleFlight {
			memOpts = append(memOpts, cache.WithSingleFlight())
		}
		mem := cache.New(memOpts...)
		mem.StartJanitor(ctx)
		m.MustRegisterCacheSize(func() float64 { return float64(mem.Len()) })
		store = mem
	}
	store = cache.Instrument(store, cache.Observer{
		OnHit:  m.IncCacheHit,
		OnMiss: m.IncCacheMiss,
	})

	// Per-endpoint window limits. The default policy is tunable; the
	// per-endpoint table in ratelimit/config.go overrides it
	ratelimit.DefaultConfig = ratelimit.Config{
		Window:      conf.RateWindow,
		MaxRequests: conf.RateMaxRequests,
	}
	var checker ratelimit.Checker
	var memLimiter *ratelimit.Limiter
	if rdb != nil {
		rl := ratelimit.NewRedisLimiter(rdb)
		rl.OnError = func(key string, err error) {
			m.IncRedisError("ratelimit")
			L.Warn(ctx, "redis limiter error, admitting request", "key", key, "error", err)
		}
		checker = rl
	} else {
		memLimiter = ratelimit.New(ctx,
			// only log the first denial per window to keep an abusive caller
			// from flooding the logs as well
			ratelimit.WithOnFirstDenied(func(key string) {
				m.IncRateLimitOffender()
				L.Warn(ctx, "rate limit triggered", "key", key)
			}),
		)
		checker = memLimiter
	}

	// Flood guard sheds per-ip bursts before routing; the window
	// limits above enforce the per-endpoint budgets behind it
	guard := ratelimit.NewFloodGuard(ctx,
		ratelimit.WithGuardRate(conf.FloodGuardRate, conf.FloodGuardBurst),
		ratelimit.WithGuardOnDenied(func(ip string) { m.IncFloodShed() }),
	)

	// Bearer auth from the static token table when configured
	tokens, err := cfg.ParseAPITokens(conf.APITokens)
	if err != nil {
		// Validate already rejected malformed tables; belt and braces
		L.Error(ctx, err, "api token table parse failed")
		os.Exit(1)
	}
	var verify httpmw.VerifyFunc
	if len(tokens) > 0 {
		verify = func(ctx context.Context, token string) string { return tokens[token] }
		L.Info(ctx, "static bearer auth enabled", "tokens", len(tokens))
	}

	// Vulnerability catalog, seeded until a real ingest pipeline lands
	cat := catalog.Seed(catalog.New())

	api := apihttp.NewAPI(cat, store, checker, L)
	api.OnRateLimited = m.IncRateLimitDenied

	// setup toggle for server shutdown
	var gate probe.ShutdownGate
	readiness := probe.All(gate.Probe())

	// start public http server
	apiHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Health:       probe.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    api.RegisterRoutes,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		FloodGuardMW: guard.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		Verify:       verify,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start http listener")
		os.Exit(1)
	}
	defer func() { _ = apiHTTPStop(context.Background()) }()

	// start admin/ops listener to serve metrics, health checks, pprof,
	// and the limiter/cache introspection endpoints
	// sg restricts inbound to internal monitoring infrastructure
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      probe.Fixed(true, ""),
		Readiness:   readiness,
		Limiter:     memLimiter,
		Cache:       store,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// block until signal so we dont exit
	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness checks so the load balancer stops sending new requests
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// will make sleep time tunable in the future
	L.Info(context.Background(), "sleeping 15s for in-flight and load balancer health checks to drain")
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(15 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := apiHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "api http server shutdown")
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	if rdb != nil {
		_ = rdb.Close()
	}

	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
