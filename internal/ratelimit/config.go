package ratelimit

import (
	"net/http"
	"time"
)

// Config is the admission policy for one logical endpoint.
type Config struct {
	Window      time.Duration
	MaxRequests int

	// KeyFunc overrides how the middleware derives the per-caller key.
	// Nil means the default principal-or-ip derivation.
	KeyFunc func(r *http.Request) string

	// OnDenied is called by the middleware for every denied request,
	// after the policy is already bound to an endpoint.
	OnDenied func()
}

// DefaultConfig applies to any endpoint without a specific policy.
var DefaultConfig = Config{
	Window:      time.Minute,
	MaxRequests: 100,
}

// endpointConfigs maps logical endpoint identifiers to their policy.
// Lookup is by exact string; no pattern matching. Scan ingestion gets
// a tight budget because each request fans out into parsing and
// storage work; login gets a slow budget to blunt credential stuffing.
var endpointConfigs = map[string]Config{
	"scans:ingest": {Window: time.Minute, MaxRequests: 10},
	"auth:login":   {Window: 5 * time.Minute, MaxRequests: 5},
}

// ConfigFor returns the policy for an endpoint identifier. Unknown
// endpoints silently fall back to DefaultConfig; absence of a specific
// policy is not an error.
func ConfigFor(endpoint string) Config {
	if cfg, ok := endpointConfigs[endpoint]; ok {
		return cfg
	}
	return DefaultConfig
}
