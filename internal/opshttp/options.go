package opshttp

import (
	"net/http"

	"github.com/vulnboard/vulnboard/internal/cache"
	"github.com/vulnboard/vulnboard/internal/probe"
	"github.com/vulnboard/vulnboard/internal/ratelimit"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      probe.Probe
	Readiness   probe.Probe

	// Limiter and Cache enable the admin introspection/reset routes.
	Limiter *ratelimit.Limiter
	Cache   cache.Interface
}
