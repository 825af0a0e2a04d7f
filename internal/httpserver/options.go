package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/vulnboard/vulnboard/internal/httpmw"
	"github.com/vulnboard/vulnboard/internal/log"
	"github.com/vulnboard/vulnboard/internal/probe"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	Health       probe.Probe
	Readiness    probe.Probe
	ClientIPOpts httpmw.ClientIPOptions
	Verify       httpmw.VerifyFunc

	// FloodGuardMW sheds per-ip floods in front of routing; the
	// per-endpoint window limits are registered by APIRoutes.
	FloodGuardMW func(http.Handler) http.Handler

	// APIRoutes registers the application's endpoints on the router.
	APIRoutes func(r chi.Router)

	// MaxBodyBytes caps request bodies. 0 means the default.
	MaxBodyBytes int64
}
