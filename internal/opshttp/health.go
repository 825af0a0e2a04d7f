package opshttp

import (
	"net/http"

	"github.com/vulnboard/vulnboard/internal/probe"
)

// probeHandler serves 200 + body when the probe passes, 503 with the
// failure reason otherwise. A nil probe always passes.
func probeHandler(p probe.Probe, okBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			if err := p.Check(r.Context()); err != nil {
				http.Error(w, err.Error()+"\n", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(okBody))
	}
}

// HealthzHandler reports process liveness.
func HealthzHandler(p probe.Probe) http.HandlerFunc {
	return probeHandler(p, "ok\n")
}

// ReadyzHandler reports readiness to take traffic; the shutdown gate
// flips this to 503 during drain.
func ReadyzHandler(p probe.Probe) http.HandlerFunc {
	return probeHandler(p, "ready\n")
}
