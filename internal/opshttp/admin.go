package opshttp

import (
	"encoding/json"
	"net/http"

	"github.com/vulnboard/vulnboard/internal/cache"
	"github.com/vulnboard/vulnboard/internal/ratelimit"
)

// registerAdmin mounts operational introspection and reset endpoints.
// These live on the admin listener only; nothing here is reachable
// from the public port.
func registerAdmin(mux *http.ServeMux, lim *ratelimit.Limiter, c cache.Interface) {
	if lim != nil {
		mux.HandleFunc("/-/ratelimit/status", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			key := r.URL.Query().Get("key")
			if key == "" {
				http.Error(w, "key query parameter required", http.StatusBadRequest)
				return
			}
			e, ok := lim.Status(key)
			if !ok {
				http.Error(w, "no live window for key", http.StatusNotFound)
				return
			}
			writeJSON(w, e)
		})

		mux.HandleFunc("/-/ratelimit/entries", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodDelete {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			if key := r.URL.Query().Get("key"); key != "" {
				lim.Clear(key)
			} else {
				lim.ClearAll()
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}

	if c != nil {
		mux.HandleFunc("/-/cache/stats", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			writeJSON(w, c.Stats())
		})

		mux.HandleFunc("/-/cache/entries", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodDelete {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			if prefix := r.URL.Query().Get("prefix"); prefix != "" {
				writeJSON(w, map[string]int{"deleted": c.DeleteByPrefix(prefix)})
				return
			}
			c.Clear()
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}
