// Package apihttp exposes the vulnerability catalog over JSON, with
// the rate limiter and cache wired in front of every route.
package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vulnboard/vulnboard/internal/cache"
	"github.com/vulnboard/vulnboard/internal/catalog"
	"github.com/vulnboard/vulnboard/internal/httpmw"
	"github.com/vulnboard/vulnboard/internal/log"
	"github.com/vulnboard/vulnboard/internal/ratelimit"
	"github.com/vulnboard/vulnboard/internal/reqkey"
	"github.com/vulnboard/vulnboard/internal/xerrors"
)

// Cache TTLs per resource kind. Vulnerability records barely change;
// aggregates go stale fast.
const (
	vulnTTL      = 10 * time.Minute
	projVulnsTTL = time.Minute
	scanTTL      = 5 * time.Minute
	statsTTL     = 30 * time.Second
	bookmarksTTL = 5 * time.Minute
)

// API implements the catalog endpoints.
type API struct {
	catalog *catalog.Store
	cache   cache.Interface
	limiter ratelimit.Checker
	logger  log.Logger

	// OnRateLimited, when set, observes every denied request with the
	// logical endpoint id that denied it.
	OnRateLimited func(endpoint string)
}

// NewAPI creates the handler set. A nil cache or limiter disables that
// layer, which tests use to exercise handlers in isolation.
func NewAPI(cat *catalog.Store, c cache.Interface, lim ratelimit.Checker, logger log.Logger) *API {
	if logger == nil {
		logger = log.Nop()
	}
	return &API{
		catalog: cat,
		cache:   c,
		limiter: lim,
		logger:  logger,
	}
}

// RegisterRoutes attaches catalog endpoints to the router. Each route
// gets the admission policy for its logical endpoint id; ids without a
// specific policy share the default budget.
func (api *API) RegisterRoutes(r chi.Router) {
	limit := func(endpoint string) func(http.Handler) http.Handler {
		if api.limiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		cfg := ratelimit.ConfigFor(endpoint)
		if api.OnRateLimited != nil {
			cfg.OnDenied = func() { api.OnRateLimited(endpoint) }
		}
		return ratelimit.Middleware(api.limiter, cfg)
	}

	r.With(limit("vulns:read")).Get("/api/vulns/{cveID}", api.HandleVuln)
	r.With(limit("projects:read")).Get("/api/projects/{projectID}/vulns", api.HandleProjectVulns)
	r.With(limit("scans:ingest")).Post("/api/scans", api.HandleSubmitScan)
	r.With(limit("scans:read")).Get("/api/scans/{scanID}", api.HandleScan)
	r.With(limit("orgs:read")).Get("/api/orgs/{orgID}/stats", api.HandleOrgStats)
	r.With(limit("bookmarks:read")).Get("/api/users/me/bookmarks", api.HandleBookmarks)
	r.With(limit("bookmarks:write")).Put("/api/users/me/bookmarks", api.HandleSetBookmarks)
}

// cached runs fetch through the cache when one is configured.
func (api *API) cached(key string, ttl time.Duration, fetch func() (any, error)) (any, error) {
	if api.cache == nil {
		return fetch()
	}
	return api.cache.GetOrSet(key, fetch, ttl)
}

// invalidate drops cached views by prefix after a mutation.
func (api *API) invalidate(ctx context.Context, prefixes ...string) {
	if api.cache == nil {
		return
	}
	for _, p := range prefixes {
		if n := api.cache.DeleteByPrefix(p); n > 0 {
			api.logger.Debug(ctx, "invalidated cache entries", "prefix", p, "count", n)
		}
	}
}

func (api *API) HandleVuln(w http.ResponseWriter, r *http.Request) {
	cveID := chi.URLParam(r, "cveID")

	v, err := api.cached(reqkey.Vuln(cveID), vulnTTL, func() (any, error) {
		return api.catalog.VulnByID(cveID)
	})
	if err != nil {
		api.writeError(r.Context(), w, err)
		return
	}
	api.writeJSON(r.Context(), w, http.StatusOK, v)
}

func (api *API) HandleProjectVulns(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	v, err := api.cached(reqkey.ProjectVulns(projectID), projVulnsTTL, func() (any, error) {
		return api.catalog.ProjectVulns(projectID)
	})
	if err != nil {
		api.writeError(r.Context(), w, err)
		return
	}

	// severity filter applies after the cache so every filtered view
	// shares the one cached list per project
	if sev := strings.ToLower(r.URL.Query().Get("severity")); sev != "" {
		list, ok := vulnList(v)
		if !ok {
			api.writeError(r.Context(), w, xerrors.Newf("unexpected cached shape for project %s vulns", projectID))
			return
		}
		filtered := make([]catalog.Vulnerability, 0, len(list))
		for _, vuln := range list {
			if strings.ToLower(vuln.Severity) == sev {
				filtered = append(filtered, vuln)
			}
		}
		v = filtered
	}
	api.writeJSON(r.Context(), w, http.StatusOK, v)
}

// vulnList normalizes a cached value back to the concrete slice. The
// redis store returns the generic JSON-decoded form, so anything not
// already typed is re-unmarshalled through JSON.
func vulnList(v any) ([]catalog.Vulnerability, bool) {
	if list, ok := v.([]catalog.Vulnerability); ok {
		return list, true
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var list []catalog.Vulnerability
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, false
	}
	return list, true
}

type submitScanRequest struct {
	ProjectID string   `json:"projectId"`
	Findings  []string `json:"findings"`
}

func (api *API) HandleSubmitScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req submitScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if req.ProjectID == "" {
		api.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "projectId is required"})
		return
	}

	scan, err := api.catalog.SubmitScan(req.ProjectID, req.Findings)
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}

	// new findings make every cached view of this project stale
	api.invalidate(ctx, reqkey.ProjectPrefix(req.ProjectID), reqkey.Prefix("org"))
	if api.cache != nil {
		api.cache.Set(reqkey.Scan(scan.ID), scan, scanTTL)
	}

	api.logger.Info(ctx, "scan ingested",
		"scan_id", scan.ID,
		"project_id", scan.ProjectID,
		"findings", len(scan.Findings),
	)
	api.writeJSON(ctx, w, http.StatusCreated, scan)
}

func (api *API) HandleScan(w http.ResponseWriter, r *http.Request) {
	scanID := chi.URLParam(r, "scanID")

	v, err := api.cached(reqkey.Scan(scanID), scanTTL, func() (any, error) {
		return api.catalog.ScanByID(scanID)
	})
	if err != nil {
		api.writeError(r.Context(), w, err)
		return
	}
	api.writeJSON(r.Context(), w, http.StatusOK, v)
}

func (api *API) HandleOrgStats(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	v, err := api.cached(reqkey.OrgStats(orgID), statsTTL, func() (any, error) {
		return api.catalog.Stats(orgID)
	})
	if err != nil {
		api.writeError(r.Context(), w, err)
		return
	}
	api.writeJSON(r.Context(), w, http.StatusOK, v)
}

func (api *API) HandleBookmarks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := httpmw.PrincipalFromContext(ctx)
	if userID == "" {
		api.writeJSON(ctx, w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return
	}

	v, err := api.cached(reqkey.UserBookmarks(userID), bookmarksTTL, func() (any, error) {
		return api.catalog.Bookmarks(userID), nil
	})
	if err != nil {
		api.writeError(ctx, w, err)
		return
	}
	api.writeJSON(ctx, w, http.StatusOK, v)
}

type setBookmarksRequest struct {
	CVEIDs []string `json:"cveIds"`
}

func (api *API) HandleSetBookmarks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := httpmw.PrincipalFromContext(ctx)
	if userID == "" {
		api.writeJSON(ctx, w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return
	}

	var req setBookmarksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}

	if err := api.catalog.SetBookmarks(userID, req.CVEIDs); err != nil {
		api.writeError(ctx, w, err)
		return
	}

	api.invalidate(ctx, reqkey.UserPrefix(userID))
	api.writeJSON(ctx, w, http.StatusOK, map[string]any{"cveIds": req.CVEIDs})
}

func (api *API) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		api.writeJSON(ctx, w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	api.logger.Error(ctx, err, "request failed")
	api.writeJSON(ctx, w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
