package httpmw

import (
	"context"
	"net/http"
	"strings"
)

type principalKey struct{}

// WithPrincipal attaches an authenticated principal ID to the context.
func WithPrincipal(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, principalKey{}, userID)
}

// PrincipalFromContext returns the authenticated principal ID, or ""
// for anonymous requests.
func PrincipalFromContext(ctx context.Context) string {
	id, _ := ctx.Value(principalKey{}).(string)
	return id
}

// VerifyFunc maps a bearer token to a principal ID. Empty return means
// the token did not verify; the request proceeds as anonymous.
type VerifyFunc func(ctx context.Context, token string) string

// Principal resolves the authenticated user for a request. Token
// issuance and validation belong to the auth service; this middleware
// only extracts the bearer token and asks the injected verifier.
// Anonymous requests pass through untouched, so downstream key
// derivation falls back to the client IP.
func Principal(verify VerifyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verify != nil {
				if tok := bearerToken(r); tok != "" {
					if id := verify(r.Context(), tok); id != "" {
						r = r.WithContext(WithPrincipal(r.Context(), id))
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}
