package httpmw

import "net/http"

// Chain wraps h so the first middleware in mws is outermost. Nil
// entries are skipped, which lets callers build chains with optional
// middleware slots.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		h = mws[i](h)
	}
	return h
}
