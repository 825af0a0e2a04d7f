package httpmw

import (
	"net/http"
	"runtime/debug"

	"github.com/vulnboard/vulnboard/internal/log"
	"github.com/vulnboard/vulnboard/internal/xerrors"
)

// Recover turns handler panics into 500 responses. The panic is logged
// with its stack; onPanic (if set) is called for metrics/alerting.
// http.ErrAbortHandler is re-raised so the server's own abort path
// still works.
func Recover(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if L == nil {
		L = log.Nop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				if onPanic != nil {
					onPanic()
				}

				err, ok := rec.(error)
				if !ok {
					err = xerrors.Newf("panic: %v", rec)
				}
				L.Error(r.Context(), err, "panic serving request",
					"url.path", r.URL.Path,
					"panic_stack", string(debug.Stack()),
				)

				// headers may already be gone; best effort
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("internal server error\n"))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
