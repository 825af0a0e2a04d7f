package httpmw

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	t.Run("under limit", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("short"))
		h.ServeHTTP(httptest.NewRecorder(), r)
		if readErr != nil {
			t.Errorf("unexpected read error: %v", readErr)
		}
	})

	t.Run("over limit", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("definitely more than eight bytes"))
		h.ServeHTTP(httptest.NewRecorder(), r)
		var mbe *http.MaxBytesError
		if !errors.As(readErr, &mbe) {
			t.Errorf("read error = %v, want MaxBytesError", readErr)
		}
	})
}

func TestMaxBody_Disabled(t *testing.T) {
	var readErr error
	h := MaxBody(0)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 1<<16)))
	h.ServeHTTP(httptest.NewRecorder(), r)
	if readErr != nil {
		t.Errorf("unexpected read error: %v", readErr)
	}
}
