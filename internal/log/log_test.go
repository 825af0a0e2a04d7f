package log_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/vulnboard/vulnboard/internal/log"
	"github.com/vulnboard/vulnboard/internal/xerrors"
)

func newTestLogger(t *testing.T, lvl slog.Level) (log.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l, err := log.New(log.Options{
		App:        "test",
		Level:      lvl,
		JSONFormat: true,
		Writer:     &buf,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l, &buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var out map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &out); err != nil {
		t.Fatalf("parsing log line %q: %v", lines[len(lines)-1], err)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{" warn ", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"verbose", 0, false},
		{"", 0, false},
	}
	for _, c := range cases {
		got, err := log.ParseLevel(c.in)
		if c.ok && (err != nil || got != c.want) {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", c.in, got, err, c.want)
		}
		if !c.ok && err == nil {
			t.Errorf("ParseLevel(%q) should fail", c.in)
		}
	}
}

func TestInfo_EmitsAppAndFields(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelInfo)

	l.Info(context.Background(), "cache sweep", "removed", 3)

	rec := lastLine(t, buf)
	if rec["msg"] != "cache sweep" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["app"] != "test" {
		t.Errorf("app = %v", rec["app"])
	}
	if rec["removed"] != float64(3) {
		t.Errorf("removed = %v", rec["removed"])
	}
}

func TestLevelFiltering(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelWarn)

	l.Debug(context.Background(), "hidden")
	l.Info(context.Background(), "also hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}

	l.Warn(context.Background(), "visible")
	if buf.Len() == 0 {
		t.Fatal("expected warn to be emitted")
	}
}

func TestWith_DoesNotMutateParent(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelInfo)

	child := l.With("component", "limiter")
	child.Info(context.Background(), "from child")
	if rec := lastLine(t, buf); rec["component"] != "limiter" {
		t.Errorf("child missing component attr: %v", rec)
	}

	buf.Reset()
	l.Info(context.Background(), "from parent")
	if rec := lastLine(t, buf); rec["component"] != nil {
		t.Errorf("parent should not have child attrs: %v", rec)
	}
}

func TestError_IncludesChainAndStack(t *testing.T) {
	l, buf := newTestLogger(t, slog.LevelInfo)

	cause := xerrors.New("connection refused")
	err := xerrors.Wrap(cause, "loading project vulns")

	l.Error(context.Background(), err, "factory failed")

	rec := lastLine(t, buf)
	if rec["err"] != "loading project vulns: connection refused" {
		t.Errorf("err = %v", rec["err"])
	}
	chain, ok := rec["error_chain"].([]any)
	if !ok || len(chain) != 2 {
		t.Fatalf("error_chain = %v", rec["error_chain"])
	}
	stack, _ := rec["stack"].(string)
	if !strings.Contains(stack, "TestError_IncludesChainAndStack") {
		t.Errorf("stack should include the error origin, got %q", stack)
	}
}

func TestFromContext_FallsBackToNop(t *testing.T) {
	l := log.FromContext(context.Background())
	if l == nil {
		t.Fatal("FromContext should never return nil")
	}
	// must not panic
	l.Info(context.Background(), "ignored")
	l.Error(context.Background(), nil, "ignored")
}

func TestWithContext_RoundTrip(t *testing.T) {
	l, _ := newTestLogger(t, slog.LevelInfo)
	ctx := log.WithContext(context.Background(), l)
	if got := log.FromContext(ctx); got != l {
		t.Fatal("FromContext should return the stored logger")
	}
}
