package probe

import (
	"context"
	"testing"
)

func TestFixed(t *testing.T) {
	if err := Fixed(true, "").Check(context.Background()); err != nil {
		t.Fatalf("Fixed(true) should pass, got %v", err)
	}

	err := Fixed(false, "no backend").Check(context.Background())
	if err == nil || err.Error() != "no backend" {
		t.Fatalf("Fixed(false) = %v, want reason", err)
	}

	if err := Fixed(false, "").Check(context.Background()); err == nil || err.Error() != "unhealthy" {
		t.Fatalf("empty reason should default to unhealthy, got %v", err)
	}
}

func TestAll(t *testing.T) {
	ctx := context.Background()

	if err := All(Fixed(true, ""), nil, Fixed(true, "")).Check(ctx); err != nil {
		t.Fatalf("all passing probes should pass, got %v", err)
	}

	err := All(Fixed(true, ""), Fixed(false, "first"), Fixed(false, "second")).Check(ctx)
	if err == nil || err.Error() != "first" {
		t.Fatalf("All should return the first failure, got %v", err)
	}
}

func TestShutdownGate(t *testing.T) {
	var g ShutdownGate
	p := g.Probe()

	if err := p.Check(context.Background()); err != nil {
		t.Fatalf("open gate should pass, got %v", err)
	}

	g.Set("draining for deploy")
	if err := p.Check(context.Background()); err == nil || err.Error() != "draining for deploy" {
		t.Fatalf("closed gate = %v, want reason", err)
	}

	g.Clear()
	if err := p.Check(context.Background()); err != nil {
		t.Fatalf("cleared gate should pass again, got %v", err)
	}
}
