package ratelimit

import "testing"

func TestRegistry_AllowsWithinBurst(t *testing.T) {
	reg := NewRegistry(1, 3)
	for i := 0; i < 3; i++ {
		if !reg.Allow("agent-1") {
			t.Fatalf("request %d: expected allowed within burst", i)
		}
	}
}

func TestRegistry_DeniesOverBurst(t *testing.T) {
	reg := NewRegistry(0.001, 1)
	if !reg.Allow("agent-1") {
		t.Fatal("first request should be allowed")
	}
	if reg.Allow("agent-1") {
		t.Fatal("second immediate request should be denied")
	}
}

func TestRegistry_KeysAreIndependent(t *testing.T) {
	reg := NewRegistry(0.001, 1)
	if !reg.Allow("agent-1") {
		t.Fatal("agent-1 first request should be allowed")
	}
	if !reg.Allow("agent-2") {
		t.Fatal("agent-2 should have its own bucket")
	}
	if reg.Count() != 2 {
		t.Fatalf("expected 2 tracked keys, got %d", reg.Count())
	}
}
