package kio

import "testing"

func TestBudgetHeadroom(t *testing.T) {
	b := NewBudget(10, 4) // e.g. limit 10, 4 reserved (listener, eventfd, stdio...)
	if !b.HasHeadroom() {
		t.Fatalf("expected headroom with %d used of %d", b.Used(), b.Limit())
	}
	b.Acquire() // used = 7
	if !b.HasHeadroom() {
		t.Fatalf("expected headroom with %d used of %d", b.Used(), b.Limit())
	}
	b.Acquire() // used = 10
	if b.HasHeadroom() {
		t.Fatalf("expected no headroom with %d used of %d", b.Used(), b.Limit())
	}
	b.Release() // used = 7
	if !b.HasHeadroom() {
		t.Fatalf("expected headroom restored after release, used=%d limit=%d", b.Used(), b.Limit())
	}
}

func TestBudgetReleaseNeverNegative(t *testing.T) {
	b := NewBudget(10, 0)
	b.Release()
	if b.Used() != 0 {
		t.Fatalf("Used() = %d, want 0", b.Used())
	}
}
