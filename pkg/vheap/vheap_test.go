package vheap

import "testing"

func TestMaxHeapOrdering(t *testing.T) {
	h := NewMax(0)
	for _, s := range []float64{0.5, 0.9, 0.1, 0.7} {
		h.Push(Item{Score: s})
	}
	prev := h.Pop().Score
	if prev != 0.9 {
		t.Fatalf("expected top 0.9, got %f", prev)
	}
	for h.Len() > 0 {
		cur := h.Pop().Score
		if cur > prev {
			t.Fatalf("max-heap popped out of order: %f after %f", cur, prev)
		}
		prev = cur
	}
}

func TestMinHeapOrdering(t *testing.T) {
	h := NewMin(0)
	for _, s := range []float64{0.5, 0.9, 0.1, 0.7} {
		h.Push(Item{Score: s})
	}
	prev := h.Pop().Score
	if prev != 0.1 {
		t.Fatalf("expected top 0.1, got %f", prev)
	}
	for h.Len() > 0 {
		cur := h.Pop().Score
		if cur < prev {
			t.Fatalf("min-heap popped out of order: %f after %f", cur, prev)
		}
		prev = cur
	}
}

func TestBoundedPushFails(t *testing.T) {
	h := NewMax(2)
	if !h.Push(Item{Score: 1}) || !h.Push(Item{Score: 2}) {
		t.Fatal("expected first two pushes to succeed")
	}
	if h.Push(Item{Score: 3}) {
		t.Fatal("expected push at capacity to fail")
	}
	if !h.Full() {
		t.Fatal("expected heap to report full")
	}
}

func TestEmptyAndPeek(t *testing.T) {
	h := NewMin(4)
	if !h.Empty() {
		t.Fatal("expected new heap to be empty")
	}
	h.Push(Item{Index: 7, Score: 3.0})
	if h.Empty() {
		t.Fatal("expected non-empty after push")
	}
	if h.Peek().Index != 7 {
		t.Fatalf("expected peek index 7, got %d", h.Peek().Index)
	}
}
