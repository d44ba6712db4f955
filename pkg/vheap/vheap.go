// Package vheap provides a bounded, array-backed binary heap over
// (node-index, score) pairs, used by the HNSW index for both the
// best-so-far result set and the expansion frontier of a beam search.
// Since scores are higher-is-better, the index uses an unbounded max-heap
// for both and trims the best-so-far set to ef itself.
//
// Ties are left to container/heap's sift, which is deterministic within a
// single process execution but follows no stated rule (not insertion
// order) — callers that need reproducible tie-breaking (spec: ascending id)
// must re-sort the drained results themselves.
package vheap

import "container/heap"

// Item is a single (node index, score) entry.
type Item struct {
	Index int
	Score float64
}

// Heap is a fixed-capacity binary heap. Max orders by highest score on top;
// otherwise it orders by lowest score on top (min-heap).
type Heap struct {
	items    []Item
	capacity int
	max      bool
}

// NewMax returns a bounded max-heap (highest score on top), used to hold
// the current best-so-far candidate set during a beam search.
func NewMax(capacity int) *Heap {
	return &Heap{capacity: capacity, max: true}
}

// NewMin returns a bounded min-heap (lowest score on top). The HNSW index
// does not use it; its frontier is a max-heap.
func NewMin(capacity int) *Heap {
	return &Heap{capacity: capacity, max: false}
}

// Len returns the number of items currently held.
func (h *Heap) Len() int { return len(h.items) }

// Empty reports whether the heap holds no items.
func (h *Heap) Empty() bool { return len(h.items) == 0 }

// Full reports whether the heap is at capacity. A capacity of 0 means
// unbounded.
func (h *Heap) Full() bool { return h.capacity > 0 && len(h.items) >= h.capacity }

// Peek returns the top item without removing it. Panics if empty.
func (h *Heap) Peek() Item { return h.items[0] }

// Push inserts an item. Returns false if the heap is already at capacity
// (the caller is expected to check Full/compare against Peek first when
// doing bounded insertion — Push itself never evicts).
func (h *Heap) Push(it Item) bool {
	if h.Full() {
		return false
	}
	heap.Push((*ordering)(h), it)
	return true
}

// Pop removes and returns the top item. Panics if empty.
func (h *Heap) Pop() Item {
	return heap.Pop((*ordering)(h)).(Item)
}

// Drain pops every item and returns them in the order heap.Pop yields
// them: highest score first for a max-heap, lowest score first for a
// min-heap. Ties among equal scores are not ordered; callers that need a
// tie-break re-sort as needed.
func (h *Heap) Drain() []Item {
	out := make([]Item, 0, h.Len())
	for !h.Empty() {
		out = append(out, h.Pop())
	}
	return out
}

// ordering adapts Heap to container/heap.Interface.
type ordering Heap

func (o *ordering) Len() int { return len(o.items) }

func (o *ordering) Less(i, j int) bool {
	if o.max {
		return o.items[i].Score > o.items[j].Score
	}
	return o.items[i].Score < o.items[j].Score
}

func (o *ordering) Swap(i, j int) { o.items[i], o.items[j] = o.items[j], o.items[i] }

func (o *ordering) Push(x any) { o.items = append(o.items, x.(Item)) }

func (o *ordering) Pop() any {
	old := o.items
	n := len(old)
	x := old[n-1]
	o.items = old[:n-1]
	return x
}
