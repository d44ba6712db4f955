package vlog

import "testing"

func TestKeyIndexPutGet(t *testing.T) {
	k := newKeyIndex()
	k.put(42, 128, 4, 1000)
	e := k.get(42)
	if e == nil || e.offset != 128 || e.dimension != 4 {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if k.liveCount() != 1 {
		t.Fatalf("expected live count 1, got %d", k.liveCount())
	}
}

func TestKeyIndexTombstoneAndReinsert(t *testing.T) {
	k := newKeyIndex()
	k.put(1, 64, 4, 10)
	if !k.tombstone(1) {
		t.Fatal("expected tombstone to succeed")
	}
	if k.liveCount() != 0 {
		t.Fatalf("expected live count 0 after tombstone, got %d", k.liveCount())
	}
	if e := k.get(1); e == nil || !e.tombstoned {
		t.Fatal("expected tombstoned entry to remain retrievable")
	}
	// Reinsert at a new offset: same id, fresh record.
	k.put(1, 256, 4, 20)
	if k.liveCount() != 1 {
		t.Fatalf("expected live count 1 after reinsert, got %d", k.liveCount())
	}
	e := k.get(1)
	if e.tombstoned || e.offset != 256 {
		t.Fatalf("expected fresh live entry at 256, got %+v", e)
	}
}

func TestKeyIndexTombstoneUnknownFails(t *testing.T) {
	k := newKeyIndex()
	if k.tombstone(99) {
		t.Fatal("expected tombstone of unknown id to fail")
	}
}

func TestKeyIndexCollisionChaining(t *testing.T) {
	k := newKeyIndex()
	a, b := uint64(1), uint64(1+tableSize)
	k.put(a, 0, 4, 1)
	k.put(b, 100, 4, 2)
	if k.get(a) == nil || k.get(b) == nil {
		t.Fatal("expected both colliding ids to be retrievable")
	}
	if k.get(a).offset != 0 || k.get(b).offset != 100 {
		t.Fatal("collision chain returned wrong entry")
	}
}

func TestKeyIndexEachSkipsTombstoned(t *testing.T) {
	k := newKeyIndex()
	k.put(1, 0, 4, 1)
	k.put(2, 32, 4, 2)
	k.tombstone(1)
	seen := map[uint64]bool{}
	k.each(func(id uint64, offset int64) bool {
		seen[id] = true
		return true
	})
	if seen[1] || !seen[2] {
		t.Fatalf("expected only live id 2, got %+v", seen)
	}
}
