package registry

import (
	"errors"
	"testing"

	"github.com/orneryd/vectordb/pkg/similarity"
)

func openTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open in-memory registry: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRegisterAndLookup(t *testing.T) {
	r := openTestRegistry(t)
	entry := Entry{Name: "products", Path: "/data/products.vlog", Dimension: 128, Metric: similarity.Cosine, CreatedAt: 1000}
	if err := r.Register(entry); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := r.Lookup("products")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Path != entry.Path || got.Dimension != entry.Dimension || got.Metric != entry.Metric {
		t.Fatalf("entry mismatch: got %+v, want %+v", got, entry)
	}
	if got.LastOpenedAt == 0 {
		t.Fatal("expected lookup to stamp LastOpenedAt")
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := openTestRegistry(t)
	entry := Entry{Name: "dup", Path: "/a", Dimension: 4, Metric: similarity.Cosine}
	if err := r.Register(entry); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(entry); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestLookupUnknownFails(t *testing.T) {
	r := openTestRegistry(t)
	if _, err := r.Lookup("ghost"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestListReturnsAllEntries(t *testing.T) {
	r := openTestRegistry(t)
	names := []string{"a", "b", "c"}
	for _, n := range names {
		if err := r.Register(Entry{Name: n, Path: "/" + n, Dimension: 8, Metric: similarity.Euclidean}); err != nil {
			t.Fatalf("register %s: %v", n, err)
		}
	}
	entries, err := r.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != len(names) {
		t.Fatalf("expected %d entries, got %d", len(names), len(entries))
	}
}

func TestForgetRemovesEntry(t *testing.T) {
	r := openTestRegistry(t)
	if err := r.Register(Entry{Name: "temp", Path: "/temp", Dimension: 4, Metric: similarity.Dot}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Forget("temp"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	if _, err := r.Lookup("temp"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected entry to be gone, got %v", err)
	}
}

func TestForgetUnknownFails(t *testing.T) {
	r := openTestRegistry(t)
	if err := r.Forget("ghost"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}
