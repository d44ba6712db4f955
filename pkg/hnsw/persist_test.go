package hnsw

import (
	"bytes"
	"testing"

	"github.com/orneryd/vectordb/pkg/similarity"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	original := buildTestIndex(t)
	original.Remove(3)

	var buf bytes.Buffer
	if err := original.SaveTo(&buf); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadFrom(&buf)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.dimension != original.dimension {
		t.Fatalf("dimension mismatch: got %d, want %d", loaded.dimension, original.dimension)
	}
	if loaded.Len() != original.Len() {
		t.Fatalf("live count mismatch: got %d, want %d", loaded.Len(), original.Len())
	}
	if loaded.config.Metric != similarity.Cosine {
		t.Fatalf("expected cosine metric, got %v", loaded.config.Metric)
	}

	results, err := loaded.Search([]float32{1, 0, 0, 0}, 5, 0)
	if err != nil {
		t.Fatalf("search after load: %v", err)
	}
	for _, r := range results {
		if r.ID == 3 {
			t.Fatal("expected tombstoned id 3 to stay excluded after round trip")
		}
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBuffer(make([]byte, 16))
	if _, err := LoadFrom(buf); err == nil {
		t.Fatal("expected load of garbage bytes to fail")
	}
}
