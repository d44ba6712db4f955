package vlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/orneryd/vectordb/pkg/similarity"
)

func tempLogPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "vectors.vlog")
}

func TestCreateRejectsExistingFile(t *testing.T) {
	path := tempLogPath(t)
	l, err := Create(path, 4, similarity.Cosine)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	l.Close()

	if _, err := Create(path, 4, similarity.Cosine); err == nil {
		t.Fatal("expected second create at same path to fail")
	}
}

func TestInsertGetDelete(t *testing.T) {
	l, err := Create(tempLogPath(t), 3, similarity.Cosine)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer l.Close()

	id, err := l.Insert(0, []float32{1, 2, 3})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected auto id 1, got %d", id)
	}

	got, err := l.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("unexpected vector: %v", got)
	}

	if err := l.Delete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := l.Get(id); err == nil {
		t.Fatal("expected get after delete to fail")
	}
	if err := l.Delete(id); err == nil {
		t.Fatal("expected double delete to fail")
	}
}

func TestInsertRejectsDuplicateLiveID(t *testing.T) {
	l, err := Create(tempLogPath(t), 2, similarity.Cosine)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer l.Close()

	if _, err := l.Insert(7, []float32{1, 1}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := l.Insert(7, []float32{2, 2}); err == nil {
		t.Fatal("expected duplicate live id to be rejected")
	}
}

func TestDeleteThenReinsertSameID(t *testing.T) {
	l, err := Create(tempLogPath(t), 2, similarity.Cosine)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer l.Close()

	if _, err := l.Insert(7, []float32{1, 1}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := l.Delete(7); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := l.Insert(7, []float32{9, 9}); err != nil {
		t.Fatalf("reinsert after delete should succeed: %v", err)
	}
	got, err := l.Get(7)
	if err != nil {
		t.Fatalf("get after reinsert: %v", err)
	}
	if got[0] != 9 || got[1] != 9 {
		t.Fatalf("expected reinserted data, got %v", got)
	}
}

func TestInsertRejectsDimensionMismatch(t *testing.T) {
	l, err := Create(tempLogPath(t), 4, similarity.Cosine)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer l.Close()

	if _, err := l.Insert(0, []float32{1, 2}); err == nil {
		t.Fatal("expected dimension mismatch to be rejected")
	}
}

func TestCloseAndReopenRoundTrip(t *testing.T) {
	path := tempLogPath(t)
	l, err := Create(path, 4, similarity.Euclidean)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ids := [][]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}}
	for _, v := range ids {
		if _, err := l.Insert(0, v); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := l.Delete(2); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	var replayed []Record
	reopened, err := Open(path, func(r Record) { replayed = append(replayed, r) })
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.Dimension() != 4 || reopened.Metric() != similarity.Euclidean {
		t.Fatalf("header mismatch after reopen: dim=%d metric=%v", reopened.Dimension(), reopened.Metric())
	}
	if len(replayed) != 2 {
		t.Fatalf("expected 2 live records replayed, got %d", len(replayed))
	}
	if _, err := reopened.Get(2); err == nil {
		t.Fatal("expected deleted id to stay deleted across reopen")
	}
	if _, err := reopened.Get(1); err != nil {
		t.Fatalf("expected surviving id 1 to be readable: %v", err)
	}
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := tempLogPath(t)
	if err := os.WriteFile(path, make([]byte, fileHeaderSize), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	if _, err := Open(path, nil); err == nil {
		t.Fatal("expected open of zeroed header to fail")
	}
}

func TestScanVisitsOnlyLive(t *testing.T) {
	l, err := Create(tempLogPath(t), 2, similarity.Dot)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer l.Close()

	for i := 0; i < 5; i++ {
		if _, err := l.Insert(0, []float32{float32(i), float32(i)}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := l.Delete(3); err != nil {
		t.Fatalf("delete: %v", err)
	}

	count := 0
	if err := l.Scan(func(r Record) bool {
		count++
		return true
	}); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected 4 live records, got %d", count)
	}
}

func TestStatsReflectLiveCount(t *testing.T) {
	l, err := Create(tempLogPath(t), 2, similarity.Cosine)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer l.Close()

	l.Insert(0, []float32{1, 1})
	l.Insert(0, []float32{2, 2})
	l.Delete(1)

	s := l.Stats()
	if s.LiveCount != 1 {
		t.Fatalf("expected live count 1, got %d", s.LiveCount)
	}
	if s.NextID != 3 {
		t.Fatalf("expected next id 3, got %d", s.NextID)
	}
}
