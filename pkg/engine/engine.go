// Package engine is the façade spec.md §4.5 describes: it owns the
// configuration record, the vector log, the key index (inside vlog), and
// the HNSW index, enforces the two-latch locking discipline of spec.md
// §5, and exposes Create/Open/Close/Drop/Insert/Get/Delete/Search/Stats.
// Like the teacher's pkg/nornicdb.DB, it is the single composition point
// that ties leaf packages together; unlike the teacher's DB it holds no
// query planner or graph engine, only the log and the HNSW index.
package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/orneryd/vectordb/pkg/atrest"
	"github.com/orneryd/vectordb/pkg/config"
	"github.com/orneryd/vectordb/pkg/fsutil"
	"github.com/orneryd/vectordb/pkg/hnsw"
	"github.com/orneryd/vectordb/pkg/similarity"
	"github.com/orneryd/vectordb/pkg/vblog"
	"github.com/orneryd/vectordb/pkg/vlog"
)

// Stats is the point-in-time snapshot spec.md §4.5 requires: live-count,
// on-disk size, declared dimension and metric, path.
type Stats struct {
	LiveCount int64
	SizeBytes int64
	Dimension uint32
	Metric    similarity.Metric
	Path      string
	HNSWStale bool
}

// Engine is a single open vector store. It is safe for concurrent use by
// multiple goroutines; neither pkg/vlog.Log nor pkg/hnsw.Index lock
// themselves, so every latch lives here.
type Engine struct {
	cfg    *config.Config
	logger vblog.Logger

	log   *vlog.Log
	index *hnsw.Index

	mutationMu sync.Mutex   // serializes Insert/Delete/Close
	searchMu   sync.RWMutex // shared for Search, exclusive for HNSW-mutating writes

	closed    bool
	hnswStale bool // set by the warn-and-continue posture of spec.md §7
}

// Create validates cfg and makes a brand new store at cfg.Path. It fails
// if the file already exists, per spec.md §4.5/§4.4.
func Create(cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newError(CodeInvalidArgs, "%v", err)
	}
	if fsutil.Exists(cfg.Path) {
		return nil, newError(CodeInvalidArgs, "store already exists at %s", cfg.Path)
	}
	if err := fsutil.EnsureDir(filepath.Dir(cfg.Path)); err != nil {
		return nil, newError(CodeFileIO, "%v", err)
	}

	l, err := vlog.Create(cfg.Path, uint32(cfg.Dimension), cfg.ParsedMetric())
	if err != nil {
		return nil, newError(CodeFileIO, "%v", err)
	}
	if err := applyCodec(l, cfg); err != nil {
		l.Drop()
		return nil, newError(CodeInvalidArgs, "%v", err)
	}

	idx := hnsw.NewIndex(cfg.Dimension, hnswConfigFrom(cfg))
	return &Engine{cfg: cfg, logger: newLogger(cfg), log: l, index: idx}, nil
}

// Open reopens an existing store at cfg.Path, rebuilding the HNSW index
// from every live record per spec.md §2's "rebuild-on-open" contract.
func Open(cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newError(CodeInvalidArgs, "%v", err)
	}
	if !fsutil.Exists(cfg.Path) {
		return nil, newError(CodeDBNotFound, "no store at %s", cfg.Path)
	}

	logger := newLogger(cfg)
	idx := hnsw.NewIndex(cfg.Dimension, hnswConfigFrom(cfg))

	l, err := vlog.Open(cfg.Path, func(rec vlog.Record) {
		if err := idx.Add(rec.ID, rec.Vector); err != nil {
			logger.Warn("hnsw rebuild: failed to add vector", vblog.F("id", rec.ID), vblog.F("err", err))
		}
	})
	if err != nil {
		if errors.Is(err, vlog.ErrCorrupt) {
			return nil, newError(CodeDBCorrupt, "%v", err)
		}
		return nil, newError(CodeFileIO, "%v", err)
	}
	if err := applyCodec(l, cfg); err != nil {
		l.Close()
		return nil, newError(CodeInvalidArgs, "%v", err)
	}

	return &Engine{cfg: cfg, logger: logger, log: l, index: idx}, nil
}

func applyCodec(l *vlog.Log, cfg *config.Config) error {
	if !cfg.Encryption.Enabled {
		return nil
	}
	if cfg.Encryption.Passphrase == "" {
		return fmt.Errorf("encryption enabled but no passphrase configured")
	}
	salt := []byte(cfg.Name) // deterministic per-store salt; the passphrase carries the real entropy
	codec, err := atrest.New(cfg.Encryption.Passphrase, salt, cfg.Encryption.KeyRotationID)
	if err != nil {
		return err
	}
	l.SetCodec(codec)
	return nil
}

func hnswConfigFrom(cfg *config.Config) hnsw.Config {
	c := hnsw.DefaultConfig(cfg.ParsedMetric())
	if cfg.HNSW.M > 0 {
		c.M = cfg.HNSW.M
		c.MMax0 = 2 * cfg.HNSW.M
	}
	if cfg.HNSW.EfConstruction > 0 {
		c.EfConstruction = cfg.HNSW.EfConstruction
	}
	if cfg.HNSW.EfSearch > 0 {
		c.EfSearch = cfg.HNSW.EfSearch
	}
	return c
}

func newLogger(cfg *config.Config) vblog.Logger {
	return vblog.New(loggerOutput(cfg), cfg.LogLevel())
}

// loggerOutput resolves cfg.Logging.Output ("", "stdout", "stderr",
// "discard", or a file path) to an io.Writer. A file that cannot be
// opened falls back to stderr rather than failing store setup over a
// logging misconfiguration.
func loggerOutput(cfg *config.Config) io.Writer {
	switch cfg.Logging.Output {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	case "discard":
		return io.Discard
	default:
		f, err := os.OpenFile(cfg.Logging.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return os.Stderr
		}
		return f
	}
}

// Insert appends vector under id (or an auto-assigned id if id is 0),
// then updates the HNSW index. An HNSW failure is a warn-and-continue:
// the log write stands, and the index is flagged stale.
//
// Per spec.md §5, a writer that touches the key index or the HNSW graph
// holds searchMu exclusively for its whole body, not just the HNSW call:
// vlog.Insert mutates the key index's bucket chains (keyindex.go's put),
// and a reader (Get, or Search's brute-force fallback) walks those same
// chains under searchMu's read side. Narrowing the exclusive section to
// just index.Add left the key-index mutation unsynchronized against
// concurrent readers.
func (e *Engine) Insert(id uint64, vector []float32) (uint64, error) {
	e.mutationMu.Lock()
	defer e.mutationMu.Unlock()
	if e.closed {
		return 0, newError(CodeInvalidArgs, "store is closed")
	}

	e.searchMu.Lock()
	defer e.searchMu.Unlock()

	gotID, err := e.log.Insert(id, vector)
	if err != nil {
		switch {
		case errors.Is(err, vlog.ErrDimensionMismatch):
			return 0, newError(CodeDimensionMismatch, "%v", err)
		case errors.Is(err, vlog.ErrAlreadyExists):
			return 0, newError(CodeInvalidArgs, "%v", err)
		default:
			return 0, newError(CodeInvalidArgs, "%v", err)
		}
	}

	if addErr := e.index.Add(gotID, vector); addErr != nil {
		e.logger.Warn("hnsw add failed, index flagged stale", vblog.F("id", gotID), vblog.F("err", addErr))
		e.hnswStale = true
	}
	return gotID, nil
}

// Get returns the live vector stored under id. It takes searchMu's read
// side because vlog.Get walks the same key-index bucket chains that a
// concurrent writer's log.Insert/log.Delete mutates.
func (e *Engine) Get(id uint64) ([]float32, error) {
	e.searchMu.RLock()
	defer e.searchMu.RUnlock()

	vec, err := e.log.Get(id)
	if err != nil {
		return nil, newError(CodeVectorNotFound, "%v", err)
	}
	return vec, nil
}

// Delete tombstones id in the log and removes its HNSW node. An HNSW
// removal failure is warn-and-continue, matching Insert. Holds searchMu
// exclusively across both steps for the same reason Insert does.
func (e *Engine) Delete(id uint64) error {
	e.mutationMu.Lock()
	defer e.mutationMu.Unlock()
	if e.closed {
		return newError(CodeInvalidArgs, "store is closed")
	}

	e.searchMu.Lock()
	defer e.searchMu.Unlock()

	if err := e.log.Delete(id); err != nil {
		return newError(CodeVectorNotFound, "%v", err)
	}

	if removeErr := e.index.Remove(id); removeErr != nil {
		e.logger.Warn("hnsw remove failed, index flagged stale", vblog.F("id", id), vblog.F("err", removeErr))
		e.hnswStale = true
	}
	return nil
}

// Result is a single search hit.
type Result struct {
	ID    uint64
	Score float64
}

// Search answers a top-k query. It tries HNSW first with ef=2k; if HNSW
// errors or returns nothing on a non-empty store, it falls back to an
// O(live-count) brute-force scan, per spec.md §4.4/§9.
func (e *Engine) Search(query []float32, k int, minSimilarity float64) ([]Result, error) {
	if k <= 0 {
		return nil, newError(CodeInvalidArgs, "k must be positive")
	}
	if uint32(len(query)) != e.log.Dimension() {
		return nil, newError(CodeDimensionMismatch, "query dimension %d, want %d", len(query), e.log.Dimension())
	}

	e.searchMu.RLock()
	defer e.searchMu.RUnlock()

	if e.log.Stats().LiveCount == 0 {
		return []Result{}, nil
	}

	ef := 2 * k
	hits, err := e.index.Search(query, k, ef)
	if err != nil || len(hits) == 0 {
		if err != nil {
			e.logger.Warn("hnsw search failed, falling back to brute force", vblog.F("err", err))
		}
		hits, err = e.bruteForce(query, k)
		if err != nil {
			return nil, newError(CodeFileIO, "%v", err)
		}
	}

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		if minSimilarity != 0 && h.Score < minSimilarity {
			continue
		}
		out = append(out, Result{ID: h.ID, Score: h.Score})
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (e *Engine) bruteForce(query []float32, k int) ([]hnsw.Result, error) {
	var candidates []hnsw.Result
	metric := e.log.Metric()
	if err := e.log.Scan(func(rec vlog.Record) bool {
		candidates = append(candidates, hnsw.Result{ID: rec.ID, Score: similarity.Score(metric, query, rec.Vector)})
		return true
	}); err != nil {
		return nil, err
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ID < candidates[j].ID
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// Stats reports the store's current bookkeeping, matching spec.md §4.5.
func (e *Engine) Stats() (Stats, error) {
	size, err := fsutil.Size(e.cfg.Path)
	if err != nil {
		return Stats{}, newError(CodeFileIO, "%v", err)
	}
	ls := e.log.Stats()
	return Stats{
		LiveCount: ls.LiveCount,
		SizeBytes: size,
		Dimension: ls.Dimension,
		Metric:    ls.Metric,
		Path:      ls.Path,
		HNSWStale: e.hnswStale,
	}, nil
}

// Repair clears the HNSW integrity flag (if set) and the engine's own
// staleness flag by rebuilding the HNSW index from the log from scratch.
// This is the "subsequent repair or reopen" spec.md §4.4 refers to.
func (e *Engine) Repair() error {
	e.mutationMu.Lock()
	defer e.mutationMu.Unlock()
	if e.closed {
		return newError(CodeInvalidArgs, "store is closed")
	}

	idx := hnsw.NewIndex(e.cfg.Dimension, hnswConfigFrom(e.cfg))
	if err := e.log.Scan(func(rec vlog.Record) bool {
		if err := idx.Add(rec.ID, rec.Vector); err != nil {
			e.logger.Warn("repair: failed to add vector", vblog.F("id", rec.ID), vblog.F("err", err))
		}
		return true
	}); err != nil {
		return newError(CodeFileIO, "%v", err)
	}

	e.searchMu.Lock()
	e.index = idx
	e.hnswStale = false
	e.searchMu.Unlock()
	return nil
}

// Close flushes the log header and releases the underlying file. A
// second Close is a no-op error, per spec.md §8.
func (e *Engine) Close() error {
	e.mutationMu.Lock()
	defer e.mutationMu.Unlock()
	if e.closed {
		return newError(CodeInvalidArgs, "store already closed")
	}
	e.closed = true
	if err := e.log.Close(); err != nil {
		return newError(CodeFileIO, "%v", err)
	}
	return nil
}

// Drop removes the store's file from disk. Calling Drop twice returns
// file-io on the second call, per spec.md §8.
func (e *Engine) Drop() error {
	e.mutationMu.Lock()
	defer e.mutationMu.Unlock()
	if e.closed {
		return newError(CodeFileIO, "store already closed/dropped")
	}
	e.closed = true
	if err := e.log.Drop(); err != nil {
		return newError(CodeFileIO, "%v", err)
	}
	return nil
}
