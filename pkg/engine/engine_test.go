package engine

import (
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/vectordb/pkg/config"
)

func testConfig(t *testing.T, dimension int, metric string) *config.Config {
	t.Helper()
	return &config.Config{
		Name:      "test",
		Path:      filepath.Join(t.TempDir(), "store.vlog"),
		Dimension: dimension,
		Metric:    metric,
	}
}

func unit(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

// scenario 1 and 2 of spec.md §8: dim=4 cosine store, ids 1-4, ranked
// search, then a post-delete re-search.
func TestSearchRankingAndPostDeleteScenario(t *testing.T) {
	cfg := testConfig(t, 4, "cosine")
	e, err := Create(cfg)
	require.NoError(t, err)
	defer e.Close()

	vectors := map[uint64][]float32{
		1: {1, 0, 0, 0},
		2: {0, 1, 0, 0},
		3: {0, 0, 1, 0},
		4: {0.9, 0.1, 0, 0},
	}
	for id, v := range vectors {
		got, err := e.Insert(id, v)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}

	results, err := e.Search([]float32{1, 0, 0, 0}, 3, 0)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, uint64(1), results[0].ID)
	assert.Equal(t, uint64(4), results[1].ID)
	assert.Contains(t, []uint64{2, 3}, results[2].ID)

	require.NoError(t, e.Delete(1))
	results, err = e.Search([]float32{1, 0, 0, 0}, 3, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, uint64(4), results[0].ID)
}

// scenario 3 of spec.md §8: dim=128, 1000 vectors, exact self-match.
func TestExactMatchAtScale(t *testing.T) {
	cfg := testConfig(t, 128, "cosine")
	e, err := Create(cfg)
	require.NoError(t, err)
	defer e.Close()

	const n = 1000
	for i := 0; i < n; i++ {
		v := make([]float32, 128)
		for j := 0; j < 128; j++ {
			v[j] = float32(i*128+j) / 1000
		}
		_, err := e.Insert(uint64(i+1), v)
		require.NoError(t, err)
	}

	query := make([]float32, 128)
	for j := 0; j < 128; j++ {
		query[j] = float32(42*128+j) / 1000
	}
	results, err := e.Search(query, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint64(43), results[0].ID) // id 42+1, since ids are 1-based here
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

// scenario 4 of spec.md §8: insert, close, reopen, get round trip.
func TestInsertCloseReopenGetRoundTrip(t *testing.T) {
	cfg := testConfig(t, 4, "cosine")
	e, err := Create(cfg)
	require.NoError(t, err)

	id, err := e.Insert(7, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), id)
	require.NoError(t, e.Close())

	reopened, err := Open(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(7)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, got)
}

// scenario 5 of spec.md §8: euclidean ranking over 5 vectors.
func TestEuclideanRankingScenario(t *testing.T) {
	cfg := testConfig(t, 4, "euclidean")
	e, err := Create(cfg)
	require.NoError(t, err)
	defer e.Close()

	vectors := map[uint64][]float32{
		1: {1, 0, 0, 0},
		2: {0, 1, 0, 0},
		3: {0, 0, 1, 0},
		4: {0.9, 0.1, 0, 0},
		5: {0.5, 0.5, 0, 0},
	}
	for id, v := range vectors {
		_, err := e.Insert(id, v)
		require.NoError(t, err)
	}

	results, err := e.Search([]float32{1, 0, 0, 0}, 3, -math.MaxFloat64)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []uint64{1, 4, 5}, []uint64{results[0].ID, results[1].ID, results[2].ID})
}

// scenario 6 of spec.md §8: bad magic bytes on open yields db-corrupt and
// no partial state.
func TestOpenRejectsBadMagic(t *testing.T) {
	cfg := testConfig(t, 4, "cosine")
	e, err := Create(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	corruptHeader(t, cfg.Path)

	_, err = Open(cfg)
	require.Error(t, err)
	engineErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, int(CodeDBCorrupt), engineErr.Code())
}

func TestCreateRejectsExistingPath(t *testing.T) {
	cfg := testConfig(t, 4, "cosine")
	e, err := Create(cfg)
	require.NoError(t, err)
	defer e.Close()

	_, err = Create(cfg)
	require.Error(t, err)
	engineErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, int(CodeInvalidArgs), engineErr.Code())
}

func TestInsertRejectsDimensionMismatch(t *testing.T) {
	cfg := testConfig(t, 4, "cosine")
	e, err := Create(cfg)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Insert(0, []float32{1, 2, 3})
	require.Error(t, err)
	engineErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, int(CodeDimensionMismatch), engineErr.Code())
}

func TestGetUnknownIDFails(t *testing.T) {
	cfg := testConfig(t, 4, "cosine")
	e, err := Create(cfg)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Get(999)
	require.Error(t, err)
	engineErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, int(CodeVectorNotFound), engineErr.Code())
}

func TestSearchOnEmptyStoreReturnsEmpty(t *testing.T) {
	cfg := testConfig(t, 4, "cosine")
	e, err := Create(cfg)
	require.NoError(t, err)
	defer e.Close()

	results, err := e.Search([]float32{1, 0, 0, 0}, 3, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDoubleCloseIsNoOpError(t *testing.T) {
	cfg := testConfig(t, 4, "cosine")
	e, err := Create(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.Error(t, e.Close())
}

func TestDoubleDropFailsOnSecondCall(t *testing.T) {
	cfg := testConfig(t, 4, "cosine")
	e, err := Create(cfg)
	require.NoError(t, err)
	require.NoError(t, e.Drop())
	require.Error(t, e.Drop())
}

func TestStatsReportsLiveCountAndDimension(t *testing.T) {
	cfg := testConfig(t, 4, "cosine")
	e, err := Create(cfg)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Insert(0, []float32{1, 0, 0, 0})
	require.NoError(t, err)

	stats, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.LiveCount)
	assert.Equal(t, uint32(4), stats.Dimension)
	assert.Greater(t, stats.SizeBytes, int64(0))
}

func TestRepairRebuildsHNSWFromLog(t *testing.T) {
	cfg := testConfig(t, 4, "cosine")
	e, err := Create(cfg)
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Insert(0, []float32{1, 0, 0, 0})
	require.NoError(t, err)
	require.NoError(t, e.Repair())

	results, err := e.Search([]float32{1, 0, 0, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

// spec.md §8's concurrency property: N writer goroutines on disjoint id
// ranges must all land, with no lost or corrupted vectors, under -race.
func TestConcurrentWritersOnDisjointIDRanges(t *testing.T) {
	cfg := testConfig(t, 8, "cosine")
	e, err := Create(cfg)
	require.NoError(t, err)
	defer e.Close()

	const writers = 8
	const perWriter = 50

	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer wg.Done()
			base := uint64(w*perWriter + 1)
			for i := 0; i < perWriter; i++ {
				id := base + uint64(i)
				v := make([]float32, 8)
				v[i%8] = float32(id)
				_, err := e.Insert(id, v)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	stats, err := e.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(writers*perWriter), stats.LiveCount)

	for w := 0; w < writers; w++ {
		base := uint64(w*perWriter + 1)
		for i := 0; i < perWriter; i++ {
			id := base + uint64(i)
			vec, err := e.Get(id)
			require.NoError(t, err, "id %d should be present", id)
			assert.Equal(t, float32(id), vec[i%8])
		}
	}
}

// spec.md §8's concurrency property: M reader threads searching while
// writers are active must never error, panic, or observe a partial
// vector. Run under -race to surface unsynchronized key-index access.
func TestConcurrentReadersDuringWrites(t *testing.T) {
	cfg := testConfig(t, 8, "cosine")
	e, err := Create(cfg)
	require.NoError(t, err)
	defer e.Close()

	// Seed some data so Search/Get have something to find immediately.
	for i := 0; i < 20; i++ {
		_, err := e.Insert(uint64(i+1), unit(8, i%8))
		require.NoError(t, err)
	}

	stop := make(chan struct{})
	var writerWg, readerWg sync.WaitGroup

	const writers = 4
	writerWg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer writerWg.Done()
			base := uint64(1000 + w*1000)
			for i := 0; i < 200; i++ {
				id := base + uint64(i)
				v := make([]float32, 8)
				v[i%8] = 1
				if _, err := e.Insert(id, v); err != nil {
					t.Errorf("concurrent insert failed: %v", err)
				}
				if err := e.Delete(id); err != nil {
					t.Errorf("concurrent delete failed: %v", err)
				}
			}
		}(w)
	}

	const readers = 4
	readerWg.Add(readers)
	for r := 0; r < readers; r++ {
		go func(r int) {
			defer readerWg.Done()
			query := unit(8, r%8)
			for {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := e.Search(query, 5, 0); err != nil {
					t.Errorf("concurrent search failed: %v", err)
				}
				if _, err := e.Get(uint64(r + 1)); err != nil {
					t.Errorf("concurrent get failed: %v", err)
				}
			}
		}(r)
	}

	writerWg.Wait()
	close(stop)
	readerWg.Wait()
}

// corruptHeader flips the first four bytes of a closed log file's magic
// number, simulating on-disk corruption for scenario 6.
func corruptHeader(t *testing.T, path string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteAt([]byte{0xDE, 0xAD, 0xBE, 0xEF}, 0)
	require.NoError(t, err)
}
