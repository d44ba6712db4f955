// Package hnsw implements an in-memory Hierarchical Navigable Small World
// graph for approximate nearest-neighbor search, per spec.md §4.3. Nodes
// live in a dense arena (a slice); neighbor lists hold arena indices, not
// vector ids, so the graph is save/load-trivial and free of reference
// cycles. The graph is rebuilt from the vector log on every open; Index
// itself does no locking of its own — the engine façade serializes every
// mutation and arbitrates shared/exclusive access for search, per
// spec.md §5/§9.
package hnsw

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/orneryd/vectordb/pkg/similarity"
	"github.com/orneryd/vectordb/pkg/vheap"
)

// maxLevelCap bounds the random level draw, matching spec.md §4.3's note
// that an unbounded draw is a latent (if astronomically unlikely) memory
// hazard.
const maxLevelCap = 15

// noEntry marks an empty graph's entry point.
const noEntry = -1

// ErrIntegrityCompromised is returned by every mutator once a routine has
// observed an out-of-range neighbor index or an impossible level. Call
// Repair to clear it.
var ErrIntegrityCompromised = errors.New("hnsw: integrity flag set, refusing mutation until repair")

func randSeed() int64 { return time.Now().UnixNano() }

// Config holds the tunable HNSW parameters.
type Config struct {
	M              int // max connections per node at levels above 0
	MMax0          int // max connections per node at level 0 (conventionally 2*M)
	EfConstruction int
	EfSearch       int
	LevelMult      float64 // spec default: 1/ln(2)
	Metric         similarity.Metric
}

// DefaultConfig returns spec.md §3's defaults: M=16, ef_construction=200,
// ef_search=50, level-mult=1/ln(2).
func DefaultConfig(metric similarity.Metric) Config {
	const m = 16
	return Config{
		M:              m,
		MMax0:          2 * m,
		EfConstruction: 200,
		EfSearch:       50,
		LevelMult:      1.0 / math.Log(2.0),
		Metric:         metric,
	}
}

// node is one graph vertex, stored by arena slot. neighbors[l] holds the
// slot indices connected at level l — NOT vector ids, per spec.md §3. A
// tombstoned node's slot is never reused; traversal and results skip it.
type node struct {
	id         uint64
	vector     []float32
	level      int
	neighbors  [][]int
	tombstoned bool
}

// Result is one search hit, score oriented higher-is-better regardless of
// the underlying metric (see pkg/similarity.Score).
type Result struct {
	ID    uint64
	Score float64
}

// Index is the HNSW graph for a single store.
type Index struct {
	config     Config
	dimension  int
	nodes      []*node // arena; slot = array index
	idToSlot   map[uint64]int
	entryPoint int // arena slot, noEntry if empty
	maxLevel   int
	liveCount  int
	integrity  bool // true once a violation has been observed
	rng        *rand.Rand
}

// NewIndex creates an empty index. dimension must match the vector log it
// will be built from.
func NewIndex(dimension int, config Config) *Index {
	if config.M == 0 {
		config = DefaultConfig(config.Metric)
	}
	return &Index{
		config:     config,
		dimension:  dimension,
		idToSlot:   make(map[uint64]int),
		entryPoint: noEntry,
		maxLevel:   -1,
		rng:        rand.New(rand.NewSource(randSeed())),
	}
}

// Len returns the number of live (non-tombstoned) vectors in the index.
func (idx *Index) Len() int { return idx.liveCount }

// IntegrityOK reports whether the index is free of detected corruption.
func (idx *Index) IntegrityOK() bool { return !idx.integrity }

// Add inserts id/vector into the graph as a new arena slot. Re-adding an
// id whose previous slot was tombstoned leaves that slot in place (never
// reused, never renumbered) and simply allocates a fresh one, matching
// the vector log's "fresh record on reinsert" semantics.
func (idx *Index) Add(id uint64, vector []float32) error {
	if idx.integrity {
		return ErrIntegrityCompromised
	}
	if len(vector) != idx.dimension {
		return fmt.Errorf("hnsw: dimension mismatch: got %d, want %d", len(vector), idx.dimension)
	}

	level := idx.randomLevel()
	n := &node{id: id, vector: vector, level: level, neighbors: make([][]int, level+1)}
	for i := range n.neighbors {
		n.neighbors[i] = make([]int, 0, idx.connectionCap(i))
	}
	slot := len(idx.nodes)
	idx.nodes = append(idx.nodes, n)
	idx.idToSlot[id] = slot
	idx.liveCount++

	if idx.entryPoint == noEntry {
		idx.entryPoint = slot
		idx.maxLevel = level
		return nil
	}

	ep := idx.entryPoint
	for l := idx.maxLevel; l > level; l-- {
		ep = idx.greedyClosest(vector, ep, l)
	}

	for l := min(level, idx.maxLevel); l >= 0; l-- {
		candidates := idx.searchLayer(vector, ep, idx.config.EfConstruction, l)
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
		chosen := idx.selectNeighbors(candidates, idx.connectionCap(l))
		n.neighbors[l] = chosen

		for _, nbSlot := range chosen {
			idx.connect(nbSlot, slot, l)
		}
		if len(candidates) > 0 {
			ep = candidates[0].Slot
		}
	}

	if level > idx.maxLevel {
		idx.entryPoint = slot
		idx.maxLevel = level
	}
	return nil
}

// connect adds a back-edge from nbSlot to slot at level l, pruning to the
// level's connection cap by re-selecting neighbors if over capacity.
func (idx *Index) connect(nbSlot, slot int, l int) {
	nb := idx.nodes[nbSlot]
	if l >= len(nb.neighbors) {
		return
	}
	limit := idx.connectionCap(l)
	if len(nb.neighbors[l]) < limit {
		nb.neighbors[l] = append(nb.neighbors[l], slot)
		return
	}
	all := append(append([]int{}, nb.neighbors[l]...), slot)
	scoredAll := make([]scored, 0, len(all))
	for _, cslot := range all {
		if cslot < 0 || cslot >= len(idx.nodes) {
			continue
		}
		c := idx.nodes[cslot]
		scoredAll = append(scoredAll, scored{slot: cslot, score: similarity.Score(idx.config.Metric, nb.vector, c.vector)})
	}
	sort.Slice(scoredAll, func(i, j int) bool { return scoredAll[i].score > scoredAll[j].score })
	if len(scoredAll) > limit {
		scoredAll = scoredAll[:limit]
	}
	kept := make([]int, len(scoredAll))
	for i, c := range scoredAll {
		kept[i] = c.slot
	}
	nb.neighbors[l] = kept
}

func (idx *Index) connectionCap(level int) int {
	if level == 0 {
		return idx.config.MMax0
	}
	return idx.config.M
}

// Remove tombstones id's slot. The slot stays in the arena so other
// nodes' neighbor lists stay valid without renumbering; traversal and
// Search skip it. See DESIGN.md for why compaction was rejected in favor
// of this, spec.md §4.3's documented alternative.
func (idx *Index) Remove(id uint64) error {
	if idx.integrity {
		return ErrIntegrityCompromised
	}
	slot, ok := idx.idToSlot[id]
	if !ok || idx.nodes[slot].tombstoned {
		return fmt.Errorf("hnsw: id %d not present", id)
	}
	idx.nodes[slot].tombstoned = true
	delete(idx.idToSlot, id)
	idx.liveCount--

	if idx.entryPoint == slot {
		idx.reassignEntryPoint()
	}
	return nil
}

// reassignEntryPoint picks the remaining live node with the largest
// level, ties broken by smallest slot index, per spec.md §4.3.
func (idx *Index) reassignEntryPoint() {
	idx.entryPoint = noEntry
	idx.maxLevel = -1
	for slot, n := range idx.nodes {
		if n.tombstoned {
			continue
		}
		if n.level > idx.maxLevel {
			idx.maxLevel = n.level
			idx.entryPoint = slot
		}
	}
}

// Repair discards every edge whose target is out of range or tombstoned
// and re-elects the entry point, then clears the integrity flag. Per
// spec.md §4.3/§5, this is the only way to resume mutations once a
// violation has been observed.
func (idx *Index) Repair() {
	for _, n := range idx.nodes {
		for l, neighbors := range n.neighbors {
			clean := neighbors[:0]
			for _, s := range neighbors {
				if s < 0 || s >= len(idx.nodes) || idx.nodes[s].tombstoned {
					continue
				}
				clean = append(clean, s)
			}
			n.neighbors[l] = clean
		}
	}
	idx.reassignEntryPoint()
	idx.integrity = false
}

// flagIntegrity marks the index corrupt; callers observing an impossible
// condition call this instead of panicking.
func (idx *Index) flagIntegrity() { idx.integrity = true }

// Search returns up to k nearest neighbors to query. ef, if 0, defaults to
// the configured EfSearch (and is raised to at least k).
func (idx *Index) Search(query []float32, k int, ef int) ([]Result, error) {
	if len(query) != idx.dimension {
		return nil, fmt.Errorf("hnsw: dimension mismatch: got %d, want %d", len(query), idx.dimension)
	}
	if idx.integrity {
		return nil, ErrIntegrityCompromised
	}
	if idx.entryPoint == noEntry || idx.liveCount == 0 {
		return nil, nil
	}
	if ef <= 0 {
		ef = idx.config.EfSearch
	}
	if ef < k {
		ef = k
	}

	ep := idx.entryPoint
	for l := idx.maxLevel; l > 0; l-- {
		ep = idx.greedyClosest(query, ep, l)
	}

	candidates := idx.searchLayer(query, ep, ef, 0)
	// spec.md §4.3: ties break by ascending vector id, matching the
	// brute-force fallback's tie-break in pkg/engine.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return idx.slotID(candidates[i].Slot) < idx.slotID(candidates[j].Slot)
	})

	out := make([]Result, 0, k)
	for _, c := range candidates {
		if c.Slot < 0 || c.Slot >= len(idx.nodes) {
			idx.flagIntegrity()
			continue
		}
		n := idx.nodes[c.Slot]
		if n.tombstoned {
			continue
		}
		out = append(out, Result{ID: n.id, Score: c.Score})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// greedyClosest descends one level from entrySlot, moving to a strictly
// closer neighbor until none is found.
func (idx *Index) greedyClosest(query []float32, entrySlot int, level int) int {
	current := entrySlot
	currentScore := idx.score(query, current)
	for {
		n := idx.nodes[current]
		if level >= len(n.neighbors) {
			return current
		}
		improved := false
		for _, nbSlot := range n.neighbors[level] {
			if nbSlot < 0 || nbSlot >= len(idx.nodes) {
				idx.flagIntegrity()
				continue
			}
			nb := idx.nodes[nbSlot]
			if nb.tombstoned {
				continue
			}
			s := idx.score(query, nbSlot)
			if s > currentScore {
				current = nbSlot
				currentScore = s
				improved = true
			}
		}
		if !improved {
			return current
		}
	}
}

// candidate pairs an arena slot with its score for the bounded search.
type candidate struct {
	Slot  int
	Score float64
}

// slotID resolves a candidate's vector id for tie-breaking, tolerating an
// out-of-range slot (flagged elsewhere as an integrity violation) by
// sorting it last rather than panicking.
func (idx *Index) slotID(slot int) uint64 {
	if slot < 0 || slot >= len(idx.nodes) || idx.nodes[slot] == nil {
		return math.MaxUint64
	}
	return idx.nodes[slot].id
}

// searchLayer runs a beam search at level from entrySlot, returning up to
// ef candidates. Order is not guaranteed; callers sort.
func (idx *Index) searchLayer(query []float32, entrySlot int, ef int, level int) []candidate {
	visited := map[int]bool{entrySlot: true}

	frontier := vheap.NewMax(0) // explore the closest (highest-score) unexpanded candidate first
	best := vheap.NewMax(0)

	entryScore := idx.score(query, entrySlot)
	frontier.Push(vheap.Item{Index: entrySlot, Score: entryScore})
	best.Push(vheap.Item{Index: entrySlot, Score: entryScore})

	for !frontier.Empty() {
		top := frontier.Pop()

		if best.Len() >= ef && top.Score < idx.worstScore(best) {
			break
		}

		n := idx.nodes[top.Index]
		if level >= len(n.neighbors) {
			continue
		}
		for _, nbSlot := range n.neighbors[level] {
			if nbSlot < 0 || nbSlot >= len(idx.nodes) {
				idx.flagIntegrity()
				continue
			}
			if visited[nbSlot] {
				continue
			}
			visited[nbSlot] = true
			nb := idx.nodes[nbSlot]
			if nb.tombstoned {
				continue
			}
			s := idx.score(query, nbSlot)
			if best.Len() < ef || s > idx.worstScore(best) {
				frontier.Push(vheap.Item{Index: nbSlot, Score: s})
				best.Push(vheap.Item{Index: nbSlot, Score: s})
				if best.Len() > ef {
					idx.dropWorst(best)
				}
			}
		}
	}

	items := best.Drain()
	out := make([]candidate, len(items))
	for i, it := range items {
		out[i] = candidate{Slot: it.Index, Score: it.Score}
	}
	return out
}

// worstScore peeks the lowest-scoring item held by a max-heap without
// draining it (max-heap keeps the best on top, so the worst is buried —
// we track it by scanning once rather than maintaining a second heap,
// which is fine given ef is small).
func (idx *Index) worstScore(h *vheap.Heap) float64 {
	items := h.Drain()
	worst := items[0].Score
	for _, it := range items {
		if it.Score < worst {
			worst = it.Score
		}
		h.Push(it)
	}
	return worst
}

func (idx *Index) dropWorst(h *vheap.Heap) {
	items := h.Drain()
	worstIdx := 0
	for i, it := range items {
		if it.Score < items[worstIdx].Score {
			worstIdx = i
		}
	}
	for i, it := range items {
		if i != worstIdx {
			h.Push(it)
		}
	}
}

type scored struct {
	slot  int
	score float64
}

func (idx *Index) selectNeighbors(candidates []candidate, limit int) []int {
	if len(candidates) <= limit {
		out := make([]int, len(candidates))
		for i, c := range candidates {
			out[i] = c.Slot
		}
		return out
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	out := make([]int, limit)
	for i := 0; i < limit; i++ {
		out[i] = candidates[i].Slot
	}
	return out
}

func (idx *Index) score(query []float32, slot int) float64 {
	n := idx.nodes[slot]
	return similarity.Score(idx.config.Metric, query, n.vector)
}

func (idx *Index) randomLevel() int {
	level := int(-math.Log(idx.rng.Float64()+1e-300) * idx.config.LevelMult)
	if level > maxLevelCap {
		level = maxLevelCap
	}
	return level
}
