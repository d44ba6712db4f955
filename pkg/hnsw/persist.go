package hnsw

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"

	"github.com/orneryd/vectordb/pkg/similarity"
)

// graphMagic/graphVersion identify a serialized HNSW graph snapshot, per
// spec.md §6. Snapshots are an optional diagnostic/backup artifact —
// spec.md §4.3 says the engine never relies on loading one: on open it
// always rebuilds the graph by re-inserting every live vector from the
// log. A missing or invalid snapshot is therefore never fatal.
const (
	graphMagic   = uint32(0x484e5357) // "HNSW"
	graphVersion = uint32(1)
)

// SaveTo writes a full snapshot of the graph in spec.md §6's layout:
// magic, version, dimension, metric, M, ef_construction, ef_search,
// level-mult, node_count, entry_point, max_level, then per node: id,
// level, dimension, a one-byte tombstone flag, the vector's floats, then
// for each level a connection-count and that many neighbor (arena-slot)
// indices.
//
// Tombstoned slots are included so surviving neighbor lists stay valid on
// load without a repair pass.
func (idx *Index) SaveTo(w io.Writer) error {
	bw := bufio.NewWriter(w)
	header := []any{
		graphMagic, graphVersion,
		uint32(idx.dimension),
		metricCode(idx.config.Metric),
		uint32(idx.config.M), uint32(idx.config.EfConstruction), uint32(idx.config.EfSearch),
		idx.config.LevelMult,
		uint32(len(idx.nodes)),
		int32(idx.entryPoint),
		int32(idx.maxLevel),
	}
	for _, f := range header {
		if err := binary.Write(bw, binary.LittleEndian, f); err != nil {
			return fmt.Errorf("hnsw: write header field: %w", err)
		}
	}

	for _, n := range idx.nodes {
		if err := binary.Write(bw, binary.LittleEndian, n.id); err != nil {
			return fmt.Errorf("hnsw: write node id: %w", err)
		}
		if err := binary.Write(bw, binary.LittleEndian, int32(n.level)); err != nil {
			return fmt.Errorf("hnsw: write node level: %w", err)
		}
		if err := binary.Write(bw, binary.LittleEndian, uint32(idx.dimension)); err != nil {
			return fmt.Errorf("hnsw: write node dimension: %w", err)
		}
		if err := binary.Write(bw, binary.LittleEndian, n.tombstoned); err != nil {
			return fmt.Errorf("hnsw: write tombstone flag: %w", err)
		}
		for _, f := range n.vector {
			if err := binary.Write(bw, binary.LittleEndian, f); err != nil {
				return fmt.Errorf("hnsw: write vector component: %w", err)
			}
		}
		for level := 0; level <= n.level; level++ {
			neighbors := n.neighbors[level]
			if err := binary.Write(bw, binary.LittleEndian, uint32(len(neighbors))); err != nil {
				return fmt.Errorf("hnsw: write neighbor count: %w", err)
			}
			for _, slot := range neighbors {
				if err := binary.Write(bw, binary.LittleEndian, int32(slot)); err != nil {
					return fmt.Errorf("hnsw: write neighbor index: %w", err)
				}
			}
		}
	}
	return bw.Flush()
}

// LoadFrom reconstructs an Index from a snapshot written by SaveTo.
func LoadFrom(r io.Reader) (*Index, error) {
	br := bufio.NewReader(r)

	var magic, version uint32
	if err := binary.Read(br, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("hnsw: read magic: %w", err)
	}
	if magic != graphMagic {
		return nil, fmt.Errorf("hnsw: bad snapshot magic %x", magic)
	}
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("hnsw: read version: %w", err)
	}
	if version != graphVersion {
		return nil, fmt.Errorf("hnsw: unsupported snapshot version %d", version)
	}

	var dim, metric, m, efc, efs uint32
	var levelMult float64
	var nodeCount uint32
	var entryPoint, maxLevel int32

	fields := []any{&dim, &metric, &m, &efc, &efs, &levelMult, &nodeCount, &entryPoint, &maxLevel}
	for _, f := range fields {
		if err := binary.Read(br, binary.LittleEndian, f); err != nil {
			return nil, fmt.Errorf("hnsw: read header field: %w", err)
		}
	}

	idx := &Index{
		config: Config{
			M: int(m), MMax0: 2 * int(m), EfConstruction: int(efc), EfSearch: int(efs),
			LevelMult: levelMult, Metric: metricFromCode(metric),
		},
		dimension:  int(dim),
		nodes:      make([]*node, 0, nodeCount),
		idToSlot:   make(map[uint64]int, nodeCount),
		entryPoint: int(entryPoint),
		maxLevel:   int(maxLevel),
		rng:        rand.New(rand.NewSource(randSeed())),
	}

	for i := uint32(0); i < nodeCount; i++ {
		var id uint64
		var level, nodeDim int32
		var tombstoned bool
		if err := binary.Read(br, binary.LittleEndian, &id); err != nil {
			return nil, fmt.Errorf("hnsw: read node %d id: %w", i, err)
		}
		if err := binary.Read(br, binary.LittleEndian, &level); err != nil {
			return nil, fmt.Errorf("hnsw: read node %d level: %w", id, err)
		}
		if err := binary.Read(br, binary.LittleEndian, &nodeDim); err != nil {
			return nil, fmt.Errorf("hnsw: read node %d dimension: %w", id, err)
		}
		if err := binary.Read(br, binary.LittleEndian, &tombstoned); err != nil {
			return nil, fmt.Errorf("hnsw: read node %d tombstone: %w", id, err)
		}
		vec := make([]float32, nodeDim)
		for j := range vec {
			if err := binary.Read(br, binary.LittleEndian, &vec[j]); err != nil {
				return nil, fmt.Errorf("hnsw: read node %d vector: %w", id, err)
			}
		}

		n := &node{id: id, vector: vec, level: int(level), tombstoned: tombstoned, neighbors: make([][]int, level+1)}
		for l := int32(0); l <= level; l++ {
			var count uint32
			if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
				return nil, fmt.Errorf("hnsw: read node %d neighbor count at level %d: %w", id, l, err)
			}
			neighbors := make([]int, count)
			for j := range neighbors {
				var slot int32
				if err := binary.Read(br, binary.LittleEndian, &slot); err != nil {
					return nil, fmt.Errorf("hnsw: read node %d neighbor %d at level %d: %w", id, j, l, err)
				}
				neighbors[j] = int(slot)
			}
			n.neighbors[l] = neighbors
		}

		slot := len(idx.nodes)
		idx.nodes = append(idx.nodes, n)
		if !tombstoned {
			idx.idToSlot[id] = slot
			idx.liveCount++
		}
	}

	return idx, nil
}

func metricCode(m similarity.Metric) uint32 {
	switch m {
	case similarity.Dot:
		return 1
	case similarity.Euclidean:
		return 2
	default:
		return 0
	}
}

func metricFromCode(code uint32) similarity.Metric {
	switch code {
	case 1:
		return similarity.Dot
	case 2:
		return similarity.Euclidean
	default:
		return similarity.Cosine
	}
}
