package vlog

import (
	"encoding/binary"
	"fmt"

	"github.com/orneryd/vectordb/pkg/similarity"
)

const (
	// fileMagic identifies a vector log file, spec.md §6.
	fileMagic = uint32(0x43564543)
	// fileVersion is the only wire version this package understands.
	fileVersion = uint32(1)

	// fileHeaderSize is the fixed prefix length of every log file.
	fileHeaderSize = 64
	// recordHeaderSize is the fixed prefix of every appended record.
	recordHeaderSize = 32
)

// fileHeader mirrors the 64-byte file header laid out in spec.md §6.
type fileHeader struct {
	Magic       uint32
	Version     uint32
	Dimension   uint32
	Metric      uint32
	LiveCount   uint64
	NextID      uint64
	CreatedAt   uint64
	ModifiedAt  uint64
}

func (h fileHeader) marshal() []byte {
	buf := make([]byte, fileHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.Dimension)
	binary.LittleEndian.PutUint32(buf[12:16], h.Metric)
	binary.LittleEndian.PutUint64(buf[16:24], h.LiveCount)
	binary.LittleEndian.PutUint64(buf[24:32], h.NextID)
	binary.LittleEndian.PutUint64(buf[32:40], h.CreatedAt)
	binary.LittleEndian.PutUint64(buf[40:48], h.ModifiedAt)
	// bytes 48:64 stay zero (32 bytes reserved, minus the 16 already past 48).
	return buf
}

func unmarshalHeader(buf []byte) (fileHeader, error) {
	if len(buf) < fileHeaderSize {
		return fileHeader{}, fmt.Errorf("vlog: short header read (%d bytes)", len(buf))
	}
	h := fileHeader{
		Magic:      binary.LittleEndian.Uint32(buf[0:4]),
		Version:    binary.LittleEndian.Uint32(buf[4:8]),
		Dimension:  binary.LittleEndian.Uint32(buf[8:12]),
		Metric:     binary.LittleEndian.Uint32(buf[12:16]),
		LiveCount:  binary.LittleEndian.Uint64(buf[16:24]),
		NextID:     binary.LittleEndian.Uint64(buf[24:32]),
		CreatedAt:  binary.LittleEndian.Uint64(buf[32:40]),
		ModifiedAt: binary.LittleEndian.Uint64(buf[40:48]),
	}
	return h, nil
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

// recordHeader mirrors the 32-byte per-record prefix laid out in spec.md §6.
type recordHeader struct {
	ID         uint64
	Dimension  uint32
	Timestamp  uint64
	Tombstone  uint8
	// 7 reserved bytes follow; repurposed as a little-endian uint32 payload
	// length ONLY when at-rest encryption is active (see pkg/atrest), left
	// zero otherwise per spec.md §3/§6.
	PayloadLen uint32
}

func (r recordHeader) marshal() []byte {
	buf := make([]byte, recordHeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], r.ID)
	binary.LittleEndian.PutUint32(buf[8:12], r.Dimension)
	binary.LittleEndian.PutUint64(buf[12:20], r.Timestamp)
	buf[20] = r.Tombstone
	binary.LittleEndian.PutUint32(buf[21:25], r.PayloadLen)
	return buf
}

func unmarshalRecordHeader(buf []byte) (recordHeader, error) {
	if len(buf) < recordHeaderSize {
		return recordHeader{}, fmt.Errorf("vlog: short record header read (%d bytes)", len(buf))
	}
	return recordHeader{
		ID:         binary.LittleEndian.Uint64(buf[0:8]),
		Dimension:  binary.LittleEndian.Uint32(buf[8:12]),
		Timestamp:  binary.LittleEndian.Uint64(buf[12:20]),
		Tombstone:  buf[20],
		PayloadLen: binary.LittleEndian.Uint32(buf[21:25]),
	}, nil
}

const tombstoneByteOffset = 20
