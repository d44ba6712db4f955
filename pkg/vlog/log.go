// Package vlog implements the append-only on-disk vector log and its
// companion in-memory key index, as laid out in spec.md §4.4 and the wire
// format in §6. It never overwrites a record in place except to flip a
// single tombstone byte, and it never reuses an id's original slot: a
// deleted-then-reinserted id gets a fresh record at the tail.
//
// Log does not lock itself. It relies on the engine façade to serialize
// writers (Insert/Delete/Close) through a single mutation mutex; reads
// (Get/Scan) are safe to call concurrently with each other because all
// file access goes through ReadAt/WriteAt rather than Seek-then-Read/Write,
// so concurrent callers never race on a shared file cursor.
package vlog

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/orneryd/vectordb/pkg/similarity"
)

func nowUnix() int64 { return time.Now().Unix() }

// Codec converts between a float32 vector and its on-disk payload bytes.
// The zero value of Log uses plainCodec (raw little-endian float32s); the
// at-rest encryption package supplies an encrypting implementation.
type Codec interface {
	Encode(vector []float32) ([]byte, error)
	Decode(data []byte, dimension uint32) ([]float32, error)
}

type plainCodec struct{}

func (plainCodec) Encode(vector []float32) ([]byte, error) {
	buf := make([]byte, len(vector)*4)
	for i, f := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(f))
	}
	return buf, nil
}

func (plainCodec) Decode(data []byte, dimension uint32) ([]float32, error) {
	if uint32(len(data)) != dimension*4 {
		return nil, fmt.Errorf("%w: payload %d bytes, want %d", ErrCorrupt, len(data), dimension*4)
	}
	out := make([]float32, dimension)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
	}
	return out, nil
}

// Record is a single live entry yielded by Scan or the Open rebuild walk.
type Record struct {
	ID        uint64
	Vector    []float32
	Timestamp uint64
}

// Stats is a point-in-time snapshot of the log's bookkeeping counters.
type Stats struct {
	Path      string
	Dimension uint32
	Metric    similarity.Metric
	LiveCount int64
	NextID    uint64
	Records   int64
}

// Log is an open append-only vector log file plus its in-memory key index.
type Log struct {
	file      *os.File
	path      string
	dimension uint32
	metric    similarity.Metric
	codec     Codec

	index *keyIndex

	nextID      uint64 // atomic
	liveCount   int64  // atomic
	writeOff    int64  // atomic, offset for the next append
	recordCount int64  // atomic, total records ever appended (live + tombstoned)
	createdAt   uint64
	modifiedAt  uint64 // atomic
}

// SetCodec swaps the payload codec used for Encode/Decode. It must be
// called immediately after Create or Open, before any Insert/Get/Scan, and
// is how pkg/atrest plugs in an encrypting codec without vlog depending on
// crypto itself.
func (l *Log) SetCodec(c Codec) { l.codec = c }

// Create makes a new log file at path. Fails with os.ErrExist if the file
// is already there, matching spec.md §6's "no silent overwrite" contract.
func Create(path string, dimension uint32, metric similarity.Metric) (*Log, error) {
	if dimension == 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidArgument)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("vlog: create %s: %w", path, err)
	}
	now := uint64(nowUnix())
	h := fileHeader{
		Magic:      fileMagic,
		Version:    fileVersion,
		Dimension:  dimension,
		Metric:     metricCode(metric),
		LiveCount:  0,
		NextID:     1,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if _, err := f.WriteAt(h.marshal(), 0); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("vlog: write header: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("vlog: sync header: %w", err)
	}
	l := &Log{
		file: f, path: path, dimension: dimension, metric: metric, codec: plainCodec{},
		index: newKeyIndex(), nextID: 1, writeOff: fileHeaderSize, createdAt: now, modifiedAt: now,
	}
	return l, nil
}

// Open reopens an existing log file, validates its header, and replays
// every record to rebuild the key index. onLive, if non-nil, is invoked
// for each live record encountered during the replay — the engine uses
// this hook to rebuild the HNSW graph from scratch on open.
// Replay decodes payloads with the plain codec, because SetCodec can only
// be applied after Open returns; a live record whose payload does not
// decode as plain floats (an encrypted one) is still indexed but is not
// passed to onLive.
//
// A truncated trailing record (e.g. from a crash mid-append) is tolerated:
// Open stops replay at the first short read rather than failing outright,
// matching spec.md §7's "best-effort recovery of the prefix that is
// structurally intact" posture.
func Open(path string, onLive func(Record)) (*Log, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("vlog: open %s: %w", path, err)
	}
	hbuf := make([]byte, fileHeaderSize)
	if _, err := f.ReadAt(hbuf, 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: header read: %v", ErrCorrupt, err)
	}
	h, err := unmarshalHeader(hbuf)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if h.Magic != fileMagic {
		f.Close()
		return nil, fmt.Errorf("%w: bad magic %x", ErrCorrupt, h.Magic)
	}
	if h.Version != fileVersion {
		f.Close()
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	}

	l := &Log{
		file: f, path: path, dimension: h.Dimension, metric: metricFromCode(h.Metric), codec: plainCodec{},
		index: newKeyIndex(), nextID: h.NextID, createdAt: h.CreatedAt, modifiedAt: h.ModifiedAt,
	}

	off := int64(fileHeaderSize)
	rbuf := make([]byte, recordHeaderSize)
	for {
		n, err := f.ReadAt(rbuf, off)
		if n < recordHeaderSize {
			if err != nil || n == 0 {
				break // short/trailing read: stop replay, keep what we have
			}
		}
		rh, err := unmarshalRecordHeader(rbuf)
		if err != nil {
			break
		}
		payloadLen := int(rh.Dimension) * 4
		if rh.PayloadLen != 0 {
			payloadLen = int(rh.PayloadLen)
		}
		payload := make([]byte, payloadLen)
		pn, _ := f.ReadAt(payload, off+recordHeaderSize)
		if pn < payloadLen {
			break // partial trailing record
		}
		recordLen := int64(recordHeaderSize + payloadLen)
		l.recordCount++

		if rh.Tombstone == 0 {
			l.index.put(rh.ID, off, rh.Dimension, rh.Timestamp)
			if onLive != nil {
				if vec, derr := l.codec.Decode(payload, rh.Dimension); derr == nil {
					onLive(Record{ID: rh.ID, Vector: vec, Timestamp: rh.Timestamp})
				}
			}
		} else {
			l.index.put(rh.ID, off, rh.Dimension, rh.Timestamp)
			l.index.tombstone(rh.ID)
		}
		off += recordLen
	}
	l.writeOff = off
	l.liveCount = int64(l.index.liveCount())
	return l, nil
}

// Insert appends vector under id. If id is 0, the next auto-assigned id is
// used. Re-inserting a live id is rejected; re-inserting a previously
// deleted id succeeds and writes a brand new record.
func (l *Log) Insert(id uint64, vector []float32) (uint64, error) {
	if uint32(len(vector)) != l.dimension {
		return 0, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), l.dimension)
	}
	if id == 0 {
		id = atomic.AddUint64(&l.nextID, 1) - 1
	} else if e := l.index.get(id); e != nil && !e.tombstoned {
		return 0, fmt.Errorf("%w: id %d", ErrAlreadyExists, id)
	}

	payload, err := l.codec.Encode(vector)
	if err != nil {
		return 0, fmt.Errorf("vlog: encode: %w", err)
	}
	ts := uint64(nowUnix())
	rh := recordHeader{ID: id, Dimension: l.dimension, Timestamp: ts}
	if _, ok := l.codec.(plainCodec); !ok {
		rh.PayloadLen = uint32(len(payload))
	}

	off := atomic.AddInt64(&l.writeOff, int64(recordHeaderSize+len(payload))) - int64(recordHeaderSize+len(payload))
	if _, err := l.file.WriteAt(rh.marshal(), off); err != nil {
		return 0, fmt.Errorf("vlog: write record header: %w", err)
	}
	if _, err := l.file.WriteAt(payload, off+recordHeaderSize); err != nil {
		return 0, fmt.Errorf("vlog: write payload: %w", err)
	}

	l.index.put(id, off, l.dimension, ts)
	atomic.AddInt64(&l.recordCount, 1)
	atomic.StoreInt64(&l.liveCount, int64(l.index.liveCount()))
	if id >= atomic.LoadUint64(&l.nextID) {
		atomic.StoreUint64(&l.nextID, id+1)
	}
	atomic.StoreUint64(&l.modifiedAt, ts)
	if err := l.syncHeader(); err != nil {
		return 0, err
	}
	return id, nil
}

// Get returns the live vector stored under id.
func (l *Log) Get(id uint64) ([]float32, error) {
	e := l.index.get(id)
	if e == nil || e.tombstoned {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return l.readAt(e)
}

// Delete tombstones id's record. It is idempotent-failing: deleting an
// already-deleted or unknown id reports ErrNotFound.
func (l *Log) Delete(id uint64) error {
	e := l.index.get(id)
	if e == nil || e.tombstoned {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if _, err := l.file.WriteAt([]byte{1}, e.offset+tombstoneByteOffset); err != nil {
		return fmt.Errorf("vlog: write tombstone: %w", err)
	}
	l.index.tombstone(id)
	atomic.StoreInt64(&l.liveCount, int64(l.index.liveCount()))
	atomic.StoreUint64(&l.modifiedAt, uint64(nowUnix()))
	return l.syncHeader()
}

// Scan calls fn for every live record in key-index bucket order (not
// insertion order). fn returning false stops the scan early. Used by the
// engine's brute-force fallback and by HNSW rebuilds triggered outside Open.
func (l *Log) Scan(fn func(Record) bool) error {
	var scanErr error
	l.index.each(func(id uint64, offset int64) bool {
		e := l.index.get(id)
		if e == nil {
			return true
		}
		vec, err := l.readAt(e)
		if err != nil {
			scanErr = err
			return false
		}
		return fn(Record{ID: id, Vector: vec, Timestamp: e.timestamp})
	})
	return scanErr
}

// Dimension reports the fixed vector width this log stores.
func (l *Log) Dimension() uint32 { return l.dimension }

// Metric reports the similarity metric recorded in the file header.
func (l *Log) Metric() similarity.Metric { return l.metric }

// Stats returns a snapshot of the log's counters.
func (l *Log) Stats() Stats {
	return Stats{
		Path:      l.path,
		Dimension: l.dimension,
		Metric:    l.metric,
		LiveCount: atomic.LoadInt64(&l.liveCount),
		NextID:    atomic.LoadUint64(&l.nextID),
		Records:   atomic.LoadInt64(&l.recordCount),
	}
}

// Close flushes the header and closes the underlying file.
func (l *Log) Close() error {
	if err := l.syncHeader(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

// Drop closes and removes the log file from disk.
func (l *Log) Drop() error {
	l.file.Close()
	return os.Remove(l.path)
}

func (l *Log) readAt(e *entry) ([]float32, error) {
	rbuf := make([]byte, recordHeaderSize)
	if _, err := l.file.ReadAt(rbuf, e.offset); err != nil {
		return nil, fmt.Errorf("%w: record read at %d: %v", ErrCorrupt, e.offset, err)
	}
	rh, err := unmarshalRecordHeader(rbuf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	payloadLen := int(rh.Dimension) * 4
	if rh.PayloadLen != 0 {
		payloadLen = int(rh.PayloadLen)
	}
	payload := make([]byte, payloadLen)
	if _, err := l.file.ReadAt(payload, e.offset+recordHeaderSize); err != nil {
		return nil, fmt.Errorf("%w: payload read at %d: %v", ErrCorrupt, e.offset, err)
	}
	return l.codec.Decode(payload, rh.Dimension)
}

func (l *Log) syncHeader() error {
	h := fileHeader{
		Magic:      fileMagic,
		Version:    fileVersion,
		Dimension:  l.dimension,
		Metric:     metricCode(l.metric),
		LiveCount:  uint64(atomic.LoadInt64(&l.liveCount)),
		NextID:     atomic.LoadUint64(&l.nextID),
		CreatedAt:  l.createdAt,
		ModifiedAt: atomic.LoadUint64(&l.modifiedAt),
	}
	if _, err := l.file.WriteAt(h.marshal(), 0); err != nil {
		return fmt.Errorf("vlog: sync header: %w", err)
	}
	return l.file.Sync()
}
