package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"
)

// FileBackend stores vectors in a flat binary file of fixed-size records:
// record i occupies bytes [i*D*4, (i+1)*D*4), little-endian float32, no
// header. The dimension is fixed at construction; a zero dimension is
// adopted from the first write.
//
// The file is single-writer. Reads use positional I/O and do not share a
// file offset, so concurrent reads are safe as long as the host keeps
// writes exclusive.
type FileBackend struct {
	mu    sync.Mutex
	f     *os.File
	path  string
	dim   int
	stats IOStats
}

// NewFileBackend opens (creating if needed) the flat vector file at path.
// dim may be 0, in which case the dimension is adopted from the first write.
func NewFileBackend(path string, dim int) (*FileBackend, error) {
	if dim < 0 {
		return nil, &InvalidParameterError{Param: "dim", Reason: "must be non-negative"}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector file: %w", err)
	}
	slog.Debug("file backend opened", "path", path, "dim", dim)
	return &FileBackend{f: f, path: path, dim: dim}, nil
}

// Close releases the underlying file handle.
func (fb *FileBackend) Close() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.f.Close()
}

// Dim returns the record dimension, 0 if not yet adopted.
func (fb *FileBackend) Dim() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.dim
}

func (fb *FileBackend) ReadNode(id uint64) ([]float32, error) {
	fb.mu.Lock()
	dim := fb.dim
	fb.mu.Unlock()

	if dim == 0 {
		return nil, &NotFoundError{ID: id}
	}

	buf := make([]byte, dim*4)
	start := time.Now()
	n, err := fb.f.ReadAt(buf, int64(id)*int64(dim)*4)
	elapsed := float64(time.Since(start).Nanoseconds()) / 1e3
	if err == io.EOF && n == len(buf) {
		err = nil // full record read at exact end of file
	}
	if err != nil {
		if err == io.EOF {
			return nil, &NotFoundError{ID: id}
		}
		return nil, fmt.Errorf("failed to read node %d: %w", id, err)
	}

	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}

	fb.mu.Lock()
	fb.stats.recordRead(len(buf), elapsed)
	fb.mu.Unlock()
	return vec, nil
}

func (fb *FileBackend) WriteNode(id uint64, vec []float32) error {
	fb.mu.Lock()
	if fb.dim == 0 {
		fb.dim = len(vec)
	}
	dim := fb.dim
	fb.mu.Unlock()

	if len(vec) != dim {
		return &DimensionMismatchError{Got: len(vec), Want: dim}
	}

	buf := make([]byte, dim*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}

	start := time.Now()
	if _, err := fb.f.WriteAt(buf, int64(id)*int64(dim)*4); err != nil {
		return fmt.Errorf("failed to write node %d: %w", id, err)
	}
	elapsed := float64(time.Since(start).Nanoseconds()) / 1e3

	fb.mu.Lock()
	fb.stats.recordWrite(len(buf), elapsed)
	fb.mu.Unlock()
	return nil
}

func (fb *FileBackend) BatchReadNodes(ids []uint64) [][]float32 {
	out := make([][]float32, len(ids))
	for i, id := range ids {
		vec, err := fb.ReadNode(id)
		if err != nil {
			continue
		}
		out[i] = vec
	}
	return out
}

func (fb *FileBackend) Stats() IOStats {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.stats
}

func (fb *FileBackend) ResetStats() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.stats.reset()
}
