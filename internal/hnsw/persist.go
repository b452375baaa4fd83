package hnsw

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cwbudde/vectier/internal/vecmath"
)

// Binary index format. Topology only: vector payloads stay with the storage
// backend, so the file stays small and one graph can front several payload
// placements.
//
// Layout (little-endian):
//
//	magic "HNSW" (4 bytes), version u32
//	dimension u64, M u64, M_max0 u64, ef_construction u64,
//	num_vectors u64, max_level u32, entry_point u64, metric u8
//	per node: level u32; per layer 0..level: degree u32, degree × u64 ids
const (
	indexMagic    = "HNSW"
	formatVersion = uint32(1)
)

// CorruptFormatError reports an index file that failed validation. Loading
// leaves the target index empty.
type CorruptFormatError struct {
	Detail string
}

func (e *CorruptFormatError) Error() string {
	return "corrupt index file: " + e.Detail
}

func (e *CorruptFormatError) Is(target error) bool {
	_, ok := target.(*CorruptFormatError)
	return ok
}

// ErrCorruptFormat is the comparison target for CorruptFormatError.
var ErrCorruptFormat = &CorruptFormatError{}

// Save writes the graph topology to w.
func (h *Index) Save(w io.Writer) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	bw := bufio.NewWriter(w)
	le := binary.LittleEndian

	if _, err := bw.WriteString(indexMagic); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := binary.Write(bw, le, formatVersion); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	header64 := []uint64{
		uint64(h.cfg.Dim),
		uint64(h.cfg.M),
		uint64(h.cfg.maxConns(0)),
		uint64(h.cfg.EfConstruction),
		uint64(len(h.levels)),
	}
	for _, v := range header64 {
		if err := binary.Write(bw, le, v); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	if err := binary.Write(bw, le, uint32(h.maxLevel)); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	entry := uint64(0)
	if h.entry >= 0 {
		entry = uint64(h.entry)
	}
	if err := binary.Write(bw, le, entry); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := bw.WriteByte(byte(h.cfg.Metric)); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for id := range h.levels {
		if err := binary.Write(bw, le, uint32(h.levels[id])); err != nil {
			return fmt.Errorf("failed to write node %d: %w", id, err)
		}
		for lev := 0; lev <= int(h.levels[id]); lev++ {
			var neighbors []uint64
			if lev < len(h.friends[id]) {
				neighbors = h.friends[id][lev]
			}
			if err := binary.Write(bw, le, uint32(len(neighbors))); err != nil {
				return fmt.Errorf("failed to write node %d: %w", id, err)
			}
			for _, n := range neighbors {
				if err := binary.Write(bw, le, n); err != nil {
					return fmt.Errorf("failed to write node %d: %w", id, err)
				}
			}
		}
	}

	return bw.Flush()
}

// Load replaces the graph topology with the contents of r. On any failure
// the index is left empty.
func (h *Index) Load(r io.Reader) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.loadLocked(r); err != nil {
		h.levels = nil
		h.friends = nil
		h.entry = -1
		h.maxLevel = 0
		h.count = 0
		return err
	}
	return nil
}

func (h *Index) loadLocked(r io.Reader) error {
	br := bufio.NewReader(r)
	le := binary.LittleEndian

	magic := make([]byte, 4)
	if _, err := io.ReadFull(br, magic); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	if string(magic) != indexMagic {
		return &CorruptFormatError{Detail: fmt.Sprintf("bad magic %q", magic)}
	}

	var version uint32
	if err := binary.Read(br, le, &version); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	if version != formatVersion {
		return &CorruptFormatError{Detail: fmt.Sprintf("unsupported version %d", version)}
	}

	var dim, m, mMax0, efc, numVectors uint64
	for _, p := range []*uint64{&dim, &m, &mMax0, &efc, &numVectors} {
		if err := binary.Read(br, le, p); err != nil {
			return fmt.Errorf("failed to read header: %w", err)
		}
	}
	var maxLevel uint32
	if err := binary.Read(br, le, &maxLevel); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	var entry uint64
	if err := binary.Read(br, le, &entry); err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	metricByte, err := br.ReadByte()
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	if metricByte > uint8(vecmath.MetricCosine) {
		return &CorruptFormatError{Detail: fmt.Sprintf("unknown metric %d", metricByte)}
	}
	if int(dim) != h.cfg.Dim {
		return &CorruptFormatError{Detail: fmt.Sprintf("dimension %d does not match configured %d", dim, h.cfg.Dim)}
	}
	if mMax0 != 2*m {
		return &CorruptFormatError{Detail: fmt.Sprintf("layer-0 cap %d is not 2*M (M=%d)", mMax0, m)}
	}
	if numVectors > 0 && entry >= numVectors {
		return &CorruptFormatError{Detail: fmt.Sprintf("entry point %d out of range", entry)}
	}

	levels := make([]int32, numVectors)
	friends := make([][][]uint64, numVectors)
	for id := uint64(0); id < numVectors; id++ {
		var level uint32
		if err := binary.Read(br, le, &level); err != nil {
			return fmt.Errorf("failed to read node %d: %w", id, err)
		}
		if int(level) > int(maxLevel) {
			return &CorruptFormatError{Detail: fmt.Sprintf("node %d level %d above max %d", id, level, maxLevel)}
		}
		levels[id] = int32(level)
		friends[id] = make([][]uint64, level+1)
		for lev := uint32(0); lev <= level; lev++ {
			var degree uint32
			if err := binary.Read(br, le, &degree); err != nil {
				return fmt.Errorf("failed to read node %d: %w", id, err)
			}
			neighbors := make([]uint64, degree)
			for i := range neighbors {
				if err := binary.Read(br, le, &neighbors[i]); err != nil {
					return fmt.Errorf("failed to read node %d: %w", id, err)
				}
				if neighbors[i] >= numVectors {
					return &CorruptFormatError{Detail: fmt.Sprintf("node %d neighbor %d out of range", id, neighbors[i])}
				}
			}
			friends[id][lev] = neighbors
		}
	}

	h.cfg.M = int(m)
	h.cfg.EfConstruction = int(efc)
	h.cfg.Metric = vecmath.Metric(metricByte)
	h.levels = levels
	h.friends = friends
	h.maxLevel = int(maxLevel)
	h.count = int(numVectors)
	if numVectors == 0 {
		h.entry = -1
	} else {
		h.entry = int64(entry)
	}

	slog.Debug("index loaded", "vectors", numVectors, "max_level", maxLevel, "metric", vecmath.Metric(metricByte).String())
	return nil
}

// SaveFile atomically writes the index to path via a temp file and rename.
func (h *Index) SaveFile(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}
	if err := h.Save(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close index file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename index file: %w", err)
	}
	slog.Debug("index saved", "path", path, "vectors", h.Len())
	return nil
}

// LoadFile reads the index from path.
func (h *Index) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer f.Close()
	return h.Load(f)
}
