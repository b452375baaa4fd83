package storage

import "sync"

// MemoryBackend stores vectors in a growable slot array indexed by node id.
// A nil slot marks an id that was never written. All mutating operations are
// serialized by a single mutex.
type MemoryBackend struct {
	mu    sync.Mutex
	slots [][]float32
	stats IOStats
}

// NewMemoryBackend returns an empty in-process store.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) ReadNode(id uint64) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id >= uint64(len(m.slots)) || m.slots[id] == nil {
		return nil, &NotFoundError{ID: id}
	}
	out := make([]float32, len(m.slots[id]))
	copy(out, m.slots[id])
	m.stats.recordRead(len(out)*4, 0)
	return out, nil
}

func (m *MemoryBackend) WriteNode(id uint64, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for uint64(len(m.slots)) <= id {
		m.slots = append(m.slots, nil)
	}
	stored := make([]float32, len(vec))
	copy(stored, vec)
	m.slots[id] = stored
	m.stats.recordWrite(len(vec)*4, 0)
	return nil
}

func (m *MemoryBackend) BatchReadNodes(ids []uint64) [][]float32 {
	out := make([][]float32, len(ids))
	for i, id := range ids {
		vec, err := m.ReadNode(id)
		if err != nil {
			continue
		}
		out[i] = vec
	}
	return out
}

func (m *MemoryBackend) Stats() IOStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *MemoryBackend) ResetStats() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.reset()
}

// Len returns the number of occupied slots.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.slots {
		if s != nil {
			n++
		}
	}
	return n
}
