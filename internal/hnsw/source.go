package hnsw

import "github.com/cwbudde/vectier/internal/storage"

// VectorSource supplies vector payloads by node id. The graph never caches
// payloads across operations; whether a read hits DRAM, a tier, or a device
// model is the source's business.
type VectorSource interface {
	Vector(id uint64) ([]float32, error)
}

// SliceSource serves payloads from a resident slice, for the pure in-memory
// mode. The slice is indexed directly by node id.
type SliceSource struct {
	Vectors [][]float32
}

func (s *SliceSource) Vector(id uint64) ([]float32, error) {
	if id >= uint64(len(s.Vectors)) || s.Vectors[id] == nil {
		return nil, &storage.NotFoundError{ID: id}
	}
	return s.Vectors[id], nil
}

// BackendSource serves payloads through a storage backend, typically a
// tiered one. Every read is a backend read; the per-query hot set layered
// on top by the index keeps one operation from re-reading the same node.
type BackendSource struct {
	Backend storage.Backend
}

func (s *BackendSource) Vector(id uint64) ([]float32, error) {
	return s.Backend.ReadNode(id)
}
