package storage

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cwbudde/vectier/internal/cache"
)

// TieredBackend fronts a backing Backend with a fixed-capacity DRAM cache
// and, optionally, an analytic SSD timing model. Cache hits are served under
// the tier lock; misses release the lock for the backing read and reacquire
// it to update counters and admit the entry.
type TieredBackend struct {
	mu       sync.Mutex
	backing  Backend
	entries  map[uint64][]float32
	policy   cache.Policy
	capacity int
	ssd      *SSDModel
	stats    IOStats
}

// NewTieredBackend builds a tier of the given capacity and policy over
// backing. ssd may be nil to disable device-time modeling.
func NewTieredBackend(backing Backend, capacity int, kind cache.Kind, ssd *SSDModel) (*TieredBackend, error) {
	if capacity < 1 {
		return nil, &InvalidParameterError{Param: "cache_capacity", Reason: "must be at least 1 in tiered mode"}
	}
	policy, err := cache.New(kind, capacity)
	if err != nil {
		return nil, err
	}
	slog.Debug("tiered backend created", "capacity", capacity, "policy", string(kind), "ssd_model", ssd != nil)
	return &TieredBackend{
		backing:  backing,
		entries:  make(map[uint64][]float32, capacity),
		policy:   policy,
		capacity: capacity,
		ssd:      ssd,
	}, nil
}

// Backing returns the store behind the tier.
func (t *TieredBackend) Backing() Backend {
	return t.backing
}

func (t *TieredBackend) ReadNode(id uint64) ([]float32, error) {
	t.mu.Lock()
	if vec, ok := t.entries[id]; ok {
		out := make([]float32, len(vec))
		copy(out, vec)
		t.policy.RecordAccess(id)
		t.stats.CacheHits++
		t.mu.Unlock()
		return out, nil
	}
	t.mu.Unlock()

	start := time.Now()
	vec, err := t.backing.ReadNode(id)
	if err != nil {
		return nil, err
	}
	elapsedUS := float64(time.Since(start).Nanoseconds()) / 1e3

	t.mu.Lock()
	t.stats.recordRead(len(vec)*4, elapsedUS)
	if t.ssd != nil {
		t.ssd.RecordRead(len(vec) * 4)
	}
	t.stats.CacheMisses++
	t.admitLocked(id, vec)
	t.mu.Unlock()

	out := make([]float32, len(vec))
	copy(out, vec)
	return out, nil
}

func (t *TieredBackend) WriteNode(id uint64, vec []float32) error {
	start := time.Now()
	if err := t.backing.WriteNode(id, vec); err != nil {
		return err
	}
	elapsedUS := float64(time.Since(start).Nanoseconds()) / 1e3

	t.mu.Lock()
	t.stats.recordWrite(len(vec)*4, elapsedUS)
	t.admitLocked(id, vec)
	t.mu.Unlock()
	return nil
}

// admitLocked inserts vec under id, evicting per policy when full.
// Caller holds t.mu.
func (t *TieredBackend) admitLocked(id uint64, vec []float32) {
	evicted, victim := t.policy.OnInsert(id)
	if evicted {
		delete(t.entries, victim)
	}
	stored := make([]float32, len(vec))
	copy(stored, vec)
	t.entries[id] = stored
}

func (t *TieredBackend) BatchReadNodes(ids []uint64) [][]float32 {
	out := make([][]float32, len(ids))
	for i, id := range ids {
		vec, err := t.ReadNode(id)
		if err != nil {
			continue
		}
		out[i] = vec
	}
	return out
}

// RecordLogicalReadBytes accounts n bytes of modeled reads against the stats
// and the SSD model without touching the backing store. Used by analytic
// traversal modes that never materialize the data on the host.
func (t *TieredBackend) RecordLogicalReadBytes(n int) {
	var serviceUS float64
	if t.ssd != nil {
		serviceUS = t.ssd.RecordRead(n)
	}
	t.mu.Lock()
	t.stats.recordRead(n, serviceUS)
	t.mu.Unlock()
}

// RecordLogicalWriteBytes is the write-side analogue of
// RecordLogicalReadBytes. The SSD model does not account writes.
func (t *TieredBackend) RecordLogicalWriteBytes(n int) {
	t.mu.Lock()
	t.stats.recordWrite(n, 0)
	t.mu.Unlock()
}

// DeviceTimeUS returns the modeled device service time, or 0 when the SSD
// model is disabled.
func (t *TieredBackend) DeviceTimeUS() float64 {
	if t.ssd == nil {
		return 0
	}
	return t.ssd.TotalTimeUS()
}

// HitRate returns the fraction of reads served from the cache, or 0 before
// any read.
func (t *TieredBackend) HitRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := t.stats.CacheHits + t.stats.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(t.stats.CacheHits) / float64(total)
}

// CacheLen returns the number of cached vectors.
func (t *TieredBackend) CacheLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Capacity returns the configured cache capacity.
func (t *TieredBackend) Capacity() int {
	return t.capacity
}

func (t *TieredBackend) Stats() IOStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// ResetStats zeroes the tier's counters and, when present, the SSD model it
// owns. The backing store's counters are left alone.
func (t *TieredBackend) ResetStats() {
	t.mu.Lock()
	t.stats.reset()
	t.mu.Unlock()
	if t.ssd != nil {
		t.ssd.ResetStats()
	}
}
