package hnsw

import (
	"container/heap"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cwbudde/vectier/internal/storage"
	"github.com/cwbudde/vectier/internal/vecmath"
)

// Result is a single search hit.
type Result struct {
	ID       uint64
	Distance float32
}

// Index is a hierarchical navigable small-world graph.
//
// The adjacency is a pointer-free arena: per-node level metadata in levels
// and ragged neighbor arrays in friends, both indexed by node id. Edges are
// plain ids; there are no owning references between nodes. Higher layers
// contain exponentially fewer nodes and act as express lanes; layer 0
// contains every node.
//
// The graph is built once and read-only during queries. Search is safe for
// concurrent use; Insert is not concurrent with anything.
type Index struct {
	mu  sync.RWMutex
	cfg Config

	levels  []int32      // levels[id] = top layer of node id
	friends [][][]uint64 // friends[id][layer] = neighbor ids, ascending distance at selection time

	entry    int64 // entry point id; -1 while empty
	maxLevel int
	count    int

	rng      *rand.Rand
	levelMul float64

	source     VectorSource
	readErrors atomic.Uint64
}

// New creates an empty index reading payloads from source.
func New(cfg Config, source VectorSource) (*Index, error) {
	if cfg.Dim <= 0 {
		return nil, &storage.InvalidParameterError{Param: "dim", Reason: "must be positive"}
	}
	cfg.setDefaults()
	return &Index{
		cfg:      cfg,
		entry:    -1,
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		levelMul: cfg.levelMul(),
		source:   source,
	}, nil
}

// Config returns the index configuration (defaults applied).
func (h *Index) Config() Config {
	return h.cfg
}

// Len returns the number of indexed vectors.
func (h *Index) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// MaxLevel returns the highest occupied layer.
func (h *Index) MaxLevel() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.maxLevel
}

// EntryPoint returns the entry node id, or false while the graph is empty.
func (h *Index) EntryPoint() (uint64, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.entry < 0 {
		return 0, false
	}
	return uint64(h.entry), true
}

// ReadErrors returns the number of payload reads absorbed during search and
// insertion.
func (h *Index) ReadErrors() uint64 {
	return h.readErrors.Load()
}

// Neighbors returns the neighbor list of id at the given layer. The returned
// slice is the arena's; callers must not mutate it.
func (h *Index) Neighbors(id uint64, layer int) []uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if id >= uint64(len(h.friends)) || layer >= len(h.friends[id]) {
		return nil
	}
	return h.friends[id][layer]
}

// Level returns the top layer of id.
func (h *Index) Level(id uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if id >= uint64(len(h.levels)) {
		return -1
	}
	return int(h.levels[id])
}

// randomLevel draws a layer from the geometric distribution
// P(level >= l) = exp(-l·ln(M)) using the seeded generator.
func (h *Index) randomLevel() int {
	r := max(h.rng.Float64(), math.SmallestNonzeroFloat64)
	level := int(-math.Log(r) * h.levelMul)
	if level > 31 {
		level = 31
	}
	return level
}

// vectorFor resolves a payload, consulting the per-operation hot set first.
// A failed read reports ok=false; the caller treats the node as infinitely
// distant so the walk makes progress.
func (h *Index) vectorFor(id uint64, hot map[uint64][]float32) ([]float32, bool) {
	if v, ok := hot[id]; ok {
		return v, true
	}
	v, err := h.source.Vector(id)
	if err != nil {
		h.readErrors.Add(1)
		return nil, false
	}
	hot[id] = v
	return v, true
}

func (h *Index) distTo(q []float32, id uint64, hot map[uint64][]float32) float32 {
	v, ok := h.vectorFor(id, hot)
	if !ok {
		return float32(math.Inf(1))
	}
	return vecmath.Distance(h.cfg.Metric, q, v)
}

// Insert adds a vector to the graph. Node ids are expected to be dense; the
// arena grows to cover id. The payload must already be readable from the
// index's VectorSource under the same id; vec is used directly for the
// insertion-time distance computations.
//
// A dimension mismatch is fatal for the build and returned unchanged.
func (h *Index) Insert(id uint64, vec []float32) error {
	if len(vec) != h.cfg.Dim {
		return &storage.DimensionMismatchError{Got: len(vec), Want: h.cfg.Dim}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for uint64(len(h.levels)) <= id {
		h.levels = append(h.levels, 0)
		h.friends = append(h.friends, nil)
	}

	level := h.randomLevel()
	h.levels[id] = int32(level)
	h.friends[id] = make([][]uint64, level+1)
	h.count++

	hot := map[uint64][]float32{id: vec}

	// First node becomes the entry point.
	if h.entry < 0 {
		h.entry = int64(id)
		h.maxLevel = level
		return nil
	}

	// Phase 1: greedy descent through layers above the new node's level,
	// tracking only the single nearest node (no ef widening).
	cur := uint64(h.entry)
	curDist := h.distTo(vec, cur, hot)
	for lev := h.maxLevel; lev > level; lev-- {
		cur, curDist = h.greedyStep(vec, cur, curDist, lev, hot)
	}

	// Phase 2: per layer from min(level, maxLevel) down to 0, run the
	// bounded best-first search, pick diverse neighbors, connect both ways.
	topInsert := min(level, h.maxLevel)
	ep := []distItem{{id: cur, dist: curDist}}
	for lev := topInsert; lev >= 0; lev-- {
		candidates := h.searchLayer(vec, ep, h.cfg.EfConstruction, lev, hot)

		maxC := h.cfg.maxConns(lev)
		neighbors := h.selectHeuristic(vec, candidates, maxC, hot)
		ids := make([]uint64, len(neighbors))
		for i, nb := range neighbors {
			ids[i] = nb.id
		}
		h.friends[id][lev] = ids

		for _, nb := range neighbors {
			h.friends[nb.id][lev] = append(h.friends[nb.id][lev], id)
			if len(h.friends[nb.id][lev]) > maxC {
				h.shrinkNeighbors(nb.id, lev, maxC, hot)
			}
		}

		ep = candidates
	}

	if level > h.maxLevel {
		h.entry = int64(id)
		h.maxLevel = level
	}
	return nil
}

// greedyStep walks to the locally nearest neighbor of cur at layer lev until
// no neighbor improves on curDist.
func (h *Index) greedyStep(q []float32, cur uint64, curDist float32, lev int, hot map[uint64][]float32) (uint64, float32) {
	for changed := true; changed; {
		changed = false
		if lev >= len(h.friends[cur]) {
			break
		}
		for _, fid := range h.friends[cur][lev] {
			if d := h.distTo(q, fid, hot); d < curDist {
				cur, curDist = fid, d
				changed = true
			}
		}
	}
	return cur, curDist
}

// searchLayer is the bounded best-first walk over one layer: a candidate
// min-heap, a result max-heap capped at ef, and a visited set. It returns
// the surviving results (unordered).
func (h *Index) searchLayer(q []float32, entryPoints []distItem, ef, layer int, hot map[uint64][]float32) []distItem {
	visited := make(map[uint64]struct{}, ef*2)

	var candidates minDistHeap
	var results maxDistHeap

	for _, ep := range entryPoints {
		if _, seen := visited[ep.id]; seen {
			continue
		}
		visited[ep.id] = struct{}{}
		heap.Push(&candidates, ep)
		heap.Push(&results, ep)
		if results.Len() > ef {
			heap.Pop(&results)
		}
	}

	for candidates.Len() > 0 {
		closest := heap.Pop(&candidates).(distItem)
		if results.Len() >= ef && closest.dist > results[0].dist {
			break
		}
		if layer >= len(h.friends[closest.id]) {
			continue
		}

		for _, fid := range h.friends[closest.id][layer] {
			if _, seen := visited[fid]; seen {
				continue
			}
			visited[fid] = struct{}{}

			d := h.distTo(q, fid, hot)
			if results.Len() < ef || d < results[0].dist {
				heap.Push(&candidates, distItem{id: fid, dist: d})
				heap.Push(&results, distItem{id: fid, dist: d})
				if results.Len() > ef {
					heap.Pop(&results)
				}
			}
		}
	}

	return []distItem(results)
}

// selectHeuristic picks up to maxN diverse neighbors: candidates are
// considered in ascending distance and accepted only when closer to the
// query than to every neighbor accepted so far. This keeps edges spread
// around the query instead of clustered on one side.
func (h *Index) selectHeuristic(q []float32, candidates []distItem, maxN int, hot map[uint64][]float32) []distItem {
	sorted := make([]distItem, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].dist < sorted[j].dist })

	accepted := make([]distItem, 0, maxN)
	for _, c := range sorted {
		if len(accepted) >= maxN {
			break
		}
		cv, ok := h.vectorFor(c.id, hot)
		if !ok {
			continue
		}
		diverse := true
		for _, a := range accepted {
			av, ok := h.vectorFor(a.id, hot)
			if !ok {
				continue
			}
			if vecmath.Distance(h.cfg.Metric, cv, av) < c.dist {
				diverse = false
				break
			}
		}
		if diverse {
			accepted = append(accepted, c)
		}
	}
	return accepted
}

// shrinkNeighbors re-runs the selection heuristic from node id's own
// perspective over its overflowing neighbor list.
func (h *Index) shrinkNeighbors(id uint64, lev, maxC int, hot map[uint64][]float32) {
	qv, ok := h.vectorFor(id, hot)
	if !ok {
		// Payload unreadable; fall back to truncation so the cap holds.
		h.friends[id][lev] = h.friends[id][lev][:maxC]
		return
	}

	cands := make([]distItem, 0, len(h.friends[id][lev]))
	for _, fid := range h.friends[id][lev] {
		cands = append(cands, distItem{id: fid, dist: h.distTo(qv, fid, hot)})
	}
	selected := h.selectHeuristic(qv, cands, maxC, hot)

	ids := make([]uint64, len(selected))
	for i, s := range selected {
		ids[i] = s.id
	}
	h.friends[id][lev] = ids
}

// Search returns the k nearest ids to q, sorted by ascending distance. ef
// bounds the layer-0 candidate frontier; it must be at least k.
func (h *Index) Search(q []float32, k, ef int) ([]Result, error) {
	if len(q) != h.cfg.Dim {
		return nil, &storage.DimensionMismatchError{Got: len(q), Want: h.cfg.Dim}
	}
	if k < 1 {
		return nil, &storage.InvalidParameterError{Param: "k", Reason: "must be at least 1"}
	}
	if ef <= 0 {
		ef = h.cfg.EfSearch
	}
	if ef < k {
		return nil, &storage.InvalidParameterError{Param: "ef", Reason: "must be at least k"}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.entry < 0 {
		return nil, nil
	}

	hot := make(map[uint64][]float32, ef*2)

	// Greedy descent to layer 1.
	cur := uint64(h.entry)
	curDist := h.distTo(q, cur, hot)
	for lev := h.maxLevel; lev > 0; lev-- {
		cur, curDist = h.greedyStep(q, cur, curDist, lev, hot)
	}

	// Best-first search at layer 0.
	found := h.searchLayer(q, []distItem{{id: cur, dist: curDist}}, ef, 0, hot)

	sort.Slice(found, func(i, j int) bool { return found[i].dist < found[j].dist })
	if len(found) > k {
		found = found[:k]
	}
	out := make([]Result, len(found))
	for i, f := range found {
		out[i] = Result{ID: f.id, Distance: f.dist}
	}
	return out, nil
}
