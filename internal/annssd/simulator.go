package annssd

import (
	"container/heap"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/cwbudde/vectier/internal/storage"
	"github.com/cwbudde/vectier/internal/vecmath"
)

// Result is a single hit from an in-storage traversal.
type Result struct {
	ID       uint64
	Distance float32
}

// Report describes what one traversal did and what it cost on the modeled
// controller. Device service time is accounted separately by the tiered
// backend's SSD model.
type Report struct {
	Mode             Mode
	BlocksVisited    int
	VectorsScored    int
	ControllerTimeUS float64
}

// Simulator replays graph-in-flash k-NN traversal over a block layout.
//
// In cheated mode the host scans the visited blocks directly and the device
// cost is charged analytically through the tier's logical-read accounting.
// In faithful mode every block is fetched through the storage backend, so
// cache and device model see the real access stream. Both modes walk the
// same blocks in the same order and produce the same top-k.
type Simulator struct {
	cfg     Config
	dim     int
	metric  vecmath.Metric
	layout  *Layout
	vectors [][]float32
	tier    *storage.TieredBackend

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator wires a traversal simulator over a prebuilt layout. vectors
// is the host-resident payload array indexed by node id; tier may be nil to
// disable storage accounting (cheated mode only).
func NewSimulator(layout *Layout, vectors [][]float32, dim int, metric vecmath.Metric, cfg Config, tier *storage.TieredBackend) (*Simulator, error) {
	cfg.setDefaults()
	if layout == nil || layout.NumBlocks() == 0 {
		return nil, &storage.InvalidParameterError{Param: "layout", Reason: "must hold at least one block"}
	}
	if cfg.Mode == ModeFaithful && tier == nil {
		return nil, &storage.InvalidParameterError{Param: "ann_ssd_mode", Reason: "faithful mode needs a storage backend"}
	}
	return &Simulator{
		cfg:     cfg,
		dim:     dim,
		metric:  metric,
		layout:  layout,
		vectors: vectors,
		tier:    tier,
		rng:     rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x517cc1b727220a95)),
	}, nil
}

// maxHeap over results, farthest on top, for the bounded global top-k.
type resultHeap []Result

func (h resultHeap) Len() int           { return len(h) }
func (h resultHeap) Less(i, j int) bool { return h[i].Distance > h[j].Distance }
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x any)        { *h = append(*h, x.(Result)) }
func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Search runs one traversal and returns the k nearest ids found among the
// visited blocks, sorted ascending by distance.
func (s *Simulator) Search(q []float32, k int) ([]Result, Report, error) {
	report := Report{Mode: s.cfg.Mode}
	if k < 1 {
		return nil, report, &storage.InvalidParameterError{Param: "k", Reason: "must be at least 1"}
	}
	if len(q) != s.dim {
		return nil, report, &storage.DimensionMismatchError{Got: len(q), Want: s.dim}
	}

	numBlocks := s.layout.NumBlocks()
	budget := s.cfg.MaxSteps
	if budget <= 0 || budget > numBlocks {
		budget = numBlocks
	}
	// An unbounded walk visits every block, so the micro-index prune can
	// only lose candidates without saving a visit; full sweeps must match
	// a brute-force scan exactly, so the prune is bypassed.
	prune := s.cfg.Code == CodeMicroIndex && budget < numBlocks

	profile := s.cfg.Level.Profile()
	visited := make([]bool, numBlocks)
	var topk resultHeap

	cur := s.startBlock(q)
	for step := 0; step < budget && cur >= 0; step++ {
		visited[cur] = true
		report.BlocksVisited++

		members := s.layout.Block(cur)
		payloads := s.fetchBlock(members)

		nFull, nSummary := s.scoreBlock(q, members, payloads, k, prune, &topk)
		report.VectorsScored += nFull
		report.ControllerTimeUS += profile.blockComputeUS(nFull, nSummary, s.dim)

		cur = s.nextBlock(topk, visited)
	}

	out := make([]Result, len(topk))
	copy(out, topk)
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > k {
		out = out[:k]
	}
	return out, report, nil
}

// startBlock picks the first block: the nearest centroid when the
// micro-index provides coarse routing, a seeded random block otherwise.
func (s *Simulator) startBlock(q []float32) int {
	if s.cfg.Code == CodeMicroIndex && len(s.layout.centroids) > 0 {
		best, bestDist := 0, float32(math.Inf(1))
		for b, c := range s.layout.centroids {
			if d := vecmath.Distance(s.metric, q, c); d < bestDist {
				best, bestDist = b, d
			}
		}
		return best
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(s.layout.NumBlocks())
}

// fetchBlock obtains the block payloads: a real backend read in faithful
// mode (feeding cache and device model), an analytic charge in cheated
// mode with the host copy serving the scan.
func (s *Simulator) fetchBlock(members []uint64) [][]float32 {
	if s.cfg.Mode == ModeFaithful {
		return s.tier.BatchReadNodes(members)
	}
	if s.tier != nil {
		s.tier.RecordLogicalReadBytes(len(members) * s.dim * 4)
	}
	payloads := make([][]float32, len(members))
	for i, id := range members {
		payloads[i] = s.vectors[id]
	}
	return payloads
}

// scoreBlock updates the bounded top-k with the block's members. When prune
// is set, the subsampled summaries narrow the block to a refined subset
// before full scoring; otherwise every member is fully scored. Returns the
// number of fully scored and summary-scored vectors.
func (s *Simulator) scoreBlock(q []float32, members []uint64, payloads [][]float32, k int, prune bool, topk *resultHeap) (nFull, nSummary int) {
	refine := members
	if prune && s.layout.summaries != nil {
		refine = s.pruneBySummary(q, members, k)
		nSummary = len(members)
	}

	index := make(map[uint64]int, len(members))
	for i, id := range members {
		index[id] = i
	}

	for _, id := range refine {
		v := payloads[index[id]]
		if v == nil {
			// Absorbed read failure: the candidate is unreachable this
			// pass and simply does not score.
			continue
		}
		d := vecmath.Distance(s.metric, q, v)
		nFull++
		if topk.Len() < k {
			heap.Push(topk, Result{ID: id, Distance: d})
		} else if d < (*topk)[0].Distance {
			heap.Pop(topk)
			heap.Push(topk, Result{ID: id, Distance: d})
		}
	}
	return nFull, nSummary
}

// pruneBySummary ranks members by subsampled-summary distance and keeps the
// top quarter, never fewer than k.
func (s *Simulator) pruneBySummary(q []float32, members []uint64, k int) []uint64 {
	qs := subsample(q)
	type scored struct {
		id   uint64
		dist float32
	}
	items := make([]scored, len(members))
	for i, id := range members {
		items[i] = scored{id: id, dist: vecmath.Distance(s.metric, qs, s.layout.summaries[id])}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].dist < items[j].dist })

	keep := (len(members) + 3) / 4
	if keep < k {
		keep = k
	}
	if keep > len(items) {
		keep = len(items)
	}
	out := make([]uint64, keep)
	for i := range out {
		out[i] = items[i].id
	}
	return out
}

// nextBlock picks the best portal off the current frontier: candidates in
// ascending distance order, their portals in stored order, first target in
// an unvisited block wins. When the frontier offers nothing new the sweep
// falls back to the lowest-numbered unvisited block.
func (s *Simulator) nextBlock(topk resultHeap, visited []bool) int {
	frontier := make([]Result, len(topk))
	copy(frontier, topk)
	sort.Slice(frontier, func(i, j int) bool { return frontier[i].Distance < frontier[j].Distance })

	for _, cand := range frontier {
		for _, target := range s.layout.Portals(cand.ID) {
			if b := s.layout.BlockOf(target); !visited[b] {
				return b
			}
		}
	}
	for b, seen := range visited {
		if !seen {
			return b
		}
	}
	return -1
}
