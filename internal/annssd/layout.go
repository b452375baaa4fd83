package annssd

import (
	"math/rand/v2"

	"github.com/cwbudde/vectier/internal/hnsw"
	"github.com/cwbudde/vectier/internal/storage"
)

// Placement selects how node ids are packed into blocks.
type Placement string

const (
	PlacementSequential    Placement = "sequential"
	PlacementLocalityAware Placement = "locality_aware"
)

// CodeType selects the optional intra-block acceleration structure.
type CodeType string

const (
	CodeNone       CodeType = "none"
	CodeMicroIndex CodeType = "micro_index"
)

// Mode selects how traversal cost and correctness are produced.
type Mode string

const (
	// ModeCheated computes correctness by a host-side scan over the
	// visited blocks and costs the device analytically.
	ModeCheated Mode = "cheated"
	// ModeFaithful steps a controller state machine through the storage
	// backend, block by block.
	ModeFaithful Mode = "faithful"
)

// Config parameterizes the layout and the traversal.
type Config struct {
	// VectorsPerBlock is Kpb, the number of vectors co-located per block.
	// Default: 64.
	VectorsPerBlock int
	// PortalDegree is the number of out-of-block edges kept per node.
	// Default: 4.
	PortalDegree int
	// MaxSteps bounds the number of blocks visited per query; 0 visits
	// every block.
	MaxSteps int
	// Placement selects the block packing. Default: sequential.
	Placement Placement
	// Code selects intra-block acceleration. Default: none.
	Code CodeType
	// Level tags the controller capability profile.
	Level HWLevel
	// Mode selects cheated or faithful traversal. Default: cheated.
	Mode Mode
	// Seed drives portal padding and random block starts.
	Seed uint64
}

func (c *Config) setDefaults() {
	if c.VectorsPerBlock <= 0 {
		c.VectorsPerBlock = 64
	}
	if c.PortalDegree <= 0 {
		c.PortalDegree = 4
	}
	if c.Placement == "" {
		c.Placement = PlacementSequential
	}
	if c.Code == "" {
		c.Code = CodeNone
	}
	if c.Mode == "" {
		c.Mode = ModeCheated
	}
}

// summaryStride subsamples every fourth dimension for micro-index
// summaries; the refined rescoring pass restores full precision.
const summaryStride = 4

// Layout is the block-resident arrangement of the node set: block
// membership, per-node portals, and the optional micro-index.
type Layout struct {
	kpb     int
	blocks  [][]uint64 // block -> member ids
	blockOf []uint32   // node id -> block
	portals [][]uint64 // node id -> portal targets in other blocks

	// Micro-index, present when CodeMicroIndex: one centroid per block
	// for coarse routing plus one subsampled summary per node for the
	// intra-block prune.
	centroids [][]float32
	summaries [][]float32
}

// NumBlocks returns the block count.
func (l *Layout) NumBlocks() int {
	return len(l.blocks)
}

// BlockOf returns the block holding a node.
func (l *Layout) BlockOf(id uint64) int {
	return int(l.blockOf[id])
}

// Block returns the member ids of a block.
func (l *Layout) Block(b int) []uint64 {
	return l.blocks[b]
}

// Portals returns the portal targets of a node.
func (l *Layout) Portals(id uint64) []uint64 {
	return l.portals[id]
}

// BuildLayout packs the n indexed vectors into blocks, derives portals from
// the graph's base layer, and builds the micro-index when configured.
// vectors is indexed by node id and must cover [0, n).
func BuildLayout(graph *hnsw.Index, vectors [][]float32, n int, cfg Config) (*Layout, error) {
	cfg.setDefaults()
	if n <= 0 {
		return nil, &storage.InvalidParameterError{Param: "n", Reason: "layout needs at least one vector"}
	}

	order := placementOrder(graph, n, cfg)

	l := &Layout{
		kpb:     cfg.VectorsPerBlock,
		blockOf: make([]uint32, n),
		portals: make([][]uint64, n),
	}
	for start := 0; start < n; start += cfg.VectorsPerBlock {
		end := min(start+cfg.VectorsPerBlock, n)
		block := make([]uint64, end-start)
		copy(block, order[start:end])
		b := uint32(len(l.blocks))
		for _, id := range block {
			l.blockOf[id] = b
		}
		l.blocks = append(l.blocks, block)
	}

	l.buildPortals(graph, n, cfg)

	if cfg.Code == CodeMicroIndex {
		l.buildMicroIndex(vectors)
	}
	return l, nil
}

// placementOrder returns node ids in block-packing order.
func placementOrder(graph *hnsw.Index, n int, cfg Config) []uint64 {
	order := make([]uint64, 0, n)
	if cfg.Placement != PlacementLocalityAware {
		for id := 0; id < n; id++ {
			order = append(order, uint64(id))
		}
		return order
	}

	// Locality-aware packing: breadth-first over the base layer so graph
	// neighbors land in the same or adjacent blocks; nodes unreachable
	// from the entry point are appended in id order.
	placed := make([]bool, n)
	start := uint64(0)
	if entry, ok := graph.EntryPoint(); ok {
		start = entry
	}
	queue := []uint64{start}
	placed[start] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		order = append(order, cur)
		for _, nb := range graph.Neighbors(cur, 0) {
			if int(nb) < n && !placed[nb] {
				placed[nb] = true
				queue = append(queue, nb)
			}
		}
	}
	for id := 0; id < n; id++ {
		if !placed[id] {
			order = append(order, uint64(id))
		}
	}
	return order
}

// buildPortals keeps up to PortalDegree cross-block base-layer edges per
// node, padding with seeded random foreign targets when the graph does not
// supply enough.
func (l *Layout) buildPortals(graph *hnsw.Index, n int, cfg Config) {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0xa5a5a5a5a5a5a5a5))

	for id := 0; id < n; id++ {
		node := uint64(id)
		home := l.blockOf[node]
		targets := make([]uint64, 0, cfg.PortalDegree)
		seen := make(map[uint64]bool)

		for _, nb := range graph.Neighbors(node, 0) {
			if len(targets) >= cfg.PortalDegree {
				break
			}
			if int(nb) >= n || l.blockOf[nb] == home || seen[nb] {
				continue
			}
			seen[nb] = true
			targets = append(targets, nb)
		}

		// Pad with random foreign nodes; a single-block layout has no
		// foreign targets at all.
		if len(l.blocks) > 1 {
			for attempts := 0; len(targets) < cfg.PortalDegree && attempts < 16*cfg.PortalDegree; attempts++ {
				cand := uint64(rng.IntN(n))
				if l.blockOf[cand] == home || seen[cand] {
					continue
				}
				seen[cand] = true
				targets = append(targets, cand)
			}
		}
		l.portals[node] = targets
	}
}

// buildMicroIndex computes per-block centroids and per-node subsampled
// summaries.
func (l *Layout) buildMicroIndex(vectors [][]float32) {
	if len(vectors) == 0 {
		return
	}
	dim := len(vectors[0])

	l.centroids = make([][]float32, len(l.blocks))
	for b, members := range l.blocks {
		centroid := make([]float32, dim)
		for _, id := range members {
			for j, v := range vectors[id] {
				centroid[j] += v
			}
		}
		for j := range centroid {
			centroid[j] /= float32(len(members))
		}
		l.centroids[b] = centroid
	}

	l.summaries = make([][]float32, len(vectors))
	for id, v := range vectors {
		l.summaries[id] = subsample(v)
	}
}

func subsample(v []float32) []float32 {
	out := make([]float32, 0, (len(v)+summaryStride-1)/summaryStride)
	for i := 0; i < len(v); i += summaryStride {
		out = append(out, v[i])
	}
	return out
}
