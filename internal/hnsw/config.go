// Package hnsw implements a hierarchical navigable small-world proximity
// graph for approximate nearest-neighbor search. Vector payloads are read
// through a VectorSource, so the same graph code serves both a resident
// in-memory index and a tiered index whose payloads live behind a storage
// backend. Adjacency always stays in host memory.
package hnsw

import (
	"math"

	"github.com/cwbudde/vectier/internal/vecmath"
)

// Config configures a new [Index].
type Config struct {
	// Dim is the vector dimension. Required; must be positive.
	Dim int

	// M is the maximum number of connections per node per layer (except
	// layer 0, which allows 2*M). Higher values improve recall but
	// increase memory usage and insertion time. Default: 16.
	M int

	// EfConstruction is the size of the dynamic candidate list during
	// index building. Default: 200.
	EfConstruction int

	// EfSearch is the default candidate list size during queries; callers
	// may override it per search. Default: 50.
	EfSearch int

	// Metric selects the distance function. Default: MetricL2.
	Metric vecmath.Metric

	// Seed makes level assignment deterministic.
	Seed uint64
}

func (c *Config) setDefaults() {
	if c.M < 2 {
		c.M = 16
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 200
	}
	if c.EfSearch <= 0 {
		c.EfSearch = 50
	}
}

// maxConns returns the neighbor cap at the given layer. Layer 0 allows 2*M.
func (c *Config) maxConns(layer int) int {
	if layer == 0 {
		return c.M * 2
	}
	return c.M
}

// levelMul returns the geometric level parameter 1/ln(M).
func (c *Config) levelMul() float64 {
	return 1.0 / math.Log(float64(c.M))
}
