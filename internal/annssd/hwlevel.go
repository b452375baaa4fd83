// Package annssd approximates graph-guided nearest-neighbor traversal
// executed on an SSD controller without host DRAM. Vectors are packed into
// fixed-size blocks; traversal hops between blocks over portal edges and is
// costed against a controller-capability profile.
package annssd

import "fmt"

// HWLevel tags a controller-capability profile.
type HWLevel uint8

const (
	LevelL0 HWLevel = iota // slow controller, no SIMD
	LevelL1                // SIMD on controller
	LevelL2                // SIMD plus multiple compute units
	LevelL3                // full-parallel ideal controller
)

func (l HWLevel) String() string {
	switch l {
	case LevelL0:
		return "L0"
	case LevelL1:
		return "L1"
	case LevelL2:
		return "L2"
	case LevelL3:
		return "L3"
	default:
		return "unknown"
	}
}

// ParseHWLevel converts a config string to a level tag.
func ParseHWLevel(s string) (HWLevel, error) {
	switch s {
	case "L0", "l0":
		return LevelL0, nil
	case "L1", "l1":
		return LevelL1, nil
	case "L2", "l2":
		return LevelL2, nil
	case "L3", "l3":
		return LevelL3, nil
	default:
		return 0, fmt.Errorf("unknown hardware level %q", s)
	}
}

// LevelProfile holds the fixed per-operation costs of a controller level.
//
// Known approximations: the constants below are first-order estimates in the
// spirit of embedded ARM cores (L0), the same core with 128-bit vector
// units (L1), a multi-core scoring pipeline (L2), and an idealized
// all-parallel controller (L3). They exist to separate the levels by
// realistic ratios, not to model a specific part.
type LevelProfile struct {
	// ScanNSPerVector is the distance-computation cost per vector in
	// nanoseconds, before dividing across compute units.
	ScanNSPerVector float64
	// ComputeUnits is the number of scoring units working one block.
	ComputeUnits int
	// BlockOverheadUS is the fixed per-block setup cost in microseconds
	// (command issue, buffer turnaround).
	BlockOverheadUS float64
}

// Profile returns the cost profile for the level.
func (l HWLevel) Profile() LevelProfile {
	switch l {
	case LevelL1:
		return LevelProfile{ScanNSPerVector: 40, ComputeUnits: 1, BlockOverheadUS: 1.2}
	case LevelL2:
		return LevelProfile{ScanNSPerVector: 40, ComputeUnits: 4, BlockOverheadUS: 0.8}
	case LevelL3:
		return LevelProfile{ScanNSPerVector: 5, ComputeUnits: 16, BlockOverheadUS: 0.2}
	default: // LevelL0
		return LevelProfile{ScanNSPerVector: 300, ComputeUnits: 1, BlockOverheadUS: 2.5}
	}
}

// blockComputeUS returns the modeled controller time for one block visit
// that fully scores nFull vectors and summary-scores nSummary vectors of
// the given dimension. Summary scoring touches 1/summaryStride of the
// dimensions.
func (p LevelProfile) blockComputeUS(nFull, nSummary, dim int) float64 {
	perVec := p.ScanNSPerVector * float64(dim) / 128.0 // profiles calibrated at dim 128
	units := p.ComputeUnits
	if units < 1 {
		units = 1
	}
	work := perVec * (float64(nFull) + float64(nSummary)/summaryStride)
	return p.BlockOverheadUS + work/float64(units)/1e3
}
