package vecmath

import (
	"log/slog"
	"math"

	"golang.org/x/sys/cpu"
)

// Distance kernel interface for SIMD-accelerated similarity computation.
//
// This file defines the dispatch layer for computing distances between two
// float32 vectors of a common dimension, with runtime selection between an
// 8-lane unrolled implementation (on CPUs reporting AVX2 or ARM64 ASIMD) and
// a plain scalar fallback.
//
// Variants:
//   - kernels_scalar.go: scalar reference loops plus the 8-way unrolled
//     forms (8 independent accumulators, the shape the compiler turns into
//     packed 256-bit operations on AVX2 / ASIMD hardware).
//
// Both paths must agree bit-for-bit on integer-valued inputs and within
// float rounding otherwise; see kernels_test.go.

// Metric selects the distance function used by an index.
type Metric uint8

const (
	// MetricL2 is squared Euclidean distance (no square root).
	MetricL2 Metric = iota
	// MetricInnerProduct is the raw dot product.
	MetricInnerProduct
	// MetricCosine is cosine similarity with an epsilon-guarded denominator.
	MetricCosine
)

func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "l2"
	case MetricInnerProduct:
		return "ip"
	case MetricCosine:
		return "cosine"
	default:
		return "unknown"
	}
}

// cosineEpsilon guards the cosine denominator so zero-norm vectors yield a
// similarity of 0 instead of NaN.
const cosineEpsilon = 1e-8

// KernelBackend indicates which kernel variant is active.
type KernelBackend int

const (
	KernelScalar    KernelBackend = iota // plain scalar loops
	KernelUnrolled8                      // 8-lane unrolled (vectorizable)
)

func (b KernelBackend) String() string {
	switch b {
	case KernelUnrolled8:
		return "unrolled8"
	case KernelScalar:
		return "scalar"
	default:
		return "unknown"
	}
}

// ActiveKernelBackend reports which variant was selected at initialization.
var ActiveKernelBackend KernelBackend

type kernelFunc func(a, b []float32) float32

// Function pointers for runtime-dispatched kernels. Set by init() based on
// CPU feature detection.
var (
	l2SquaredKernel kernelFunc
	dotKernel       kernelFunc
	cosineKernel    kernelFunc
)

func init() {
	if cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD {
		ActiveKernelBackend = KernelUnrolled8
		l2SquaredKernel = l2SquaredUnrolled8
		dotKernel = dotUnrolled8
		cosineKernel = cosineUnrolled8
		slog.Debug("distance kernels initialized", "backend", "unrolled8", "lanes", 8)
	} else {
		ActiveKernelBackend = KernelScalar
		l2SquaredKernel = l2SquaredScalar
		dotKernel = dotScalar
		cosineKernel = cosineScalar
		slog.Debug("distance kernels initialized", "backend", "scalar", "reason", "no wide vector unit")
	}
}

// L2Squared returns the sum of squared differences between a and b.
// The square root is intentionally omitted; ordering is preserved without it.
func L2Squared(a, b []float32) float32 {
	return l2SquaredKernel(a, b)
}

// InnerProduct returns the dot product of a and b.
func InnerProduct(a, b []float32) float32 {
	return dotKernel(a, b)
}

// Cosine returns the cosine similarity of a and b. A zero-norm operand
// yields 0 rather than NaN.
func Cosine(a, b []float32) float32 {
	return cosineKernel(a, b)
}

// Distance evaluates the metric as a "smaller is nearer" comparator.
// Inner product and cosine are similarities, so they are negated here;
// callers can then use a single min-ordering everywhere.
func Distance(m Metric, a, b []float32) float32 {
	switch m {
	case MetricInnerProduct:
		return -InnerProduct(a, b)
	case MetricCosine:
		return -Cosine(a, b)
	default:
		return L2Squared(a, b)
	}
}

// Norm returns the Euclidean norm of v.
func Norm(v []float32) float32 {
	return float32(math.Sqrt(float64(dotKernel(v, v))))
}

// CompareKernelImplementations validates the active kernel against the scalar
// reference, returning true when the results agree within tolerance. Used by
// tests and available for host-side self-checks.
func CompareKernelImplementations(a, b []float32, tolerance float64) bool {
	pairs := [][2]float32{
		{l2SquaredScalar(a, b), l2SquaredKernel(a, b)},
		{dotScalar(a, b), dotKernel(a, b)},
		{cosineScalar(a, b), cosineKernel(a, b)},
	}
	for _, p := range pairs {
		diff := float64(p[0]) - float64(p[1])
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance {
			return false
		}
	}
	return true
}
