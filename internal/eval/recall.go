// Package eval computes retrieval-quality metrics against exhaustive-scan
// ground truth.
package eval

import (
	"sort"

	"github.com/cwbudde/vectier/internal/vecmath"
)

// Recall returns |retrieved ∩ truth| / |truth|. An empty truth set yields 0.
func Recall(retrieved, truth []uint64) float64 {
	if len(truth) == 0 {
		return 0
	}
	return float64(intersect(retrieved, truth)) / float64(len(truth))
}

// Precision returns |retrieved ∩ truth| / |retrieved|. An empty retrieved
// set yields 0.
func Precision(retrieved, truth []uint64) float64 {
	if len(retrieved) == 0 {
		return 0
	}
	return float64(intersect(retrieved, truth)) / float64(len(retrieved))
}

func intersect(a, b []uint64) int {
	set := make(map[uint64]struct{}, len(b))
	for _, id := range b {
		set[id] = struct{}{}
	}
	n := 0
	for _, id := range a {
		if _, ok := set[id]; ok {
			n++
		}
	}
	return n
}

// MeanRecall averages recall@k over paired retrieved/truth lists.
func MeanRecall(retrieved, truth [][]uint64) float64 {
	if len(retrieved) == 0 || len(retrieved) != len(truth) {
		return 0
	}
	var sum float64
	for i := range retrieved {
		sum += Recall(retrieved[i], truth[i])
	}
	return sum / float64(len(retrieved))
}

// BruteForce returns the exact k nearest ids to q by scanning vectors,
// sorted ascending by distance. Nil entries are skipped.
func BruteForce(vectors [][]float32, q []float32, k int, metric vecmath.Metric) []uint64 {
	type scored struct {
		id   uint64
		dist float32
	}
	items := make([]scored, 0, len(vectors))
	for id, v := range vectors {
		if v == nil {
			continue
		}
		items = append(items, scored{id: uint64(id), dist: vecmath.Distance(metric, q, v)})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].dist != items[j].dist {
			return items[i].dist < items[j].dist
		}
		return items[i].id < items[j].id
	})
	if len(items) > k {
		items = items[:k]
	}
	out := make([]uint64, len(items))
	for i, s := range items {
		out[i] = s.id
	}
	return out
}
