package storage

// IOStats holds per-backend I/O counters. All counters are monotone
// non-decreasing between ResetStats calls and update on success paths only.
// A snapshot taken while another goroutine is mid-operation may be
// momentarily inconsistent across fields; callers needing exact totals
// should reset and read under exclusive access.
type IOStats struct {
	NumReads     uint64
	NumWrites    uint64
	BytesRead    uint64
	BytesWritten uint64

	// Summed latencies of the backing operations, microseconds.
	ReadLatencyUS  float64
	WriteLatencyUS float64

	// ReadErrors counts payload reads absorbed during search and insertion.
	ReadErrors uint64

	// Cache counters; populated by the tiered backend only.
	CacheHits   uint64
	CacheMisses uint64
}

func (s *IOStats) recordRead(bytes int, latencyUS float64) {
	s.NumReads++
	s.BytesRead += uint64(bytes)
	s.ReadLatencyUS += latencyUS
}

func (s *IOStats) recordWrite(bytes int, latencyUS float64) {
	s.NumWrites++
	s.BytesWritten += uint64(bytes)
	s.WriteLatencyUS += latencyUS
}

func (s *IOStats) reset() {
	*s = IOStats{}
}
