package storage

import "sync"

// SSDConfig describes the modeled device: channel-level parallelism, per-op
// overhead, and internal bandwidth.
type SSDConfig struct {
	// Channels is the number of independent flash channels.
	Channels int
	// QueueDepth is the command queue depth per channel.
	QueueDepth int
	// BaseLatencyUS is the fixed per-read overhead in microseconds.
	BaseLatencyUS float64
	// BandwidthGBps is the internal read bandwidth in GB/s.
	BandwidthGBps float64
}

// DefaultSSDConfig models a mid-range NVMe device.
func DefaultSSDConfig() SSDConfig {
	return SSDConfig{
		Channels:      8,
		QueueDepth:    4,
		BaseLatencyUS: 80,
		BandwidthGBps: 3.2,
	}
}

// SSDModel is a first-order analytic device-service-time accumulator.
//
// Each read of b bytes contributes
//
//	(BaseLatencyUS + b/(BandwidthGBps*1e3)) / max(1, Channels*QueueDepth)
//
// microseconds to the running total. The division captures channel/queue
// parallelism; exact queuing dynamics are deliberately omitted in favor of
// a deterministic closed form. Writes are not modeled.
type SSDModel struct {
	mu          sync.Mutex
	cfg         SSDConfig
	totalTimeUS float64
	stats       IOStats
}

// NewSSDModel returns a zeroed accumulator for the given device config.
func NewSSDModel(cfg SSDConfig) *SSDModel {
	return &SSDModel{cfg: cfg}
}

// Config returns the device configuration.
func (s *SSDModel) Config() SSDConfig {
	return s.cfg
}

// RecordRead accounts a device read of the given size and returns the
// modeled service time for this one operation, in microseconds.
func (s *SSDModel) RecordRead(bytes int) float64 {
	parallel := s.cfg.Channels * s.cfg.QueueDepth
	if parallel < 1 {
		parallel = 1
	}
	serviceUS := (s.cfg.BaseLatencyUS + float64(bytes)/(s.cfg.BandwidthGBps*1e3)) / float64(parallel)

	s.mu.Lock()
	s.totalTimeUS += serviceUS
	s.stats.recordRead(bytes, serviceUS)
	s.mu.Unlock()
	return serviceUS
}

// TotalTimeUS returns the accumulated modeled device time in microseconds.
func (s *SSDModel) TotalTimeUS() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalTimeUS
}

// Stats returns the model's embedded I/O counters.
func (s *SSDModel) Stats() IOStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// ResetStats zeroes the accumulator and the embedded counters.
func (s *SSDModel) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalTimeUS = 0
	s.stats.reset()
}
