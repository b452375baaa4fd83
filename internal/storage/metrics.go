package storage

import "github.com/prometheus/client_golang/prometheus"

// StatsCollector exposes a backend's IOStats as Prometheus metrics. Counters
// are reported as gauges because ResetStats can rewind them; scrape-side
// rate() over a resettable series is the caller's concern.
//
// Register with prometheus.MustRegister(NewStatsCollector("tier", backend)).
type StatsCollector struct {
	backend Backend

	reads        *prometheus.Desc
	writes       *prometheus.Desc
	bytesRead    *prometheus.Desc
	bytesWritten *prometheus.Desc
	readLatency  *prometheus.Desc
	writeLatency *prometheus.Desc
	readErrors   *prometheus.Desc
	cacheHits    *prometheus.Desc
	cacheMisses  *prometheus.Desc
	deviceTime   *prometheus.Desc
}

// NewStatsCollector builds a collector for backend, labeling every series
// with the given backend name.
func NewStatsCollector(name string, backend Backend) *StatsCollector {
	labels := prometheus.Labels{"backend": name}
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc("vectier_"+metric, help, nil, labels)
	}
	return &StatsCollector{
		backend:      backend,
		reads:        desc("reads_total", "Node reads served by the backing store"),
		writes:       desc("writes_total", "Node writes to the backing store"),
		bytesRead:    desc("read_bytes_total", "Bytes read from the backing store"),
		bytesWritten: desc("written_bytes_total", "Bytes written to the backing store"),
		readLatency:  desc("read_latency_us_total", "Summed backing read latency in microseconds"),
		writeLatency: desc("write_latency_us_total", "Summed backing write latency in microseconds"),
		readErrors:   desc("read_errors_total", "Payload reads absorbed during search and insertion"),
		cacheHits:    desc("cache_hits_total", "Tier cache hits"),
		cacheMisses:  desc("cache_misses_total", "Tier cache misses"),
		deviceTime:   desc("device_time_us", "Accumulated modeled SSD service time in microseconds"),
	}
}

func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.reads
	ch <- c.writes
	ch <- c.bytesRead
	ch <- c.bytesWritten
	ch <- c.readLatency
	ch <- c.writeLatency
	ch <- c.readErrors
	ch <- c.cacheHits
	ch <- c.cacheMisses
	ch <- c.deviceTime
}

func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.backend.Stats()
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	gauge(c.reads, float64(s.NumReads))
	gauge(c.writes, float64(s.NumWrites))
	gauge(c.bytesRead, float64(s.BytesRead))
	gauge(c.bytesWritten, float64(s.BytesWritten))
	gauge(c.readLatency, s.ReadLatencyUS)
	gauge(c.writeLatency, s.WriteLatencyUS)
	gauge(c.readErrors, float64(s.ReadErrors))
	gauge(c.cacheHits, float64(s.CacheHits))
	gauge(c.cacheMisses, float64(s.CacheMisses))

	if tiered, ok := c.backend.(*TieredBackend); ok {
		gauge(c.deviceTime, tiered.DeviceTimeUS())
	}
}
