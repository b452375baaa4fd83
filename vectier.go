// Package vectier is an approximate nearest-neighbor search engine with a
// tiered storage architecture. It answers k-NN queries over dense float32
// vectors in three modes: fully in-memory, DRAM cache over a backing store
// with an analytic SSD timing model, and an in-storage traversal simulator
// that approximates running the search on the device controller itself.
package vectier

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/cwbudde/vectier/internal/annssd"
	"github.com/cwbudde/vectier/internal/cache"
	"github.com/cwbudde/vectier/internal/hnsw"
	"github.com/cwbudde/vectier/internal/storage"
	"github.com/cwbudde/vectier/internal/vecmath"
)

// Result is a single search hit, nearest first.
type Result struct {
	ID       uint64
	Distance float32
}

// Engine composes an index, a storage backend, and (in ann_ssd mode) the
// in-storage traversal simulator according to its Config. Build once, then
// query; the engine is read-only after Build.
type Engine struct {
	cfg    Config
	metric vecmath.Metric

	backend storage.Backend         // payload store behind the index
	tier    *storage.TieredBackend  // non-nil in tiered and ann_ssd modes
	index   *hnsw.Index
	sim     *annssd.Simulator

	// Host-resident payload copy. Kept in dram mode (it is the store) and
	// in ann_ssd mode (layout construction and the cheated host-side scan
	// need it); tiered mode deliberately holds no resident copy.
	vectors  [][]float32
	resident *hnsw.SliceSource // index payload source in dram mode

	count uint64
}

// New composes an engine for the configuration. The engine is empty until
// Build is called.
func New(cfg Config) (*Engine, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	metric, err := parseMetric(cfg.Metric)
	if err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, metric: metric}

	var source hnsw.VectorSource
	switch cfg.Mode {
	case ModeDRAM:
		e.backend = storage.NewMemoryBackend()
		e.resident = &hnsw.SliceSource{}
		source = e.resident

	case ModeTiered, ModeANNSSD:
		backing, err := cfg.newBacking()
		if err != nil {
			return nil, err
		}
		var ssd *storage.SSDModel
		if cfg.SSD != nil {
			ssd = storage.NewSSDModel(storage.SSDConfig{
				Channels:      cfg.SSD.Channels,
				QueueDepth:    cfg.SSD.QD,
				BaseLatencyUS: cfg.SSD.BaseLatencyUS,
				BandwidthGBps: cfg.SSD.BandwidthGBps,
			})
		}
		tier, err := storage.NewTieredBackend(backing, cfg.CacheCapacity, cache.Kind(cfg.CachePolicy), ssd)
		if err != nil {
			return nil, err
		}
		e.tier = tier
		e.backend = tier
		source = &hnsw.BackendSource{Backend: tier}

	default:
		return nil, &storage.InvalidParameterError{Param: "mode", Reason: fmt.Sprintf("unknown mode %q", cfg.Mode)}
	}

	idx, err := hnsw.New(hnsw.Config{
		Dim:            cfg.Dim,
		M:              cfg.M,
		EfConstruction: cfg.EfConstruction,
		EfSearch:       cfg.EfSearch,
		Metric:         metric,
		Seed:           cfg.Seed,
	}, source)
	if err != nil {
		return nil, err
	}
	e.index = idx

	slog.Info("engine created", "mode", string(cfg.Mode), "dim", cfg.Dim, "metric", cfg.Metric)
	return e, nil
}

// Add writes one vector to the store and inserts it into the graph,
// returning its id. Ids are assigned densely in insertion order.
func (e *Engine) Add(vec []float32) (uint64, error) {
	if len(vec) != e.cfg.Dim {
		return 0, &storage.DimensionMismatchError{Got: len(vec), Want: e.cfg.Dim}
	}
	id := e.count

	if err := e.backend.WriteNode(id, vec); err != nil {
		return 0, err
	}
	if e.keepResident() {
		stored := make([]float32, len(vec))
		copy(stored, vec)
		e.vectors = append(e.vectors, stored)
		if e.resident != nil {
			e.resident.Vectors = e.vectors
		}
	}
	if err := e.index.Insert(id, vec); err != nil {
		return 0, err
	}
	e.count++
	return id, nil
}

// Build adds all vectors and finalizes the engine. In ann_ssd mode this is
// where the block layout and the traversal simulator are constructed.
func (e *Engine) Build(vecs [][]float32) error {
	for _, v := range vecs {
		if _, err := e.Add(v); err != nil {
			return err
		}
	}
	return e.Finalize()
}

// Finalize completes construction after the last Add.
func (e *Engine) Finalize() error {
	if e.cfg.Mode == ModeANNSSD {
		layout, err := annssd.BuildLayout(e.index, e.vectors, int(e.count), e.annConfig())
		if err != nil {
			return err
		}
		sim, err := annssd.NewSimulator(layout, e.vectors, e.cfg.Dim, e.metric, e.annConfig(), e.tier)
		if err != nil {
			return err
		}
		e.sim = sim
		slog.Info("ann-ssd layout built",
			"blocks", layout.NumBlocks(),
			"vectors_per_block", e.cfg.VectorsPerBlock,
			"placement", e.cfg.PlacementMode,
			"mode", e.cfg.AnnSSDMode,
			"hw_level", e.cfg.AnnHWLevel)
	}
	return nil
}

func (e *Engine) keepResident() bool {
	return e.cfg.Mode == ModeDRAM || e.cfg.Mode == ModeANNSSD
}

func (e *Engine) annConfig() annssd.Config {
	level, _ := annssd.ParseHWLevel(e.cfg.AnnHWLevel)
	return annssd.Config{
		VectorsPerBlock: e.cfg.VectorsPerBlock,
		PortalDegree:    e.cfg.PortalDegree,
		MaxSteps:        e.cfg.MaxSteps,
		Placement:       annssd.Placement(e.cfg.PlacementMode),
		Code:            annssd.CodeType(e.cfg.CodeType),
		Level:           level,
		Mode:            annssd.Mode(e.cfg.AnnSSDMode),
		Seed:            e.cfg.Seed,
	}
}

// Len returns the number of indexed vectors.
func (e *Engine) Len() int {
	return int(e.count)
}

// Search returns the k nearest ids to q, sorted ascending by distance. In
// ann_ssd mode the query runs on the traversal simulator; otherwise it is a
// graph search with the configured ef.
func (e *Engine) Search(q []float32, k int) ([]Result, error) {
	if e.cfg.Mode == ModeANNSSD {
		res, _, err := e.SearchANN(q, k)
		return res, err
	}
	hits, err := e.index.Search(q, k, e.cfg.EfSearch)
	if err != nil {
		return nil, err
	}
	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = Result{ID: h.ID, Distance: h.Distance}
	}
	return out, nil
}

// SearchANN runs an in-storage traversal and also returns its report.
// Only valid in ann_ssd mode.
func (e *Engine) SearchANN(q []float32, k int) ([]Result, annssd.Report, error) {
	if e.sim == nil {
		return nil, annssd.Report{}, &storage.InvalidParameterError{Param: "mode", Reason: "engine not in ann_ssd mode or not finalized"}
	}
	hits, report, err := e.sim.Search(q, k)
	if err != nil {
		return nil, report, err
	}
	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = Result{ID: h.ID, Distance: h.Distance}
	}
	return out, report, nil
}

// SearchBatch fans independent queries out over a bounded worker pool.
// Individual queries stay synchronous; parallelism exists only at this
// outer batch level. A per-query failure yields a nil row.
func (e *Engine) SearchBatch(queries [][]float32, k, workers int) [][]Result {
	if workers < 1 {
		workers = 1
	}
	out := make([][]Result, len(queries))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for qi := range jobs {
				res, err := e.Search(queries[qi], k)
				if err != nil {
					slog.Warn("batch query failed", "query", qi, "error", err)
					continue
				}
				out[qi] = res
			}
		}()
	}
	for qi := range queries {
		jobs <- qi
	}
	close(jobs)
	wg.Wait()
	return out
}

// Stats returns the I/O counters of the payload path: the tier's in tiered
// and ann_ssd modes, the memory store's in dram mode. ReadErrors carries the
// payload reads the index absorbed during searches and insertions.
func (e *Engine) Stats() storage.IOStats {
	s := e.backend.Stats()
	s.ReadErrors = e.index.ReadErrors()
	return s
}

// ResetStats zeroes the payload path counters. The ReadErrors count is kept
// by the index and is not reset.
func (e *Engine) ResetStats() {
	e.backend.ResetStats()
}

// DeviceTimeUS returns the accumulated modeled SSD service time, or 0 when
// no SSD model is configured.
func (e *Engine) DeviceTimeUS() float64 {
	if e.tier == nil {
		return 0
	}
	return e.tier.DeviceTimeUS()
}

// Collector returns a Prometheus collector over the engine's payload path.
func (e *Engine) Collector(name string) *storage.StatsCollector {
	return storage.NewStatsCollector(name, e.backend)
}

// SaveIndex atomically writes the graph topology to path. Payloads are not
// included; they live with the storage backend.
func (e *Engine) SaveIndex(path string) error {
	return e.index.SaveFile(path)
}

// LoadIndex replaces the graph topology from path. The payload store must
// already hold the matching vectors.
func (e *Engine) LoadIndex(path string) error {
	if err := e.index.LoadFile(path); err != nil {
		return err
	}
	e.count = uint64(e.index.Len())
	return nil
}

// Index exposes the underlying graph, for persistence helpers and tests.
func (e *Engine) Index() *hnsw.Index {
	return e.index
}
