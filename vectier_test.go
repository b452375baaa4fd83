package vectier

import (
	"errors"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/vectier/internal/eval"
	"github.com/cwbudde/vectier/internal/storage"
	"github.com/cwbudde/vectier/internal/vecmath"
)

func gaussianVectors(n, dim int, seed uint64) [][]float32 {
	rng := rand.New(rand.NewPCG(seed, seed))
	vecs := make([][]float32, n)
	for i := range vecs {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		vecs[i] = v
	}
	return vecs
}

func linePoints(n int) [][]float32 {
	vecs := make([][]float32, n)
	for i := range vecs {
		vecs[i] = []float32{float32(i), 0}
	}
	return vecs
}

func TestEngine_DRAMSelfMatch(t *testing.T) {
	e, err := New(Config{Mode: ModeDRAM, Dim: 2, M: 4, EfConstruction: 50, EfSearch: 10, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	vecs := linePoints(10)
	if err := e.Build(vecs); err != nil {
		t.Fatal(err)
	}

	for i, v := range vecs {
		res, err := e.Search(v, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(res) != 1 || res[0].ID != uint64(i) {
			t.Errorf("Search(point %d) = %v, want self", i, res)
		}
	}
}

func TestEngine_TieredCacheAccounting(t *testing.T) {
	e, err := New(Config{
		Mode: ModeTiered, Dim: 2, M: 4, EfConstruction: 50, EfSearch: 10,
		CacheCapacity: 4, CachePolicy: "lru", Seed: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Build(linePoints(16)); err != nil {
		t.Fatal(err)
	}
	e.ResetStats()

	for i := 0; i < 10; i++ {
		if _, err := e.Search([]float32{float32(i), 0}, 1); err != nil {
			t.Fatal(err)
		}
	}

	s := e.Stats()
	// Every payload read is either a hit or a miss, and a capacity-4 cache
	// cannot have held more than 4 of the 10+ distinct nodes touched.
	if s.CacheHits+s.CacheMisses == 0 {
		t.Fatal("no payload reads recorded")
	}
	if s.NumReads != s.CacheMisses {
		t.Errorf("backing reads = %d, want one per miss (%d)", s.NumReads, s.CacheMisses)
	}
	if s.CacheMisses < 10-4 {
		t.Errorf("misses = %d, want at least 6", s.CacheMisses)
	}
}

// TestEngine_TieredMatchesDRAM builds the same dataset in dram mode and in
// tiered mode with an engine-sized cache; recall@10 over a query sample must
// be identical.
func TestEngine_TieredMatchesDRAM(t *testing.T) {
	const (
		n   = 1500
		dim = 16
		k   = 10
	)
	vecs := gaussianVectors(n, dim, 42)

	base := Config{Dim: dim, M: 12, EfConstruction: 100, EfSearch: 64, Seed: 42}

	dramCfg := base
	dramCfg.Mode = ModeDRAM
	dram, err := New(dramCfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := dram.Build(vecs); err != nil {
		t.Fatal(err)
	}

	tieredCfg := base
	tieredCfg.Mode = ModeTiered
	tieredCfg.CacheCapacity = n
	tieredCfg.CachePolicy = "lru"
	tiered, err := New(tieredCfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := tiered.Build(vecs); err != nil {
		t.Fatal(err)
	}

	var dramRecall, tieredRecall float64
	queries := gaussianVectors(20, dim, 7)
	for _, q := range queries {
		truth := eval.BruteForce(vecs, q, k, vecmath.MetricL2)

		dr, err := dram.Search(q, k)
		if err != nil {
			t.Fatal(err)
		}
		tr, err := tiered.Search(q, k)
		if err != nil {
			t.Fatal(err)
		}

		dramRecall += eval.Recall(ids(dr), truth)
		tieredRecall += eval.Recall(ids(tr), truth)
	}
	dramRecall /= float64(len(queries))
	tieredRecall /= float64(len(queries))

	if dramRecall < 0 || dramRecall > 1 {
		t.Fatalf("recall %v outside [0,1]", dramRecall)
	}
	if math.Abs(dramRecall-tieredRecall) > 1e-6 {
		t.Errorf("tiered recall %v != dram recall %v", tieredRecall, dramRecall)
	}
}

func ids(res []Result) []uint64 {
	out := make([]uint64, len(res))
	for i, r := range res {
		out[i] = r.ID
	}
	return out
}

func TestEngine_SaveLoadRoundtrip(t *testing.T) {
	cfg := Config{Mode: ModeDRAM, Dim: 2, M: 4, EfConstruction: 50, EfSearch: 10, Seed: 1}
	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	vecs := linePoints(10)
	if err := e.Build(vecs); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "index.hnsw")
	if err := e.SaveIndex(path); err != nil {
		t.Fatal(err)
	}

	fresh, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	// Repopulate the payload store, then swap in the saved topology.
	for _, v := range vecs {
		if _, err := fresh.Add(v); err != nil {
			t.Fatal(err)
		}
	}
	if err := fresh.LoadIndex(path); err != nil {
		t.Fatal(err)
	}

	for i, v := range vecs {
		want, _ := e.Search(v, 3)
		got, err := fresh.Search(v, 3)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != len(want) {
			t.Fatalf("query %d: %d results, want %d", i, len(got), len(want))
		}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("query %d result %d differs after reload", i, j)
			}
		}
	}
}

func TestEngine_ANNSSDFullSweepMatchesBruteForce(t *testing.T) {
	const (
		n   = 256
		dim = 8
		k   = 10
	)
	vecs := gaussianVectors(n, dim, 9)

	e, err := New(Config{
		Mode: ModeANNSSD, Dim: dim, M: 8, EfConstruction: 60, EfSearch: 32,
		CacheCapacity: 32, CachePolicy: "lru",
		SSD:             &SSDModelConfig{BaseLatencyUS: 80, BandwidthGBps: 3.2, Channels: 8, QD: 4},
		AnnSSDMode:      "cheated",
		AnnHWLevel:      "L1",
		VectorsPerBlock: 32,
		MaxSteps:        0,
		Seed:            9,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Build(vecs); err != nil {
		t.Fatal(err)
	}
	e.ResetStats()

	q := vecs[100]
	res, report, err := e.SearchANN(q, k)
	if err != nil {
		t.Fatal(err)
	}

	truth := eval.BruteForce(vecs, q, k, vecmath.MetricL2)
	if r := eval.Recall(ids(res), truth); r != 1 {
		t.Errorf("full-sweep recall = %v, want 1", r)
	}
	if report.BlocksVisited != (n+31)/32 {
		t.Errorf("visited %d blocks, want %d", report.BlocksVisited, (n+31)/32)
	}
	if e.DeviceTimeUS() <= 0 {
		t.Error("cheated sweep accumulated no device time")
	}
	if report.ControllerTimeUS <= 0 {
		t.Error("controller time not modeled")
	}
}

func TestEngine_SearchBatch(t *testing.T) {
	e, err := New(Config{Mode: ModeDRAM, Dim: 2, M: 4, EfConstruction: 50, EfSearch: 10, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	vecs := linePoints(12)
	if err := e.Build(vecs); err != nil {
		t.Fatal(err)
	}

	out := e.SearchBatch(vecs, 1, 4)
	if len(out) != len(vecs) {
		t.Fatalf("got %d rows, want %d", len(out), len(vecs))
	}
	for i, res := range out {
		if len(res) != 1 || res[0].ID != uint64(i) {
			t.Errorf("batch row %d = %v, want self", i, res)
		}
	}
}

func TestEngine_InvalidConfigs(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero dim", Config{Mode: ModeDRAM}},
		{"tiered without capacity", Config{Mode: ModeTiered, Dim: 4}},
		{"bad metric", Config{Mode: ModeDRAM, Dim: 4, Metric: "hamming"}},
		{"bad policy", Config{Mode: ModeTiered, Dim: 4, CacheCapacity: 8, CachePolicy: "fifo"}},
		{"bad hw level", Config{Mode: ModeANNSSD, Dim: 4, CacheCapacity: 8, AnnHWLevel: "L7"}},
		{"bad ann mode", Config{Mode: ModeANNSSD, Dim: 4, CacheCapacity: 8, AnnSSDMode: "guessing"}},
		{"competing backings", Config{Mode: ModeTiered, Dim: 4, CacheCapacity: 8, VectorFile: "/tmp/v.bin", RedisAddr: "localhost:6379"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.cfg); !errors.Is(err, storage.ErrInvalidParameter) {
				t.Errorf("expected InvalidParameterError, got %v", err)
			}
		})
	}
}

func TestEngine_TieredOverRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping Redis-backed engine test")
	}

	e, err := New(Config{
		Mode: ModeTiered, Dim: 2, M: 4, EfConstruction: 50, EfSearch: 10,
		CacheCapacity: 4, RedisAddr: addr, Seed: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	vecs := linePoints(10)
	if err := e.Build(vecs); err != nil {
		t.Fatal(err)
	}

	for i, v := range vecs {
		res, err := e.Search(v, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(res) != 1 || res[0].ID != uint64(i) {
			t.Errorf("Search(point %d) = %v, want self", i, res)
		}
	}
}

func TestEngine_DeviceTimeZeroWithoutModel(t *testing.T) {
	e, err := New(Config{Mode: ModeTiered, Dim: 2, M: 4, CacheCapacity: 2, Seed: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Build(linePoints(8)); err != nil {
		t.Fatal(err)
	}
	e.Search([]float32{3, 0}, 1)
	if e.DeviceTimeUS() != 0 {
		t.Error("device time nonzero without an SSD model")
	}
}
