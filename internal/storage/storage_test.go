package storage

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func TestMemoryBackend_ReadWriteRoundtrip(t *testing.T) {
	m := NewMemoryBackend()

	t.Run("missing id", func(t *testing.T) {
		_, err := m.ReadNode(5)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected NotFoundError, got %v", err)
		}
	})

	t.Run("write then read", func(t *testing.T) {
		vec := []float32{1, 2, 3}
		if err := m.WriteNode(7, vec); err != nil {
			t.Fatalf("WriteNode: %v", err)
		}
		got, err := m.ReadNode(7)
		if err != nil {
			t.Fatalf("ReadNode: %v", err)
		}
		for i := range vec {
			if got[i] != vec[i] {
				t.Fatalf("got %v, want %v", got, vec)
			}
		}
	})

	t.Run("returned slice is a copy", func(t *testing.T) {
		m.WriteNode(1, []float32{9})
		got, _ := m.ReadNode(1)
		got[0] = -1
		again, _ := m.ReadNode(1)
		if again[0] != 9 {
			t.Error("ReadNode exposed internal storage")
		}
	})

	t.Run("gap between slots stays absent", func(t *testing.T) {
		// id 7 was written above; id 4 never was.
		if _, err := m.ReadNode(4); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected NotFoundError for unwritten slot, got %v", err)
		}
	})
}

func TestMemoryBackend_BatchReadPartialFailure(t *testing.T) {
	m := NewMemoryBackend()
	m.WriteNode(0, []float32{1})
	m.WriteNode(2, []float32{3})

	out := m.BatchReadNodes([]uint64{0, 1, 2})
	if out[0] == nil || out[2] == nil {
		t.Error("present ids must be returned")
	}
	if out[1] != nil {
		t.Error("absent id must yield a nil entry")
	}
}

func TestMemoryBackend_StatsMonotoneAndReset(t *testing.T) {
	m := NewMemoryBackend()
	m.WriteNode(0, []float32{1, 2})
	m.ReadNode(0)
	m.ReadNode(0)

	s := m.Stats()
	if s.NumReads != 2 || s.NumWrites != 1 {
		t.Errorf("stats = %+v, want 2 reads / 1 write", s)
	}
	if s.BytesRead != 16 || s.BytesWritten != 8 {
		t.Errorf("bytes = %d/%d, want 16/8", s.BytesRead, s.BytesWritten)
	}

	m.ResetStats()
	if s := m.Stats(); s.NumReads != 0 || s.BytesWritten != 0 {
		t.Errorf("stats not zeroed after reset: %+v", s)
	}
}

func TestFileBackend_PositionalRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.bin")
	fb, err := NewFileBackend(path, 4)
	if err != nil {
		t.Fatal(err)
	}
	defer fb.Close()

	vecs := [][]float32{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
		{-1, -2, -3, -4},
	}
	// Write out of order to exercise positional I/O.
	for _, id := range []uint64{2, 0, 1} {
		if err := fb.WriteNode(id, vecs[id]); err != nil {
			t.Fatalf("WriteNode(%d): %v", id, err)
		}
	}

	for id, want := range vecs {
		got, err := fb.ReadNode(uint64(id))
		if err != nil {
			t.Fatalf("ReadNode(%d): %v", id, err)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("record %d: got %v, want %v", id, got, want)
			}
		}
	}
}

func TestFileBackend_ReadPastEndIsNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.bin")
	fb, err := NewFileBackend(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer fb.Close()

	fb.WriteNode(0, []float32{1, 2})
	if _, err := fb.ReadNode(10); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected NotFoundError past end of file, got %v", err)
	}
}

func TestFileBackend_DimensionRules(t *testing.T) {
	t.Run("adopted from first write", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "v.bin")
		fb, err := NewFileBackend(path, 0)
		if err != nil {
			t.Fatal(err)
		}
		defer fb.Close()

		if err := fb.WriteNode(0, []float32{1, 2, 3}); err != nil {
			t.Fatal(err)
		}
		if fb.Dim() != 3 {
			t.Errorf("Dim = %d, want 3", fb.Dim())
		}
	})

	t.Run("dimension change fails", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "v.bin")
		fb, err := NewFileBackend(path, 3)
		if err != nil {
			t.Fatal(err)
		}
		defer fb.Close()

		err = fb.WriteNode(0, []float32{1, 2})
		if !errors.Is(err, ErrDimensionMismatch) {
			t.Errorf("expected DimensionMismatchError, got %v", err)
		}
	})
}

func TestSSDModel_ServiceTimeFormula(t *testing.T) {
	cfg := SSDConfig{Channels: 1, QueueDepth: 1, BaseLatencyUS: 50, BandwidthGBps: 2}
	m := NewSSDModel(cfg)

	bytes := 4096
	got := m.RecordRead(bytes)
	want := 50 + float64(bytes)/(2*1e3)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("service time = %v, want %v", got, want)
	}
	if math.Abs(m.TotalTimeUS()-want) > 1e-12 {
		t.Errorf("total = %v, want %v", m.TotalTimeUS(), want)
	}
}

// TestSSDModel_Monotonicity pins the two directional properties of the
// closed form: doubling bytes adds exactly the bandwidth term, and halving
// channel parallelism doubles the per-op time.
func TestSSDModel_Monotonicity(t *testing.T) {
	t.Run("bandwidth term scales with bytes", func(t *testing.T) {
		cfg := SSDConfig{Channels: 1, QueueDepth: 1, BaseLatencyUS: 80, BandwidthGBps: 3.2}
		m := NewSSDModel(cfg)
		b := 8192
		t1 := m.RecordRead(b)
		t2 := m.RecordRead(2 * b)
		wantDelta := float64(b) / (cfg.BandwidthGBps * 1e3)
		if math.Abs((t2-t1)-wantDelta) > 1e-9 {
			t.Errorf("delta = %v, want bandwidth term %v", t2-t1, wantDelta)
		}
	})

	t.Run("halving parallelism doubles service time", func(t *testing.T) {
		wide := NewSSDModel(SSDConfig{Channels: 4, QueueDepth: 2, BaseLatencyUS: 80, BandwidthGBps: 3.2})
		narrow := NewSSDModel(SSDConfig{Channels: 2, QueueDepth: 2, BaseLatencyUS: 80, BandwidthGBps: 3.2})
		b := 4096
		tw := wide.RecordRead(b)
		tn := narrow.RecordRead(b)
		if math.Abs(tn-2*tw) > 1e-9 {
			t.Errorf("narrow = %v, want 2x wide = %v", tn, 2*tw)
		}
	})
}

func TestSSDModel_ResetZeroesEverything(t *testing.T) {
	m := NewSSDModel(DefaultSSDConfig())
	m.RecordRead(1024)
	m.ResetStats()
	if m.TotalTimeUS() != 0 {
		t.Error("total time not zeroed")
	}
	if s := m.Stats(); s.NumReads != 0 || s.BytesRead != 0 {
		t.Errorf("embedded stats not zeroed: %+v", s)
	}
}
