package cache

import (
	"math/rand"
	"testing"
)

func TestNew_UnknownKind(t *testing.T) {
	if _, err := New("arc", 10); err == nil {
		t.Fatal("expected error for unknown policy kind")
	}
}

func TestNew_ZeroCapacity(t *testing.T) {
	for _, kind := range []Kind{LRU, LFU} {
		if _, err := New(kind, 0); err == nil {
			t.Errorf("%s: expected error for zero capacity", kind)
		}
	}
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	p, err := NewLRUPolicy(3)
	if err != nil {
		t.Fatal(err)
	}

	for id := uint64(0); id < 3; id++ {
		if evicted, _ := p.OnInsert(id); evicted {
			t.Fatalf("unexpected eviction while below capacity (id %d)", id)
		}
	}

	// Touch 0 so 1 becomes the LRU entry.
	p.RecordAccess(0)

	evicted, victim := p.OnInsert(3)
	if !evicted || victim != 1 {
		t.Errorf("OnInsert(3) = (%v, %d), want eviction of 1", evicted, victim)
	}
}

func TestLRU_ReinsertIsIdempotent(t *testing.T) {
	p, _ := NewLRUPolicy(2)
	p.OnInsert(1)
	p.OnInsert(2)

	if evicted, _ := p.OnInsert(1); evicted {
		t.Error("re-inserting a tracked id must not evict")
	}
	if p.Len() != 2 {
		t.Errorf("Len = %d, want 2", p.Len())
	}

	// The re-insert refreshed 1, so 2 is now the victim.
	if _, victim := p.OnInsert(3); victim != 2 {
		t.Errorf("victim = %d, want 2", victim)
	}
}

func TestLFU_EvictsLowestCount(t *testing.T) {
	p, err := NewLFUPolicy(3)
	if err != nil {
		t.Fatal(err)
	}

	p.OnInsert(1)
	p.OnInsert(2)
	p.OnInsert(3)

	// 1 and 3 get extra accesses; 2 stays at count 1.
	p.RecordAccess(1)
	p.RecordAccess(3)
	p.RecordAccess(3)

	evicted, victim := p.OnInsert(4)
	if !evicted || victim != 2 {
		t.Errorf("OnInsert(4) = (%v, %d), want eviction of 2", evicted, victim)
	}
}

func TestLFU_TieBreakIsLeastRecentlySeen(t *testing.T) {
	p, _ := NewLFUPolicy(3)
	p.OnInsert(1)
	p.OnInsert(2)
	p.OnInsert(3)

	// All three sit at count 1; recency within the bucket is insertion
	// order, so 1 is the least recently seen.
	_, victim := p.OnInsert(4)
	if victim != 1 {
		t.Errorf("victim = %d, want 1 (least recently seen among count-1 ties)", victim)
	}
}

func TestLFU_ReinsertCountsOnce(t *testing.T) {
	p, _ := NewLFUPolicy(2)
	p.OnInsert(1)
	p.OnInsert(2)

	if evicted, _ := p.OnInsert(2); evicted {
		t.Error("re-inserting a tracked id must not evict")
	}
	if p.Len() != 2 {
		t.Errorf("Len = %d, want 2", p.Len())
	}

	// 2 was promoted to count 2, so 1 is the eviction candidate.
	if _, victim := p.OnInsert(3); victim != 1 {
		t.Errorf("victim = %d, want 1", victim)
	}
}

// TestPolicy_KeySetMatchesCache simulates a cache in front of each policy and
// checks that the policy's tracked set always mirrors the cache contents and
// never exceeds capacity.
func TestPolicy_KeySetMatchesCache(t *testing.T) {
	for _, kind := range []Kind{LRU, LFU} {
		t.Run(string(kind), func(t *testing.T) {
			const capacity = 8
			p, err := New(kind, capacity)
			if err != nil {
				t.Fatal(err)
			}

			cached := make(map[uint64]bool)
			rng := rand.New(rand.NewSource(42))

			for i := 0; i < 5000; i++ {
				id := uint64(rng.Intn(64))
				if cached[id] {
					p.RecordAccess(id)
				} else {
					evicted, victim := p.OnInsert(id)
					if evicted {
						if !cached[victim] {
							t.Fatalf("evicted id %d was not cached", victim)
						}
						delete(cached, victim)
					}
					cached[id] = true
				}

				if len(cached) > capacity {
					t.Fatalf("cache grew past capacity: %d", len(cached))
				}
				if p.Len() != len(cached) {
					t.Fatalf("policy tracks %d ids, cache holds %d", p.Len(), len(cached))
				}
			}
		})
	}
}

// simulateHitRate replays an access stream through a policy-fronted cache
// and returns the hit fraction.
func simulateHitRate(p Policy, stream []uint64) float64 {
	cached := make(map[uint64]bool)
	hits := 0
	for _, id := range stream {
		if cached[id] {
			p.RecordAccess(id)
			hits++
			continue
		}
		evicted, victim := p.OnInsert(id)
		if evicted {
			delete(cached, victim)
		}
		cached[id] = true
	}
	return float64(hits) / float64(len(stream))
}

// TestLFUBeatsLRUUnderSkew replays a Zipfian stream (s=1.1, 10k accesses over
// a 1k-id universe, capacity 100) and expects LFU to lead LRU by at least
// five percentage points.
func TestLFUBeatsLRUUnderSkew(t *testing.T) {
	const (
		universe = 1000
		accesses = 10000
		capacity = 100
	)

	zipf := rand.NewZipf(rand.New(rand.NewSource(7)), 1.1, 1, universe-1)
	stream := make([]uint64, accesses)
	for i := range stream {
		stream[i] = zipf.Uint64()
	}

	lru, _ := NewLRUPolicy(capacity)
	lfu, _ := NewLFUPolicy(capacity)

	lruRate := simulateHitRate(lru, stream)
	lfuRate := simulateHitRate(lfu, stream)

	t.Logf("hit rates: lru=%.3f lfu=%.3f", lruRate, lfuRate)
	if lfuRate < lruRate+0.05 {
		t.Errorf("LFU hit rate %.3f does not lead LRU %.3f by 5 points", lfuRate, lruRate)
	}
}
