package cache

import (
	"container/list"
	"fmt"
)

// LFUPolicy evicts the id with the smallest access count, breaking ties by
// least-recently-seen.
//
// Structure: buckets is a list of frequency buckets in ascending count
// order; each bucket holds its members in recency order (front = most
// recently seen). Eviction takes the back of the front bucket. All
// operations are amortized O(1) because an access moves an entry at most
// one bucket forward.
type LFUPolicy struct {
	capacity int
	buckets  *list.List           // of *lfuBucket, ascending count
	index    map[uint64]*lfuEntry // id -> entry
}

type lfuBucket struct {
	count   uint64
	members *list.List // of *lfuEntry, front = most recently seen
}

type lfuEntry struct {
	id       uint64
	bucketEl *list.Element // element in buckets holding the owning bucket
	memberEl *list.Element // element in the owning bucket's members list
}

// NewLFUPolicy returns an LFU policy for the given capacity.
func NewLFUPolicy(capacity int) (*LFUPolicy, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("lfu: capacity must be at least 1, got %d", capacity)
	}
	return &LFUPolicy{
		capacity: capacity,
		buckets:  list.New(),
		index:    make(map[uint64]*lfuEntry, capacity),
	}, nil
}

func (p *LFUPolicy) RecordAccess(id uint64) {
	if e, ok := p.index[id]; ok {
		p.promote(e)
	}
}

func (p *LFUPolicy) OnInsert(id uint64) (bool, uint64) {
	if e, ok := p.index[id]; ok {
		// Already tracked: a re-insert counts as a single access.
		p.promote(e)
		return false, 0
	}

	var victim uint64
	evicted := false
	if len(p.index) >= p.capacity {
		front := p.buckets.Front().Value.(*lfuBucket)
		victimEl := front.members.Back()
		ve := victimEl.Value.(*lfuEntry)
		victim = ve.id
		front.members.Remove(victimEl)
		if front.members.Len() == 0 {
			p.buckets.Remove(ve.bucketEl)
		}
		delete(p.index, victim)
		evicted = true
	}

	// New entries start in the count-1 bucket.
	bucketEl := p.buckets.Front()
	if bucketEl == nil || bucketEl.Value.(*lfuBucket).count != 1 {
		bucketEl = p.buckets.PushFront(&lfuBucket{count: 1, members: list.New()})
	}
	b := bucketEl.Value.(*lfuBucket)
	e := &lfuEntry{id: id, bucketEl: bucketEl}
	e.memberEl = b.members.PushFront(e)
	p.index[id] = e
	return evicted, victim
}

// promote moves e from its bucket to the count+1 bucket, refreshing recency.
func (p *LFUPolicy) promote(e *lfuEntry) {
	b := e.bucketEl.Value.(*lfuBucket)
	next := e.bucketEl.Next()

	b.members.Remove(e.memberEl)

	if next == nil || next.Value.(*lfuBucket).count != b.count+1 {
		next = p.buckets.InsertAfter(&lfuBucket{count: b.count + 1, members: list.New()}, e.bucketEl)
	}
	if b.members.Len() == 0 {
		p.buckets.Remove(e.bucketEl)
	}

	nb := next.Value.(*lfuBucket)
	e.bucketEl = next
	e.memberEl = nb.members.PushFront(e)
}

func (p *LFUPolicy) Len() int {
	return len(p.index)
}

func (p *LFUPolicy) Reset() {
	p.buckets.Init()
	clear(p.index)
}
