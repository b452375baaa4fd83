package cache

import (
	"container/list"
	"fmt"
)

// LRUPolicy evicts the least-recently-used id.
//
// Invariants:
//   - every tracked id has exactly one element in order
//   - order front is most recent, back is least recent
//   - len(index) == order.Len() <= capacity
type LRUPolicy struct {
	capacity int
	order    *list.List               // of uint64
	index    map[uint64]*list.Element // id -> element in order
}

// NewLRUPolicy returns an LRU policy for the given capacity.
func NewLRUPolicy(capacity int) (*LRUPolicy, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("lru: capacity must be at least 1, got %d", capacity)
	}
	return &LRUPolicy{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[uint64]*list.Element, capacity),
	}, nil
}

func (p *LRUPolicy) RecordAccess(id uint64) {
	if el, ok := p.index[id]; ok {
		p.order.MoveToFront(el)
	}
}

func (p *LRUPolicy) OnInsert(id uint64) (bool, uint64) {
	if el, ok := p.index[id]; ok {
		// Already tracked: a re-insert counts as an access.
		p.order.MoveToFront(el)
		return false, 0
	}

	var victim uint64
	evicted := false
	if p.order.Len() >= p.capacity {
		back := p.order.Back()
		victim = back.Value.(uint64)
		p.order.Remove(back)
		delete(p.index, victim)
		evicted = true
	}

	p.index[id] = p.order.PushFront(id)
	return evicted, victim
}

func (p *LRUPolicy) Len() int {
	return p.order.Len()
}

func (p *LRUPolicy) Reset() {
	p.order.Init()
	clear(p.index)
}
