package container

import (
	"container/heap"
	"sync"
)

// MaxGraveyardInMemory bounds the in-memory free-slot cache (spec §4.3.1,
// "e.g. 1250"). The graveyard is a cache, never an authority: the
// authoritative set of free slots is whatever on-disk slots currently hold
// the tombstone pattern.
const MaxGraveyardInMemory = 1250

type offsetHeap []uint64

func (h offsetHeap) Len() int            { return len(h) }
func (h offsetHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h offsetHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *offsetHeap) Push(x interface{}) { *h = append(*h, x.(uint64)) }
func (h *offsetHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Graveyard is the bounded, ordered cache of known-free slot offsets
// described in spec §4.3.1, modeled on the original's BTreeSet<u64>
// (smallest-offset-first reuse via pop_first).
type Graveyard struct {
	mu       sync.Mutex
	h        offsetHeap
	present  map[uint64]bool
	capacity int
}

// NewGraveyard builds an empty graveyard bounded to capacity entries.
func NewGraveyard(capacity int) *Graveyard {
	return &Graveyard{h: offsetHeap{}, present: make(map[uint64]bool), capacity: capacity}
}

// Add inserts offset if the graveyard has room and it isn't already
// present. Returns whether it was added.
func (g *Graveyard) Add(offset uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.present[offset] {
		return false
	}
	if len(g.h) >= g.capacity {
		return false
	}
	heap.Push(&g.h, offset)
	g.present[offset] = true
	return true
}

// PopSmallest removes and returns the smallest cached offset, if any.
func (g *Graveyard) PopSmallest() (uint64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.h) == 0 {
		return 0, false
	}
	v := heap.Pop(&g.h).(uint64)
	delete(g.present, v)
	return v, true
}

// Contains reports whether offset is currently cached.
func (g *Graveyard) Contains(offset uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.present[offset]
}

// Remove discards offset from the cache without returning it, for a caller
// that reuses a cached free slot by some route other than PopSmallest.
func (g *Graveyard) Remove(offset uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.present[offset] {
		return
	}
	delete(g.present, offset)
	for i, v := range g.h {
		if v == offset {
			heap.Remove(&g.h, i)
			break
		}
	}
}

// Len reports the number of cached offsets.
func (g *Graveyard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.h)
}

// Clear empties the cache (spec §4.3.3 step 1: vacuum clears it up front).
func (g *Graveyard) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.h = offsetHeap{}
	g.present = make(map[uint64]bool)
}
