// Package seqindex implements the bounded, age-capped sequence-to-link
// index from spec.md §4.4: a mapping from an outgoing SRT sequence
// number to the Link that transmitted it, consulted when a NAK needs to
// be charged back to its origin.
//
// It is grounded directly on cache.Cache's map-swap design
// (github.com/m-lab/tcp-info/cache): where that cache swaps two map
// generations every netlink polling cycle, this index keeps one map plus
// a companion FIFO queue of insertion order, since eviction here must be
// true oldest-first rather than generation-based.
package seqindex

import (
	"time"

	"github.com/srtlabond/bond/metrics"
)

// DefaultCapacity and DefaultAgeCap are the spec.md §4.4 defaults.
const (
	DefaultCapacity = 10000
	DefaultAgeCap   = 5 * time.Second
)

// LinkRef is anything the index can hand back on a successful lookup.
// seqindex never dereferences or mutates it; session wires in
// *linkstate.Link values.
type LinkRef interface{}

type entry struct {
	seq      uint32
	link     LinkRef
	inserted time.Time
}

// Index is the bounded FIFO sequence-to-link map. Not safe for
// concurrent use -- like linkstate and registration, it is touched only
// from the session's event-loop goroutine (spec.md §5).
type Index struct {
	capacity int
	ageCap   time.Duration

	byseq map[uint32]*entry
	order []*entry // FIFO queue by insertion order; order[0] is oldest

	attributionCorrect  uint64
	attributionFallback uint64
}

// New builds an Index with the given capacity and age cap. Passing 0 for
// either selects the spec.md §4.4 default.
func New(capacity int, ageCap time.Duration) *Index {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ageCap <= 0 {
		ageCap = DefaultAgeCap
	}
	return &Index{
		capacity: capacity,
		ageCap:   ageCap,
		byseq:    make(map[uint32]*entry, capacity),
		order:    make([]*entry, 0, capacity),
	}
}

// Insert records that seq was transmitted by link at time now. If the
// index is already at capacity, the single oldest entry is evicted
// (true FIFO, spec.md §4.4), regardless of whether it has expired; it
// reports whether that eviction happened, so the caller can surface
// bonderrors.ErrCapacityExceeded (spec.md §7) without this package
// needing to know about logging.
func (idx *Index) Insert(seq uint32, link LinkRef, now time.Time) bool {
	if old, ok := idx.byseq[seq]; ok {
		old.link = link
		old.inserted = now
		return false
	}
	evicted := false
	if len(idx.order) >= idx.capacity {
		idx.evictOldest()
		evicted = true
	}
	e := &entry{seq: seq, link: link, inserted: now}
	idx.byseq[seq] = e
	idx.order = append(idx.order, e)
	metrics.SeqIndexOccupancyHistogram.Observe(float64(len(idx.byseq)))
	return evicted
}

func (idx *Index) evictOldest() {
	if len(idx.order) == 0 {
		return
	}
	oldest := idx.order[0]
	idx.order = idx.order[1:]
	delete(idx.byseq, oldest.seq)
}

// Lookup resolves seq to the link that transmitted it, provided the
// entry exists and has not exceeded the age cap as of now. A hit removes
// the entry (it is consumed by the NAK it resolves) and bumps the
// attribution-correct counter; a miss (absent or expired) bumps the
// attribution-fallback counter and reports ok=false so the caller can
// charge the NAK to the receiving link instead (spec.md §4.4's fallback
// rule).
func (idx *Index) Lookup(seq uint32, now time.Time) (link LinkRef, ok bool) {
	e, present := idx.byseq[seq]
	if !present {
		idx.attributionFallback++
		return nil, false
	}
	if now.Sub(e.inserted) > idx.ageCap {
		idx.remove(e)
		idx.attributionFallback++
		return nil, false
	}
	idx.remove(e)
	idx.attributionCorrect++
	return e.link, true
}

func (idx *Index) remove(e *entry) {
	delete(idx.byseq, e.seq)
	for i, o := range idx.order {
		if o == e {
			idx.order = append(idx.order[:i], idx.order[i+1:]...)
			break
		}
	}
}

// EvictExpired sweeps every entry older than the age cap in one pass,
// as run on every housekeeping pass (spec.md §4.7 step 3). It returns the
// number of entries removed.
func (idx *Index) EvictExpired(now time.Time) int {
	removed := 0
	kept := idx.order[:0]
	for _, e := range idx.order {
		if now.Sub(e.inserted) > idx.ageCap {
			delete(idx.byseq, e.seq)
			removed++
			continue
		}
		kept = append(kept, e)
	}
	idx.order = kept
	return removed
}

// Len reports the current number of tracked entries.
func (idx *Index) Len() int {
	return len(idx.byseq)
}

// Utilization reports occupancy as a fraction of capacity, used by
// housekeeping's "warn if > 80% of capacity" rule (spec.md §4.7 step 3).
func (idx *Index) Utilization() float64 {
	return float64(len(idx.byseq)) / float64(idx.capacity)
}

// AttributionCounts returns the cumulative correct/fallback attribution
// counts, the index's health metric (spec.md §4.4).
func (idx *Index) AttributionCounts() (correct, fallback uint64) {
	return idx.attributionCorrect, idx.attributionFallback
}
