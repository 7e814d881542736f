// Package reconnect implements the reconnection manager from spec.md
// §4.7 and §9: exponential backoff for Failed/timed-out links, expressed
// as a priority queue of (due_time, action) pairs drained by the
// session's housekeeping tick (the package runs no goroutine of its
// own) -- spec.md §9's "coroutine-like control" design note, built in
// the idiom of saver.NewMarshaller's worker but generalized from a FIFO
// channel to a time-ordered queue via
// container/heap (no pack library offers a generic delayed-task queue,
// so this is one of the few stdlib-only corners; see DESIGN.md).
package reconnect

import (
	"container/heap"
	"time"
)

// Backoff constants from spec.md §4.7: base 5s, doubling, cap 120s, at
// most 5 doublings.
const (
	BaseDelay    = 5 * time.Second
	MaxDelay     = 120 * time.Second
	MaxDoublings = 5
)

// Action identifies the link a scheduled reconnection attempt is for.
// reconnect never touches linkstate.Link directly -- it only hands the
// caller back the key it was given at Schedule time, the way
// saver.NewMarshaller's workers only ever see a *Connection pointer they
// were handed, not TCP internals.
type Action interface{}

type item struct {
	key    interface{}
	due    time.Time
	action Action
	index  int // heap.Interface bookkeeping
}

// pqueue is a container/heap.Interface ordering items by due time.
type pqueue []*item

func (q pqueue) Len() int            { return len(q) }
func (q pqueue) Less(i, j int) bool  { return q[i].due.Before(q[j].due) }
func (q pqueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index, q[j].index = i, j }
func (q *pqueue) Push(x interface{}) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}
func (q *pqueue) Pop() interface{} {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return it
}

// Manager tracks one pending backoff item per key (the key is whatever
// the caller used to identify a Link -- typically its xid.ID) and hands
// back due actions via Due(). Like linkstate and registration, it is
// driven entirely from the session's housekeeping tick; it owns no
// goroutine or timer of its own.
//
// failCount persists per key across the Schedule -> Due -> (retry
// fails) -> Schedule cycle, even though the item itself leaves the heap
// on every Due(); only Succeeded() resets it, per spec.md §4.7's "on
// success the backoff resets". A key absent from failCount has never
// failed (or has just succeeded), so its zero value is exactly the
// "zero doublings, base delay" starting point.
type Manager struct {
	q         pqueue
	queued    map[interface{}]*item
	failCount map[interface{}]int
	now       func() time.Time
}

// NewManager builds an empty Manager. now is injected for deterministic
// tests.
func NewManager(now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{
		queued:    make(map[interface{}]*item),
		failCount: make(map[interface{}]int),
		now:       now,
	}
}

// Schedule enqueues (or reschedules) a reconnection attempt for key,
// carrying action, with the next backoff delay computed from key's prior
// failure history. Each call after the first for the same key doubles
// the delay, up to MaxDoublings, capped at MaxDelay.
func (m *Manager) Schedule(key interface{}, action Action) {
	doublings := m.failCount[key]
	if doublings > MaxDoublings {
		doublings = MaxDoublings
	}
	due := m.now().Add(delayFor(doublings))
	m.failCount[key] = m.failCount[key] + 1

	if existing, ok := m.queued[key]; ok {
		existing.action = action
		existing.due = due
		heap.Fix(&m.q, existing.index)
		return
	}
	it := &item{key: key, due: due, action: action}
	m.queued[key] = it
	heap.Push(&m.q, it)
}

// delayFor returns BaseDelay doubled doublings times, capped at MaxDelay.
func delayFor(doublings int) time.Duration {
	d := BaseDelay
	for i := 0; i < doublings; i++ {
		d *= 2
		if d >= MaxDelay {
			return MaxDelay
		}
	}
	return d
}

// Succeeded clears key's backoff state entirely, resetting it to the
// base delay on its next Schedule call (spec.md §4.7: "on success the
// backoff resets").
func (m *Manager) Succeeded(key interface{}) {
	delete(m.failCount, key)
	it, ok := m.queued[key]
	if !ok {
		return
	}
	delete(m.queued, key)
	heap.Remove(&m.q, it.index)
}

// Due pops and returns every action whose due time has passed as of
// now, removing them from the queue (but not from failCount -- a
// subsequent Schedule for the same key continues doubling from where it
// left off, until Succeeded resets it).
func (m *Manager) Due(now time.Time) []Action {
	var out []Action
	for len(m.q) > 0 && !m.q[0].due.After(now) {
		it := heap.Pop(&m.q).(*item)
		delete(m.queued, it.key)
		out = append(out, it.action)
	}
	return out
}

// Pending reports whether key currently has a scheduled reconnection.
func (m *Manager) Pending(key interface{}) bool {
	_, ok := m.queued[key]
	return ok
}

// Len reports the number of pending scheduled reconnections.
func (m *Manager) Len() int {
	return len(m.q)
}
