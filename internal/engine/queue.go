package engine

import (
	"sync"

	"github.com/roach88/reduce/internal/ir"
)

// requestQueue is a thread-safe FIFO queue of reduction requests.
//
// Primitives enqueue requests while they run; the control loop services
// them after each step. A request stays queued until it has been serviced,
// so a failed service leaves it (and everything behind it) in place.
type requestQueue struct {
	mu       sync.Mutex
	requests []ir.Request
}

// newRequestQueue creates an empty request queue.
func newRequestQueue() *requestQueue {
	return &requestQueue{
		requests: make([]ir.Request, 0, 8),
	}
}

// Enqueue adds a request to the back of the queue.
// Thread-safe: may be called from any goroutine.
func (q *requestQueue) Enqueue(r ir.Request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.requests = append(q.requests, r)
}

// Peek returns the front request without removing it.
func (q *requestQueue) Peek() (ir.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.requests) == 0 {
		return nil, false
	}
	return q.requests[0], true
}

// Pop removes the front request. Called once the request has been serviced.
func (q *requestQueue) Pop() (ir.Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.requests) == 0 {
		return nil, false
	}
	r := q.requests[0]

	// Nil out the slot so the request can be collected.
	q.requests[0] = nil
	if len(q.requests) == 1 {
		q.requests = q.requests[:0]
	} else {
		q.requests = q.requests[1:]
	}
	return r, true
}

// Snapshot returns a copy of the queued requests in order.
func (q *requestQueue) Snapshot() []ir.Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]ir.Request, len(q.requests))
	copy(out, q.requests)
	return out
}

// Clear removes queued requests of the given kinds, or every request when
// no kind is given.
func (q *requestQueue) Clear(kinds ...ir.RequestKind) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(kinds) == 0 {
		q.requests = q.requests[:0]
		return
	}
	drop := make(map[ir.RequestKind]bool, len(kinds))
	for _, k := range kinds {
		drop[k] = true
	}
	kept := q.requests[:0]
	for _, r := range q.requests {
		if !drop[r.Kind()] {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(q.requests); i++ {
		q.requests[i] = nil
	}
	q.requests = kept
}

// Len returns the current queue length.
func (q *requestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests)
}
