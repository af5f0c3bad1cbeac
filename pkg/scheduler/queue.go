package scheduler

import "sync"

// requestQueue is a thread-safe FIFO of admitted commands. Submitting
// callers push; only the worker pops. Unbounded: admission control happens
// before persistence, not here.
type requestQueue struct {
	mu     sync.Mutex
	items  []*request
	signal chan struct{} // buffered size 1, set on push
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		items:  make([]*request, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

func (q *requestQueue) push(r *request) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *requestQueue) pop() (*request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	r := q.items[0]
	q.items = q.items[1:]
	return r, true
}

// drain removes and returns everything still queued.
func (q *requestQueue) drain() []*request {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// wakeup is the channel push signals on.
func (q *requestQueue) wakeup() <-chan struct{} {
	return q.signal
}
