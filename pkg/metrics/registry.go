package metrics

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Observer reports the progress of one in-flight high-level balancer
// operation (a whole defragmentation or rebalancing round, not a single
// command).
type Observer interface {
	StartTime() time.Time
	RemainingTime() time.Duration
}

// Registry aggregates the observers of all in-flight operations. Observers
// register when the operation begins and deregister through the returned
// function when it finishes, from any goroutine.
type Registry struct {
	mu        sync.Mutex
	observers map[string]Observer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{observers: make(map[string]Observer)}
}

// Register adds an observer and returns its deregistration function. The
// returned function is idempotent.
func (r *Registry) Register(o Observer) func() {
	id := uuid.New().String()
	r.mu.Lock()
	r.observers[id] = o
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.observers, id)
			r.mu.Unlock()
		})
	}
}

// Count returns the number of currently registered observers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers)
}

// OldestOperationRemainingTime returns the remaining time reported by the
// observer with the earliest start time, or 0 when none are registered.
func (r *Registry) OldestOperationRemainingTime() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	var oldest Observer
	for _, o := range r.observers {
		if oldest == nil || o.StartTime().Before(oldest.StartTime()) {
			oldest = o
		}
	}
	if oldest == nil {
		return 0
	}
	return oldest.RemainingTime()
}
