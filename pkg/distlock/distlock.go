package distlock

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// SingleAttemptTimeout is the bounded wait a caller grants a single
// acquisition attempt. A resource still busy afterwards fails fast; there is
// no retry loop.
const SingleAttemptTimeout = 100 * time.Millisecond

// ErrLockBusy is matched by errors.Is when a resource is held elsewhere.
var ErrLockBusy = errors.New("lock busy")

// BusyError reports a failed acquisition and who holds the resource.
type BusyError struct {
	Resource string
	HeldFor  string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("failed to acquire dist lock %s locally (held for: %s)", e.Resource, e.HeldFor)
}

func (e *BusyError) Is(target error) bool {
	return target == ErrLockBusy
}

// Manager hands out named mutual-exclusion locks. Implementations must be
// safe for concurrent use.
type Manager interface {
	// TryAcquire attempts to take the lock on resource, waiting at most
	// timeout for a concurrent holder to release it. It returns a BusyError
	// if the resource is still held when the timeout expires.
	TryAcquire(resource, reason string, timeout time.Duration) (*Lock, error)
}

// Lock is a held lock. Release is idempotent and must be called on every
// exit path of the owning operation.
type Lock struct {
	resource string
	release  func()
	once     sync.Once
}

// Resource returns the name the lock was acquired under.
func (l *Lock) Resource() string { return l.resource }

// Release gives the lock back. Subsequent calls are no-ops.
func (l *Lock) Release() {
	l.once.Do(l.release)
}

type lockEntry struct {
	reason   string
	released chan struct{}
}

// LocalManager serializes lock owners within a single balancer process. The
// balancer runs on one coordinator at a time, so process-local exclusion is
// sufficient; the interface leaves room for a networked implementation.
type LocalManager struct {
	mu   sync.Mutex
	held map[string]*lockEntry
}

// NewLocalManager creates an empty lock manager.
func NewLocalManager() *LocalManager {
	return &LocalManager{held: make(map[string]*lockEntry)}
}

// TryAcquire implements Manager.
func (m *LocalManager) TryAcquire(resource, reason string, timeout time.Duration) (*Lock, error) {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		entry, busy := m.held[resource]
		if !busy {
			entry = &lockEntry{reason: reason, released: make(chan struct{})}
			m.held[resource] = entry
			m.mu.Unlock()
			return &Lock{
				resource: resource,
				release: func() {
					m.mu.Lock()
					delete(m.held, resource)
					m.mu.Unlock()
					close(entry.released)
				},
			}, nil
		}
		wait := entry.released
		heldFor := entry.reason
		m.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &BusyError{Resource: resource, HeldFor: heldFor}
		}
		timer := time.NewTimer(remaining)
		select {
		case <-wait:
			timer.Stop()
		case <-timer.C:
			return nil, &BusyError{Resource: resource, HeldFor: heldFor}
		}
	}
}
