package scheduler

import (
	"context"
	"sync"
)

// Empty is the result type of commands whose only payload is success.
type Empty struct{}

// Future is a single-fulfillment handle to a command's eventual result.
// It is fulfilled exactly once, on every lifecycle path.
type Future[T any] struct {
	done  chan struct{}
	once  sync.Once
	value T
	err   error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) fulfill(value T, err error) {
	f.once.Do(func() {
		f.value = value
		f.err = err
		close(f.done)
	})
}

// Wait blocks until the future is fulfilled or the context is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel closed when the future is fulfilled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}
