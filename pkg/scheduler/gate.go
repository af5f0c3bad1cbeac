package scheduler

import "sync"

// gate defers dequeuing without touching lifecycle state. While paused,
// admitted commands stay queued (and persisted); stop() is still honored.
type gate struct {
	mu     sync.Mutex
	paused bool
	opened chan struct{} // closed while the gate is open
}

func newGate() *gate {
	opened := make(chan struct{})
	close(opened)
	return &gate{opened: opened}
}

// pause closes the gate.
func (g *gate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return
	}
	g.paused = true
	g.opened = make(chan struct{})
}

// resume reopens the gate and wakes every waiter.
func (g *gate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.opened)
}

func (g *gate) isPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// wait blocks until the gate is open or stop is closed. It returns false
// when interrupted by stop.
func (g *gate) wait(stop <-chan struct{}) bool {
	for {
		g.mu.Lock()
		paused := g.paused
		opened := g.opened
		g.mu.Unlock()

		if !paused {
			return true
		}
		select {
		case <-opened:
		case <-stop:
			return false
		}
	}
}
