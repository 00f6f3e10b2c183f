package syncgroup

import (
	"sync"
)

// SyncGroup wraps sync.WaitGroup so callers never pair Add and Done by hand.
// Functions queued with Add start together on Run.
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	pending []func()
	running int
}

func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add queues fn for the next Run.
func (g *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = append(g.pending, fn)
}

// Go starts fn right away.
func (g *SyncGroup) Go(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.running++
	g.mu.Unlock()
	g.start(fn)
}

// Run starts every queued function.
func (g *SyncGroup) Run() {
	g.mu.Lock()
	fns := g.pending
	g.pending = nil
	g.running += len(fns)
	g.mu.Unlock()

	for _, fn := range fns {
		g.start(fn)
	}
}

func (g *SyncGroup) start(fn func()) {
	g.wg.Add(1)
	go func() {
		defer func() {
			g.mu.Lock()
			g.running--
			g.mu.Unlock()
			g.wg.Done()
		}()
		fn()
	}()
}

// Running reports how many started functions have not returned.
func (g *SyncGroup) Running() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running
}

// Wait blocks until every started function has returned.
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}
