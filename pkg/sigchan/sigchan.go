package sigchan

import "sync"

// Chan is a non-blocking, coalescing signal channel. It says "something
// happened" without carrying data; signals emitted while the buffer is full
// are folded into the pending one.
type Chan struct {
	c chan struct{}
}

// New creates a signal channel with the given buffer.
func New(bufferSize int) *Chan {
	return &Chan{
		c: make(chan struct{}, bufferSize),
	}
}

// Emit sends a signal without blocking.
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C returns the channel to select on.
func (c *Chan) C() <-chan struct{} {
	return c.c
}

// Hub fans one Emit out to every subscribed Chan.
type Hub struct {
	mu   sync.RWMutex
	next int
	subs map[int]*Chan
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]*Chan)}
}

// Subscribe returns a new Chan that receives every Emit and a func that
// detaches it. Detaching twice is harmless.
func (h *Hub) Subscribe() (*Chan, func()) {
	ch := New(1)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Emit signals every subscriber without blocking.
func (h *Hub) Emit() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		ch.Emit()
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
