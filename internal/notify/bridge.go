package notify

import (
	"context"
	"sync"
	"time"

	"github.com/betbot/tekaba/internal/stream"
	"github.com/sirupsen/logrus"
)

const (
	defaultQueueSize   = 64
	defaultSendTimeout = 15 * time.Second
)

// Stats counts what the bridge did with the alerts it was handed.
type Stats struct {
	Queued     uint64 `json:"queued"`
	Sent       uint64 `json:"sent"`
	Failed     uint64 `json:"failed"`
	Dropped    uint64 `json:"dropped"`
	Suppressed uint64 `json:"suppressed"`
	Permission string `json:"permission"`
	Asked      bool   `json:"asked"`
	LastAlert  *Alert `json:"last_alert,omitempty"`
}

// Bridge turns signal and position_update frames into alerts and hands them
// to a sink on its own goroutine. Notify never blocks: when the queue is
// full the alert is dropped.
//
// Permission policy: granted sends, denied drops without asking again,
// undetermined asks the sink once per Bridge and sends only if granted.
type Bridge struct {
	sink        Sink
	log         *logrus.Entry
	sendTimeout time.Duration
	queueSize   int

	queue chan Alert
	done  chan struct{}

	mu      sync.RWMutex
	closed  bool
	started bool

	statsMu sync.Mutex
	stats   Stats
	asked   bool
}

// BridgeOption customizes a Bridge.
type BridgeOption func(*Bridge)

func WithQueueSize(n int) BridgeOption {
	return func(b *Bridge) {
		if n > 0 {
			b.queueSize = n
		}
	}
}

func WithSendTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) {
		if d > 0 {
			b.sendTimeout = d
		}
	}
}

func WithBridgeLogger(log *logrus.Entry) BridgeOption {
	return func(b *Bridge) { b.log = log }
}

// NewBridge returns a bridge feeding sink. Call Start to begin delivery.
func NewBridge(sink Sink, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		sink:        sink,
		log:         logrus.WithField("module", "notify"),
		sendTimeout: defaultSendTimeout,
		queueSize:   defaultQueueSize,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.queue = make(chan Alert, b.queueSize)
	return b
}

var _ stream.Notifier = (*Bridge)(nil)

// Start launches the delivery goroutine, which exits when ctx ends or Close
// has drained the queue. Calling it again is a no-op.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	go b.run(ctx)
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-b.queue:
			if !ok {
				return
			}
			b.deliver(ctx, a)
		}
	}
}

// Notify implements stream.Notifier.
func (b *Bridge) Notify(msg stream.Message) {
	a, ok, err := AlertFor(msg)
	if err != nil {
		b.log.Warnf("cannot render %s alert: %v", msg.Type, err)
		return
	}
	if !ok {
		return
	}
	b.Enqueue(a)
}

// Enqueue queues an alert without blocking. It reports false when the alert
// was dropped.
func (b *Bridge) Enqueue(a Alert) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.queue <- a:
		b.statsMu.Lock()
		b.stats.Queued++
		b.statsMu.Unlock()
		return true
	default:
		b.statsMu.Lock()
		b.stats.Dropped++
		b.statsMu.Unlock()
		b.log.Warnf("alert queue full, dropping %q", a.Title)
		return false
	}
}

func (b *Bridge) deliver(ctx context.Context, a Alert) {
	if !b.permitted(ctx) {
		b.statsMu.Lock()
		b.stats.Suppressed++
		b.statsMu.Unlock()
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, b.sendTimeout)
	defer cancel()
	err := b.sink.Send(sendCtx, a)

	b.statsMu.Lock()
	if err != nil {
		b.stats.Failed++
	} else {
		b.stats.Sent++
		last := a
		b.stats.LastAlert = &last
	}
	b.statsMu.Unlock()

	if err != nil {
		b.log.Warnf("alert %q via %s failed: %v", a.Title, b.sink.Name(), err)
	}
}

func (b *Bridge) permitted(ctx context.Context) bool {
	switch b.sink.Permission() {
	case PermissionGranted:
		return true
	case PermissionDenied:
		return false
	}

	b.statsMu.Lock()
	asked := b.asked
	b.asked = true
	b.statsMu.Unlock()
	if asked {
		return false
	}

	perm, err := b.sink.RequestPermission(ctx)
	if err != nil {
		b.log.Warnf("permission request via %s failed: %v", b.sink.Name(), err)
		return false
	}
	b.log.Infof("alert permission: %s", perm)
	return perm == PermissionGranted
}

// Close stops accepting alerts and waits for queued ones to be delivered or
// ctx to end.
func (b *Bridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	started := b.started
	b.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a copy of the counters.
func (b *Bridge) Stats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	st := b.stats
	st.Asked = b.asked
	st.Permission = b.sink.Permission().String()
	if st.LastAlert != nil {
		last := *st.LastAlert
		st.LastAlert = &last
	}
	return st
}
