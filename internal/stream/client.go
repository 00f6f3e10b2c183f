package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	ErrNoURL        = errors.New("stream: no URL configured")
	ErrStopped      = errors.New("stream: client stopped")
	ErrDialAborted  = errors.New("stream: dial aborted by disconnect")
	ErrNotConnected = errors.New("stream: not connected")
	ErrPongTimeout  = errors.New("stream: no frame received within pong timeout")
)

// Client is the persistent event connection. It authenticates on every open,
// pings while authenticated and reconnects with capped exponential backoff
// until Disconnect or Stop.
//
// All state lives under mu. Each transport gets a generation number; callbacks
// carrying an old generation are ignored.
type Client struct {
	cfg    *Config
	dialer Dialer
	clock  Clock
	log    *logrus.Entry

	listeners  *Registry[Listener]
	watchers   *Registry[func(bool)]
	dispatcher *Dispatcher
	keepalive  *Keepalive
	backoff    *Backoff

	mu              sync.Mutex
	state           State
	conn            Conn
	generation      uint64
	authenticated   bool
	shouldReconnect bool
	stopped         bool
	dialCancel      context.CancelFunc
	reconnectTimer  Timer
	reconnectSeq    uint64
	reconnectDelay  time.Duration
	carryDelay      time.Duration
	nextReconnectAt time.Time
	reconnects      uint64
	lastFrameAt     time.Time
	lastPongAt      time.Time
	connectedAt     time.Time
	disconnectedAt  time.Time
	lastErr         error

	// connection-change fan-out; see publishConnection
	notifyMu      sync.Mutex
	notifying     bool
	notifyPending bool
	notified      bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option customizes a Client.
type Option func(*Client)

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithClock replaces the wall clock used for timers.
func WithClock(clock Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// WithLogger sets the log entry.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Client) { c.log = log }
}

// WithNotifier hands signal and position_update frames to n after listeners.
func WithNotifier(n Notifier) Option {
	return func(c *Client) { c.dispatcher.notifier = n }
}

// New builds a client. It does not connect.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	cfg = cfg.withDefaults()

	c := &Client{
		cfg:       cfg,
		clock:     realClock{},
		log:       logrus.WithField("module", "stream"),
		listeners: NewRegistry[Listener](),
		watchers:  NewRegistry[func(bool)](),
		state:     StateIdle,
		stopCh:    make(chan struct{}),
	}
	c.dispatcher = NewDispatcher(c.listeners, nil, nil, nil)
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = NewGorillaDialer(cfg)
	}
	c.dispatcher.clock = c.clock
	c.dispatcher.log = c.log
	c.keepalive = NewKeepalive(c.clock, cfg.PingInterval, c.sendPing, c.log)
	c.backoff = NewBackoff(cfg.ReconnectBaseDelay, cfg.ReconnectMaxDelay, cfg.ReconnectMultiplier, cfg.ReconnectJitter)
	return c, nil
}

// Connect dials the endpoint unless a transport is open or a dial is in
// flight. A dial failure schedules a reconnect like a close would, and is
// also returned. Connect re-enables reconnects after Disconnect.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	c.shouldReconnect = true
	if c.conn != nil || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	if c.reconnectTimer != nil {
		// The wait is cut short, not spent: a failure reuses the same delay.
		c.carryDelay = c.reconnectDelay
	}
	c.cancelReconnectLocked()
	return c.dialLocked()
}

// dialLocked is entered with mu held and returns with it released.
func (c *Client) dialLocked() error {
	c.generation++
	gen := c.generation
	c.state = StateConnecting
	ctx, cancel := context.WithCancel(context.Background())
	c.dialCancel = cancel
	url := c.cfg.URL
	c.mu.Unlock()

	c.log.Infof("connecting to %s", url)
	conn, err := c.dialer.Dial(ctx, url)
	cancel()

	c.mu.Lock()
	if gen != c.generation {
		// Disconnected, or superseded, while dialing.
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrDialAborted
	}
	c.dialCancel = nil

	if err != nil {
		c.state = StateClosed
		c.lastErr = err
		c.disconnectedAt = c.clock.Now()
		delay, scheduled := c.scheduleReconnectLocked()
		c.mu.Unlock()
		if scheduled {
			c.log.Warnf("connect failed: %v, retrying in %s", err, delay)
		} else {
			c.log.Warnf("connect failed: %v", err)
		}
		return err
	}

	c.conn = conn
	c.state = StateOpen
	c.authenticated = false
	c.backoff.Reset()
	c.carryDelay = 0
	now := c.clock.Now()
	c.connectedAt = now
	c.lastFrameAt = now
	c.lastErr = nil

	c.wg.Add(1)
	go c.readLoop(conn, gen)

	authErr := c.writeLocked(authFrame{Type: typeAuth, APIKey: c.cfg.APIKey})
	c.mu.Unlock()

	if authErr != nil {
		_ = conn.Close()
		c.log.Warnf("failed to send auth frame: %v", authErr)
		return authErr
	}
	c.log.Info("connected, auth sent")
	return nil
}

// Disconnect stops reconnecting, cancels timers and an in-flight dial, and
// closes the transport. It is safe to call from any state, any number of
// times, including from a listener.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.shouldReconnect = false
	c.carryDelay = 0
	c.cancelReconnectLocked()
	c.keepalive.Stop()
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.generation++
	c.authenticated = false
	if c.state != StateIdle {
		c.state = StateClosed
	}
	if conn != nil {
		c.disconnectedAt = c.clock.Now()
	}
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		c.log.Info("disconnected")
	}
	c.publishConnection()
}

// Start connects and disconnects once ctx is done. A failed first dial is
// logged and retried in the background.
func (c *Client) Start(ctx context.Context) error {
	if err := c.Connect(); err != nil {
		if errors.Is(err, ErrStopped) {
			return err
		}
		c.log.Warnf("initial connect failed, will retry: %v", err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-ctx.Done():
			c.Disconnect()
		case <-c.stopCh:
		}
	}()
	return nil
}

// Stop disconnects for good and waits for the reader goroutines to exit.
// It must not be called from a listener; use Disconnect there.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()
		close(c.stopCh)
	})
	c.Disconnect()
	c.wg.Wait()
}

// IsConnected reports whether the transport is open and authenticated.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnectedLocked()
}

func (c *Client) isConnectedLocked() bool {
	return c.conn != nil && c.authenticated
}

// State returns the lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers l for every event frame and returns its unsubscribe
// func.
func (c *Client) Subscribe(l Listener) func() {
	_, unsubscribe := c.listeners.Add(l)
	return unsubscribe
}

// SubscribeFunc registers a plain function.
func (c *Client) SubscribeFunc(fn func(Message) error) func() {
	return c.Subscribe(ListenerFunc(fn))
}

// OnConnectionChange calls fn with the new IsConnected value each time it
// changes. Calls are serialized and never made with the state lock held.
func (c *Client) OnConnectionChange(fn func(connected bool)) func() {
	_, unsubscribe := c.watchers.Add(fn)
	return unsubscribe
}

func (c *Client) readLoop(conn Conn, gen uint64) {
	defer c.wg.Done()

	sess := &session{client: c, gen: gen}
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		if !c.touch(gen) {
			return
		}
		_ = c.dispatcher.Dispatch(data, sess)
	}
}

// touch records frame arrival; false means the transport was replaced.
func (c *Client) touch(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation || c.conn == nil {
		return false
	}
	c.lastFrameAt = c.clock.Now()
	return true
}

func (c *Client) handleClose(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.generation || c.conn == nil {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.authenticated = false
	c.keepalive.Stop()
	c.conn = nil
	c.state = StateClosed
	c.lastErr = cause
	c.disconnectedAt = c.clock.Now()
	delay, scheduled := c.scheduleReconnectLocked()
	c.mu.Unlock()

	_ = conn.Close()
	if scheduled {
		c.log.Warnf("connection closed: %v, reconnecting in %s", cause, delay)
	} else {
		c.log.Infof("connection closed: %v", cause)
	}
	c.publishConnection()
}

// scheduleReconnectLocked arms the reconnect timer unless reconnects are off
// or a timer is already pending.
func (c *Client) scheduleReconnectLocked() (time.Duration, bool) {
	if !c.shouldReconnect || c.stopped || c.reconnectTimer != nil {
		return 0, false
	}
	delay := c.carryDelay
	if delay > 0 {
		c.carryDelay = 0
	} else {
		delay = c.backoff.Next()
	}
	c.reconnectDelay = delay
	c.reconnectSeq++
	seq := c.reconnectSeq
	c.nextReconnectAt = c.clock.Now().Add(delay)
	c.reconnectTimer = c.clock.AfterFunc(delay, func() { c.reconnectFired(seq) })
	return delay, true
}

func (c *Client) cancelReconnectLocked() {
	if c.reconnectTimer == nil {
		return
	}
	c.reconnectTimer.Stop()
	c.reconnectTimer = nil
	c.reconnectSeq++
	c.nextReconnectAt = time.Time{}
}

func (c *Client) reconnectFired(seq uint64) {
	c.mu.Lock()
	if seq != c.reconnectSeq || c.reconnectTimer == nil {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.nextReconnectAt = time.Time{}
	if !c.shouldReconnect || c.stopped || c.conn != nil || c.state == StateConnecting {
		c.mu.Unlock()
		return
	}
	c.reconnects++
	_ = c.dialLocked()
}

// writeLocked sends v on the current transport. On failure the caller closes
// the transport after releasing mu; the reader then takes the normal close
// path.
func (c *Client) writeLocked(v any) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

func (c *Client) sendPing() error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil || !c.authenticated {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.cfg.PongTimeout > 0 && c.clock.Now().Sub(c.lastFrameAt) > c.cfg.PongTimeout {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrPongTimeout
	}
	err := c.writeLocked(pingFrame{Type: typePing})
	c.mu.Unlock()

	if err != nil {
		_ = conn.Close()
	}
	return err
}

// publishConnection fans the current IsConnected value out to watchers when
// it differs from the last one published. A call made while another is
// fanning out (including from inside a watcher) is folded into that loop.
func (c *Client) publishConnection() {
	c.notifyMu.Lock()
	if c.notifying {
		c.notifyPending = true
		c.notifyMu.Unlock()
		return
	}
	c.notifying = true
	for {
		c.notifyPending = false
		c.notifyMu.Unlock()

		connected := c.IsConnected()
		if connected != c.notified {
			c.notified = connected
			for _, fn := range c.watchers.Snapshot() {
				c.callWatcher(fn, connected)
			}
		}

		c.notifyMu.Lock()
		if !c.notifyPending {
			c.notifying = false
			c.notifyMu.Unlock()
			return
		}
	}
}

func (c *Client) callWatcher(fn func(bool), connected bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("connection watcher panic: %v", r)
		}
	}()
	fn(connected)
}

type session struct {
	client *Client
	gen    uint64
}

func (s *session) Authenticated() {
	c := s.client
	c.mu.Lock()
	if s.gen != c.generation || c.conn == nil || c.authenticated {
		c.mu.Unlock()
		return
	}
	c.authenticated = true
	c.state = StateAuthenticated
	c.keepalive.Start()
	c.mu.Unlock()

	c.publishConnection()
}

func (s *session) Pong() {
	c := s.client
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.gen == c.generation {
		c.lastPongAt = c.clock.Now()
	}
}

// Status is a point-in-time view of the connection.
type Status struct {
	State           string        `json:"state"`
	Connected       bool          `json:"connected"`
	URL             string        `json:"url"`
	Reconnects      uint64        `json:"reconnects"`
	ReconnectDelay  time.Duration `json:"reconnect_delay"`
	NextReconnectAt time.Time     `json:"next_reconnect_at,omitzero"`
	ConnectedAt     time.Time     `json:"connected_at,omitzero"`
	DisconnectedAt  time.Time     `json:"disconnected_at,omitzero"`
	LastFrameAt     time.Time     `json:"last_frame_at,omitzero"`
	LastPongAt      time.Time     `json:"last_pong_at,omitzero"`
	LastError       string        `json:"last_error,omitempty"`
	PingsSent       uint64        `json:"pings_sent"`
	Listeners       int           `json:"listeners"`
	Dispatch        DispatchStats `json:"dispatch"`
}

// Status returns a snapshot for status pages and debugging.
func (c *Client) Status() Status {
	c.mu.Lock()
	st := Status{
		State:           c.state.String(),
		Connected:       c.isConnectedLocked(),
		URL:             c.cfg.URL,
		Reconnects:      c.reconnects,
		ReconnectDelay:  c.backoff.Last(),
		NextReconnectAt: c.nextReconnectAt,
		ConnectedAt:     c.connectedAt,
		DisconnectedAt:  c.disconnectedAt,
		LastFrameAt:     c.lastFrameAt,
		LastPongAt:      c.lastPongAt,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()

	st.PingsSent = c.keepalive.Sent()
	st.Listeners = c.listeners.Len()
	st.Dispatch = c.dispatcher.Stats()
	return st
}

// DebugSnapshot returns a one-line summary for logs.
func (c *Client) DebugSnapshot() string {
	st := c.Status()
	return fmt.Sprintf(
		"state=%s connected=%v url=%s reconnects=%d delay=%s listeners=%d frames=%d events=%d parseErrs=%d lastFrameAt=%s lastPongAt=%s lastErr=%q",
		st.State,
		st.Connected,
		st.URL,
		st.Reconnects,
		st.ReconnectDelay,
		st.Listeners,
		st.Dispatch.Frames,
		st.Dispatch.Events,
		st.Dispatch.ParseErrors,
		formatTimeOrEmpty(st.LastFrameAt),
		formatTimeOrEmpty(st.LastPongAt),
		st.LastError,
	)
}

func formatTimeOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
