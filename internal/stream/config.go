package stream

import "time"

const (
	DefaultURL = "ws://localhost:8000/api/ws"

	defaultPingInterval        = 30 * time.Second
	defaultReconnectBaseDelay  = 3 * time.Second
	defaultReconnectMaxDelay   = 30 * time.Second
	defaultReconnectMultiplier = 1.5
	defaultHandshakeTimeout    = 30 * time.Second
	defaultWriteTimeout        = 10 * time.Second
)

// Config configures a Client.
type Config struct {
	URL      string
	APIKey   string
	ProxyURL string

	PingInterval time.Duration
	// PongTimeout force-closes the transport when nothing was received for
	// this long while authenticated. Zero disables the check.
	PongTimeout time.Duration

	ReconnectBaseDelay  time.Duration
	ReconnectMaxDelay   time.Duration
	ReconnectMultiplier float64
	ReconnectJitter     float64

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// DefaultConfig returns the dashboard defaults: ping every 30s, reconnect
// after 3s growing by 1.5x up to 30s.
func DefaultConfig() *Config {
	return &Config{
		URL:                 DefaultURL,
		PingInterval:        defaultPingInterval,
		ReconnectBaseDelay:  defaultReconnectBaseDelay,
		ReconnectMaxDelay:   defaultReconnectMaxDelay,
		ReconnectMultiplier: defaultReconnectMultiplier,
		HandshakeTimeout:    defaultHandshakeTimeout,
		WriteTimeout:        defaultWriteTimeout,
	}
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.PingInterval <= 0 {
		out.PingInterval = defaultPingInterval
	}
	if out.ReconnectBaseDelay <= 0 {
		out.ReconnectBaseDelay = defaultReconnectBaseDelay
	}
	if out.ReconnectMaxDelay <= 0 {
		out.ReconnectMaxDelay = defaultReconnectMaxDelay
	}
	if out.ReconnectMaxDelay < out.ReconnectBaseDelay {
		out.ReconnectMaxDelay = out.ReconnectBaseDelay
	}
	if out.ReconnectMultiplier < 1 {
		out.ReconnectMultiplier = defaultReconnectMultiplier
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = defaultHandshakeTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = defaultWriteTimeout
	}
	return &out
}
