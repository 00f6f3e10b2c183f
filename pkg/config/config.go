package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/betbot/tekaba/internal/stream"
	"github.com/betbot/tekaba/pkg/logger"
)

// StreamConfig holds the event stream connection settings.
type StreamConfig struct {
	URL                 string
	APIKey              string
	Proxy               string
	PingInterval        time.Duration
	PongTimeout         time.Duration // 0 disables the liveness check
	ReconnectBase       time.Duration
	ReconnectMax        time.Duration
	ReconnectMultiplier float64
	ReconnectJitter     float64
	HandshakeTimeout    time.Duration
	WriteTimeout        time.Duration
}

// NotifyConfig holds alert delivery settings.
type NotifyConfig struct {
	Enabled        bool
	Permission     string // granted, denied or prompt
	WebhookURL     string
	WebhookTimeout time.Duration
	WebhookRetries int
	WebhookRate    int // deliveries per minute, 0 for unlimited
	QueueSize      int
}

// LogConfig mirrors logger.Config.
type LogConfig struct {
	Level      string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// Config is the resolved application configuration.
type Config struct {
	Stream StreamConfig
	Notify NotifyConfig
	Listen string // status API address; empty disables it
	Debug  bool   // expose expvar and pprof on the status API
	Log    LogConfig
}

// ConfigFile is the on-disk layout (YAML or JSON).
type ConfigFile struct {
	Stream struct {
		URL                 string   `yaml:"url" json:"url"`
		APIKey              string   `yaml:"api_key" json:"api_key"`
		Proxy               string   `yaml:"proxy" json:"proxy"`
		PingInterval        Duration `yaml:"ping_interval" json:"ping_interval"`
		PongTimeout         Duration `yaml:"pong_timeout" json:"pong_timeout"`
		ReconnectBase       Duration `yaml:"reconnect_base" json:"reconnect_base"`
		ReconnectMax        Duration `yaml:"reconnect_max" json:"reconnect_max"`
		ReconnectMultiplier float64  `yaml:"reconnect_multiplier" json:"reconnect_multiplier"`
		ReconnectJitter     float64  `yaml:"reconnect_jitter" json:"reconnect_jitter"`
		HandshakeTimeout    Duration `yaml:"handshake_timeout" json:"handshake_timeout"`
		WriteTimeout        Duration `yaml:"write_timeout" json:"write_timeout"`
	} `yaml:"stream" json:"stream"`
	Notify struct {
		Enabled        *bool    `yaml:"enabled" json:"enabled"`
		Permission     string   `yaml:"permission" json:"permission"`
		WebhookURL     string   `yaml:"webhook_url" json:"webhook_url"`
		WebhookTimeout Duration `yaml:"webhook_timeout" json:"webhook_timeout"`
		WebhookRetries int      `yaml:"webhook_retries" json:"webhook_retries"`
		WebhookRate    *int     `yaml:"webhook_rate_per_minute" json:"webhook_rate_per_minute"`
		QueueSize      int      `yaml:"queue_size" json:"queue_size"`
	} `yaml:"notify" json:"notify"`
	Listen string `yaml:"listen" json:"listen"`
	Debug  bool   `yaml:"debug_endpoints" json:"debug_endpoints"`
	Log    struct {
		Level      string `yaml:"level" json:"level"`
		File       string `yaml:"file" json:"file"`
		MaxSize    int    `yaml:"max_size" json:"max_size"`
		MaxBackups int    `yaml:"max_backups" json:"max_backups"`
		MaxAge     int    `yaml:"max_age" json:"max_age"`
		Compress   bool   `yaml:"compress" json:"compress"`
	} `yaml:"log" json:"log"`
}

// Default returns the built-in settings before any file or environment is
// applied.
func Default() *Config {
	sc := stream.DefaultConfig()
	return &Config{
		Stream: StreamConfig{
			URL:                 sc.URL,
			PingInterval:        sc.PingInterval,
			ReconnectBase:       sc.ReconnectBaseDelay,
			ReconnectMax:        sc.ReconnectMaxDelay,
			ReconnectMultiplier: sc.ReconnectMultiplier,
			HandshakeTimeout:    sc.HandshakeTimeout,
			WriteTimeout:        sc.WriteTimeout,
		},
		Notify: NotifyConfig{
			Enabled:        true,
			Permission:     "prompt",
			WebhookTimeout: 10 * time.Second,
			WebhookRetries: 2,
			WebhookRate:    30,
			QueueSize:      64,
		},
		Listen: "127.0.0.1:8089",
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// Load resolves configuration from defaults, then the optional file, then the
// environment. The result is not validated.
func Load(filePath string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		cf, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("load config file %s: %w", filePath, err)
		}
		cfg.applyFile(cf)
	}

	cfg.applyEnv()
	return cfg, nil
}

// loadConfigFile reads YAML or JSON by extension.
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cf ConfigFile
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .yaml, .yml or .json)", ext)
	}
	return &cf, nil
}

func (c *Config) applyFile(cf *ConfigFile) {
	s := &c.Stream
	setString(&s.URL, cf.Stream.URL)
	setString(&s.APIKey, cf.Stream.APIKey)
	setString(&s.Proxy, cf.Stream.Proxy)
	setDuration(&s.PingInterval, cf.Stream.PingInterval)
	setDuration(&s.PongTimeout, cf.Stream.PongTimeout)
	setDuration(&s.ReconnectBase, cf.Stream.ReconnectBase)
	setDuration(&s.ReconnectMax, cf.Stream.ReconnectMax)
	setDuration(&s.HandshakeTimeout, cf.Stream.HandshakeTimeout)
	setDuration(&s.WriteTimeout, cf.Stream.WriteTimeout)
	if cf.Stream.ReconnectMultiplier != 0 {
		s.ReconnectMultiplier = cf.Stream.ReconnectMultiplier
	}
	if cf.Stream.ReconnectJitter != 0 {
		s.ReconnectJitter = cf.Stream.ReconnectJitter
	}

	n := &c.Notify
	if cf.Notify.Enabled != nil {
		n.Enabled = *cf.Notify.Enabled
	}
	setString(&n.Permission, cf.Notify.Permission)
	setString(&n.WebhookURL, cf.Notify.WebhookURL)
	setDuration(&n.WebhookTimeout, cf.Notify.WebhookTimeout)
	if cf.Notify.WebhookRetries != 0 {
		n.WebhookRetries = cf.Notify.WebhookRetries
	}
	if cf.Notify.WebhookRate != nil {
		n.WebhookRate = *cf.Notify.WebhookRate
	}
	if cf.Notify.QueueSize != 0 {
		n.QueueSize = cf.Notify.QueueSize
	}

	setString(&c.Listen, cf.Listen)
	c.Debug = c.Debug || cf.Debug

	l := &c.Log
	setString(&l.Level, cf.Log.Level)
	setString(&l.File, cf.Log.File)
	if cf.Log.MaxSize != 0 {
		l.MaxSize = cf.Log.MaxSize
	}
	if cf.Log.MaxBackups != 0 {
		l.MaxBackups = cf.Log.MaxBackups
	}
	if cf.Log.MaxAge != 0 {
		l.MaxAge = cf.Log.MaxAge
	}
	l.Compress = l.Compress || cf.Log.Compress
}

// applyEnv overrides with TEKABA_* variables. The NEXT_PUBLIC_* names are
// accepted for the URL and key so an existing dashboard .env works as is.
func (c *Config) applyEnv() {
	s := &c.Stream
	s.URL = getEnv("TEKABA_WS_URL", getEnv("NEXT_PUBLIC_WS_URL", s.URL))
	s.APIKey = getEnv("TEKABA_WS_API_KEY", getEnv("NEXT_PUBLIC_WS_API_KEY", s.APIKey))
	s.Proxy = getEnv("TEKABA_WS_PROXY", s.Proxy)
	s.PingInterval = parseDurationEnv("TEKABA_PING_INTERVAL", s.PingInterval)
	s.PongTimeout = parseDurationEnv("TEKABA_PONG_TIMEOUT", s.PongTimeout)
	s.ReconnectBase = parseDurationEnv("TEKABA_RECONNECT_BASE", s.ReconnectBase)
	s.ReconnectMax = parseDurationEnv("TEKABA_RECONNECT_MAX", s.ReconnectMax)
	s.ReconnectMultiplier = parseFloatEnv("TEKABA_RECONNECT_MULTIPLIER", s.ReconnectMultiplier)

	n := &c.Notify
	n.Enabled = parseBoolEnv("TEKABA_NOTIFY_ENABLED", n.Enabled)
	n.Permission = getEnv("TEKABA_NOTIFY_PERMISSION", n.Permission)
	n.WebhookURL = getEnv("TEKABA_WEBHOOK_URL", n.WebhookURL)
	n.WebhookRetries = parseIntEnv("TEKABA_WEBHOOK_RETRIES", n.WebhookRetries)
	n.WebhookRate = parseIntEnv("TEKABA_WEBHOOK_RATE", n.WebhookRate)

	c.Listen = getEnv("TEKABA_LISTEN", c.Listen)
	c.Debug = parseBoolEnv("TEKABA_DEBUG_ENDPOINTS", c.Debug)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)
}

// Validate checks the settings the client cannot run without.
func (c *Config) Validate() error {
	s := c.Stream
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("TEKABA_WS_URL is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("TEKABA_WS_URL must use ws:// or wss://, got %q", s.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("TEKABA_WS_URL has no host")
	}
	if s.APIKey == "" {
		return fmt.Errorf("TEKABA_WS_API_KEY is not set")
	}
	if s.PingInterval <= 0 {
		return fmt.Errorf("ping interval must be positive")
	}
	if s.PongTimeout < 0 {
		return fmt.Errorf("pong timeout cannot be negative")
	}
	if s.ReconnectBase <= 0 || s.ReconnectMax <= 0 {
		return fmt.Errorf("reconnect delays must be positive")
	}
	if s.ReconnectBase > s.ReconnectMax {
		return fmt.Errorf("reconnect base %s exceeds max %s", s.ReconnectBase, s.ReconnectMax)
	}
	if s.ReconnectMultiplier < 1 {
		return fmt.Errorf("reconnect multiplier must be >= 1, got %g", s.ReconnectMultiplier)
	}
	if s.ReconnectJitter < 0 || s.ReconnectJitter >= 1 {
		return fmt.Errorf("reconnect jitter must be in [0, 1), got %g", s.ReconnectJitter)
	}

	switch strings.ToLower(c.Notify.Permission) {
	case "", "prompt", "granted", "denied":
	default:
		return fmt.Errorf("TEKABA_NOTIFY_PERMISSION must be granted, denied or prompt, got %q", c.Notify.Permission)
	}
	if c.Notify.WebhookRate < 0 {
		return fmt.Errorf("webhook rate cannot be negative")
	}
	if c.Notify.WebhookURL != "" {
		if w, err := url.Parse(c.Notify.WebhookURL); err != nil || (w.Scheme != "http" && w.Scheme != "https") {
			return fmt.Errorf("TEKABA_WEBHOOK_URL must be an http(s) URL")
		}
	}
	return nil
}

// ToStream converts to the client configuration.
func (c *Config) ToStream() *stream.Config {
	s := c.Stream
	return &stream.Config{
		URL:                 s.URL,
		APIKey:              s.APIKey,
		ProxyURL:            s.Proxy,
		PingInterval:        s.PingInterval,
		PongTimeout:         s.PongTimeout,
		ReconnectBaseDelay:  s.ReconnectBase,
		ReconnectMaxDelay:   s.ReconnectMax,
		ReconnectMultiplier: s.ReconnectMultiplier,
		ReconnectJitter:     s.ReconnectJitter,
		HandshakeTimeout:    s.HandshakeTimeout,
		WriteTimeout:        s.WriteTimeout,
	}
}

// ToLogger converts to logger settings. console controls stdout output.
func (c *Config) ToLogger(console bool) logger.Config {
	return logger.Config{
		Level:      c.Log.Level,
		OutputFile: c.Log.File,
		MaxSize:    c.Log.MaxSize,
		MaxBackups: c.Log.MaxBackups,
		MaxAge:     c.Log.MaxAge,
		Compress:   c.Log.Compress,
		Console:    console,
	}
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	out := *c
	if k := out.Stream.APIKey; k != "" {
		if len(k) > 4 {
			out.Stream.APIKey = k[:4] + "****"
		} else {
			out.Stream.APIKey = "****"
		}
	}
	return out
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v Duration) {
	if v != 0 {
		*dst = time.Duration(v)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseDurationEnv accepts "30s"-style values or bare seconds.
func parseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := parseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
