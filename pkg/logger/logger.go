package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// TimestampFormat is yy-mm-dd HH:MM:ss.
const TimestampFormat = "06-01-02 15:04:05"

var (
	// Logger is the process-wide logger set by Init.
	Logger *logrus.Logger

	mu      sync.Mutex
	current *lumberjack.Logger
)

// Config describes where log lines go.
type Config struct {
	Level      string // debug, info, warn, error
	OutputFile string // optional; empty means console only
	MaxSize    int    // MB before rotation
	MaxBackups int
	MaxAge     int // days
	Compress   bool
	Console    bool // also write to stdout
}

// DefaultConfig logs info and above to stdout.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Console:    true,
	}
}

// New builds a standalone logger from cfg. The returned closer releases the
// log file, if any.
func New(cfg Config) (*logrus.Logger, io.Closer, error) {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	l.SetFormatter(newFormatter(cfg))

	var writers []io.Writer
	if cfg.Console {
		writers = append(writers, os.Stdout)
	}

	var file *lumberjack.Logger
	if cfg.OutputFile != "" {
		if dir := filepath.Dir(cfg.OutputFile); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, err
			}
		}
		file = &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		writers = append(writers, file)
	}

	switch len(writers) {
	case 0:
		l.SetOutput(io.Discard)
	case 1:
		l.SetOutput(writers[0])
	default:
		l.SetOutput(io.MultiWriter(writers...))
	}

	if file == nil {
		return l, nopCloser{}, nil
	}
	return l, file, nil
}

func newFormatter(cfg Config) logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: TimestampFormat,
		// Colors only make sense when a terminal is attached.
		ForceColors:   cfg.Console && cfg.OutputFile == "",
		DisableColors: cfg.OutputFile != "",
	}
}

// Init installs the process-wide logger and mirrors its settings into the
// logrus standard logger, so packages logging through logrus.WithField end
// up in the same place.
func Init(cfg Config) error {
	l, closer, err := New(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		_ = current.Close()
		current = nil
	}
	if f, ok := closer.(*lumberjack.Logger); ok {
		current = f
	}
	Logger = l

	logrus.SetOutput(l.Out)
	logrus.SetLevel(l.GetLevel())
	logrus.SetFormatter(l.Formatter)
	return nil
}

// Close releases the log file opened by Init.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return nil
	}
	err := current.Close()
	current = nil
	return err
}

// CurrentFile returns the file Init is writing to, or "".
func CurrentFile() string {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return ""
	}
	return current.Filename
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func std() *logrus.Logger {
	if Logger != nil {
		return Logger
	}
	return logrus.StandardLogger()
}

func Debug(args ...interface{}) { std().Debug(args...) }

func Debugf(format string, args ...interface{}) { std().Debugf(format, args...) }

func Info(args ...interface{}) { std().Info(args...) }

func Infof(format string, args ...interface{}) { std().Infof(format, args...) }

func Warn(args ...interface{}) { std().Warn(args...) }

func Warnf(format string, args ...interface{}) { std().Warnf(format, args...) }

func Error(args ...interface{}) { std().Error(args...) }

func Errorf(format string, args ...interface{}) { std().Errorf(format, args...) }

// WithField returns an entry carrying one field.
func WithField(key string, value interface{}) *logrus.Entry {
	return std().WithField(key, value)
}

// WithFields returns an entry carrying several fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return std().WithFields(fields)
}

// Module is shorthand for WithField("module", name).
func Module(name string) *logrus.Entry {
	return std().WithField("module", name)
}
