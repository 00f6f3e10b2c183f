package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tekaba.log")

	l, closer, err := New(Config{Level: "debug", OutputFile: path, MaxSize: 1})
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	l.WithField("module", "test").Info("hello file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
	assert.Contains(t, string(data), "module=test")
}

func TestNewFallsBackToInfo(t *testing.T) {
	l, closer, err := New(Config{Level: "chatty"})
	require.NoError(t, err)
	defer closer.Close()
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())
}

func TestInitMirrorsStandardLogger(t *testing.T) {
	prevOut := logrus.StandardLogger().Out
	prevLevel := logrus.GetLevel()
	prevFormatter := logrus.StandardLogger().Formatter
	t.Cleanup(func() {
		_ = Close()
		Logger = nil
		logrus.SetOutput(prevOut)
		logrus.SetLevel(prevLevel)
		logrus.SetFormatter(prevFormatter)
	})

	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, Init(Config{Level: "warn", OutputFile: path}))
	assert.Equal(t, path, CurrentFile())
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())

	logrus.WithField("module", "stream").Warn("via std")
	Module("notify").Info("filtered")
	Warnf("via helper %d", 7)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "via std")
	assert.Contains(t, out, "via helper 7")
	assert.NotContains(t, out, "filtered")

	require.NoError(t, Close())
	assert.Empty(t, CurrentFile())
}

func TestHelpersWithoutInit(t *testing.T) {
	prev := Logger
	Logger = nil
	t.Cleanup(func() { Logger = prev })

	assert.NotNil(t, WithField("k", "v"))
	assert.NotNil(t, WithFields(logrus.Fields{"a": 1}))
}
