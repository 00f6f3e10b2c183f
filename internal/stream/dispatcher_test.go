package stream

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSession struct {
	auths int
	pongs int
}

func (s *recordingSession) Authenticated() { s.auths++ }
func (s *recordingSession) Pong()          { s.pongs++ }

func TestDispatchRoutesControlFrames(t *testing.T) {
	log, hook := newTestLogger()
	d := NewDispatcher(NewRegistry[Listener](), nil, newFakeClock(), log)
	sess := &recordingSession{}

	require.NoError(t, d.Dispatch([]byte(`{"type":"auth_success"}`), sess))
	require.NoError(t, d.Dispatch([]byte(`{"type":"pong"}`), sess))
	require.NoError(t, d.Dispatch([]byte(`{"type":"error","message":"invalid api key"}`), sess))

	assert.Equal(t, 1, sess.auths)
	assert.Equal(t, 1, sess.pongs)

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.ErrorLevel, last.Level)
	assert.Contains(t, last.Message, "invalid api key")
}

func TestDispatchIgnoresBlankFrames(t *testing.T) {
	log, _ := newTestLogger()
	d := NewDispatcher(NewRegistry[Listener](), nil, newFakeClock(), log)

	require.NoError(t, d.Dispatch([]byte("  \n"), nil))
	assert.Zero(t, d.Stats().Frames)
}

func TestDispatchRateLimitsParseErrorLogs(t *testing.T) {
	clock := newFakeClock()
	log, hook := newTestLogger()
	d := NewDispatcher(NewRegistry[Listener](), nil, clock, log)

	for i := 0; i < 5; i++ {
		assert.Error(t, d.Dispatch([]byte("{broken"), nil))
	}
	assert.Len(t, hook.AllEntries(), 1)

	clock.Advance(6 * time.Second)
	assert.Error(t, d.Dispatch([]byte("{broken"), nil))
	assert.Len(t, hook.AllEntries(), 2)
	assert.Equal(t, uint64(6), d.Stats().ParseErrors)
}

func TestDispatchSnapshotsListeners(t *testing.T) {
	log, _ := newTestLogger()
	reg := NewRegistry[Listener]()
	d := NewDispatcher(reg, nil, newFakeClock(), log)

	var calls []string
	var removeSecond func()
	reg.Add(ListenerFunc(func(Message) error {
		calls = append(calls, "first")
		removeSecond()
		return nil
	}))
	_, removeSecond = reg.Add(ListenerFunc(func(Message) error {
		calls = append(calls, "second")
		return nil
	}))

	require.NoError(t, d.Dispatch([]byte(signalFrame), nil))
	require.NoError(t, d.Dispatch([]byte(signalFrame), nil))

	assert.Equal(t, []string{"first", "second", "first"}, calls)
}

func TestDispatchNotifierPanicIsContained(t *testing.T) {
	log, _ := newTestLogger()
	got := 0
	reg := NewRegistry[Listener]()
	reg.Add(ListenerFunc(func(Message) error {
		got++
		return nil
	}))
	d := NewDispatcher(reg, notifierFunc(func(Message) { panic("sink exploded") }), newFakeClock(), log)

	assert.NotPanics(t, func() {
		_ = d.Dispatch([]byte(signalFrame), nil)
		_ = d.Dispatch([]byte(signalFrame), nil)
	})
	assert.Equal(t, 2, got)
}
