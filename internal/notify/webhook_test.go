package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/betbot/tekaba/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookSinkPostsAlert(t *testing.T) {
	var got webhookPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink, err := NewWebhookSink(WebhookConfig{
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer t0ken"},
	})
	require.NoError(t, err)

	a := Alert{Kind: stream.TypeSignal, Title: "Signal: BTCUSDT", Body: "LONG A @ 65000", Symbol: "BTCUSDT"}
	require.NoError(t, sink.Send(context.Background(), a))

	assert.Equal(t, "Bearer t0ken", auth)
	assert.Equal(t, "Signal: BTCUSDT\nLONG A @ 65000", got.Text)
	assert.Equal(t, a, got.Alert)
}

func TestWebhookSinkRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, err := NewWebhookSink(WebhookConfig{URL: srv.URL, RetryCount: 3, Timeout: time.Second})
	require.NoError(t, err)

	require.NoError(t, sink.Send(context.Background(), Alert{Title: "x"}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookSinkReportsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad payload"}`))
	}))
	defer srv.Close()

	sink, err := NewWebhookSink(WebhookConfig{URL: srv.URL})
	require.NoError(t, err)

	err = sink.Send(context.Background(), Alert{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad payload")
}

func TestNewWebhookSinkValidatesURL(t *testing.T) {
	_, err := NewWebhookSink(WebhookConfig{})
	assert.Error(t, err)
	_, err = NewWebhookSink(WebhookConfig{URL: "ftp://example.com"})
	assert.Error(t, err)
}

func TestWebhookSinkRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	sink, err := NewWebhookSink(WebhookConfig{URL: srv.URL, RatePerMinute: 1})
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), Alert{Title: "first"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = sink.Send(ctx, Alert{Title: "second"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.Equal(t, int32(1), hits.Load())
}
