package notify

import (
	"testing"

	"github.com/betbot/tekaba/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, frame string) stream.Message {
	t.Helper()
	msg, err := stream.ParseMessage([]byte(frame))
	require.NoError(t, err)
	return *msg
}

func TestAlertFor(t *testing.T) {
	tests := []struct {
		name      string
		frame     string
		wantOK    bool
		wantTitle string
		wantBody  string
	}{
		{
			name:      "signal",
			frame:     `{"type":"signal","data":{"symbol":"BTCUSDT","direction":"LONG","pattern":"A","price":65000.5,"timestamp":"2024-01-01T00:00:00Z"}}`,
			wantOK:    true,
			wantTitle: "Signal: BTCUSDT",
			wantBody:  "LONG A @ 65000.5",
		},
		{
			name:      "take profit with pnl",
			frame:     `{"type":"position_update","data":{"event":"tp1_hit","symbol":"ETHUSDT","direction":"SHORT","entry_price":3000,"total_pnl":1.256,"timestamp":"t"}}`,
			wantOK:    true,
			wantTitle: "TP1 Hit: ETHUSDT",
			wantBody:  "PnL: 1.26%",
		},
		{
			name:      "stop loss negative pnl",
			frame:     `{"type":"position_update","data":{"event":"sl_hit","symbol":"ETHUSDT","direction":"SHORT","entry_price":3000,"exit_price":3030,"total_pnl":-1,"timestamp":"t"}}`,
			wantOK:    true,
			wantTitle: "SL Hit: ETHUSDT",
			wantBody:  "PnL: -1.00%",
		},
		{
			name:      "no pnl falls back to event",
			frame:     `{"type":"position_update","data":{"event":"trailing_activated","symbol":"SOLUSDT","direction":"LONG","entry_price":150,"total_pnl":null,"timestamp":"t"}}`,
			wantOK:    true,
			wantTitle: "trailing_activated: SOLUSDT",
			wantBody:  "trailing_activated",
		},
		{
			name:      "labels",
			frame:     `{"type":"position_update","data":{"event":"tp_absolute_hit","symbol":"X","direction":"LONG","entry_price":1,"timestamp":"t"}}`,
			wantOK:    true,
			wantTitle: "Absolute TP: X",
			wantBody:  "tp_absolute_hit",
		},
		{
			name:   "precursor is not alerted",
			frame:  `{"type":"precursor","data":[]}`,
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, ok, err := AlertFor(mustParse(t, tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.Equal(t, tt.wantTitle, a.Title)
			assert.Equal(t, tt.wantBody, a.Body)
		})
	}
}

func TestAlertForBadPayload(t *testing.T) {
	_, ok, err := AlertFor(mustParse(t, `{"type":"signal","data":"oops"}`))
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestEventLabel(t *testing.T) {
	assert.Equal(t, "Trailing Stop", EventLabel(stream.EventTrailingHit))
	assert.Equal(t, "TP2 Hit", EventLabel(stream.EventTP2Hit))
	assert.Equal(t, "opened", EventLabel(stream.EventOpened))
}
