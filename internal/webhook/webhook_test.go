package webhook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/babygramps/pitctl/internal/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGenericPayloadShape(t *testing.T) {
	a := model.Alert{
		ID: 7, AlertType: model.AlertHighTemp, Severity: model.SeverityError,
		Message: "High temperature alert: 110.0°C (threshold: 104.4°C)",
		Ts:      time.Unix(1700000000, 0).UTC(),
		Metadata: map[string]any{"temp_c": 110.0, "threshold": 104.4},
	}
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(genericPayload(a), &decoded))
	require.EqualValues(t, 7, decoded["alert_id"])
	require.Equal(t, "high_temp", decoded["alert_type"])
	require.Equal(t, "error", decoded["severity"])
}

func TestDiscordPayloadHasEmbedWithColorAndFields(t *testing.T) {
	a := model.Alert{
		ID: 3, AlertType: model.AlertStuckHigh, Severity: model.SeverityError,
		Message:  "Stuck high temperature: 103.0°C rising at 2.5°C/min (relay off)",
		Ts:       time.Unix(1700000000, 0).UTC(),
		Metadata: map[string]any{"temp_c": 103.0, "threshold": 2.0},
	}
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(discordPayload(a), &decoded))
	embeds, ok := decoded["embeds"].([]any)
	require.True(t, ok)
	require.Len(t, embeds, 1)
	embed := embeds[0].(map[string]any)
	require.EqualValues(t, severityColor[model.SeverityError], embed["color"])
	require.Contains(t, embed["title"], "Stuck High")
}

type fakeSender struct {
	calls chan string
}

func (f *fakeSender) Send(ctx context.Context, url string, alert model.Alert) error {
	f.calls <- url
	return nil
}

func TestDispatcherEnqueueDeliversAsync(t *testing.T) {
	fs := &fakeSender{calls: make(chan string, 1)}
	d := NewDispatcher(fs, zap.NewNop(), 1, 4)
	defer d.Close()

	d.Enqueue("https://example.com/hook", model.Alert{ID: 1})

	select {
	case url := <-fs.calls:
		require.Equal(t, "https://example.com/hook", url)
	case <-time.After(time.Second):
		t.Fatal("webhook was not dispatched")
	}
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	fs := &blockingSender{block: block}
	d := NewDispatcher(fs, zap.NewNop(), 1, 1)
	defer func() {
		close(block)
		d.Close()
	}()

	d.Enqueue("https://a", model.Alert{ID: 1}) // occupies the single worker
	time.Sleep(10 * time.Millisecond)
	d.Enqueue("https://b", model.Alert{ID: 2}) // fills the queue
	d.Enqueue("https://c", model.Alert{ID: 3}) // dropped, must not block
}

type blockingSender struct {
	block chan struct{}
}

func (b *blockingSender) Send(ctx context.Context, url string, alert model.Alert) error {
	<-b.block
	return nil
}
