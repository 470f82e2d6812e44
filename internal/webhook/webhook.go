// Package webhook sends alert notifications to an external URL, choosing
// between the generic JSON schema and the Discord embed schema per
// spec.md §6. Dispatch runs through a small bounded worker pool so a
// slow or failing endpoint never blocks the control loop (SPEC_FULL.md
// §5's fire-and-forget requirement).
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/babygramps/pitctl/internal/model"
	"go.uber.org/zap"
)

const discordMarker = "discord.com/api/webhooks"

const postTimeout = 10 * time.Second

// Sender posts a single alert notification to url.
type Sender interface {
	Send(ctx context.Context, url string, alert model.Alert) error
}

// HTTPSender posts over a plain http.Client, selecting the payload shape
// by URL substring match.
type HTTPSender struct {
	client *http.Client
}

// NewHTTPSender builds an HTTPSender with the spec's 10s POST timeout.
func NewHTTPSender() *HTTPSender {
	return &HTTPSender{client: &http.Client{Timeout: postTimeout}}
}

func (s *HTTPSender) Send(ctx context.Context, url string, alert model.Alert) error {
	var body []byte
	if strings.Contains(url, discordMarker) {
		body = discordPayload(alert)
	} else {
		body = genericPayload(alert)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// genericPayload builds the flat JSON body of spec.md §6.
func genericPayload(a model.Alert) []byte {
	payload := map[string]any{
		"alert_id":   a.ID,
		"alert_type": a.AlertType,
		"severity":   a.Severity,
		"message":    a.Message,
		"timestamp":  a.Ts.UTC().Format(time.RFC3339),
		"metadata":   a.Metadata,
	}
	b, _ := json.Marshal(payload)
	return b
}

var alertEmoji = map[model.AlertType]string{
	model.AlertHighTemp:         "🔥",
	model.AlertLowTemp:          "🧊",
	model.AlertStuckHigh:        "⚠️",
	model.AlertSensorFault:      "❌",
	model.AlertHardwareFallback: "🔌",
}

var alertTitle = map[model.AlertType]string{
	model.AlertHighTemp:         "High Temperature",
	model.AlertLowTemp:          "Low Temperature",
	model.AlertStuckHigh:        "Stuck High",
	model.AlertSensorFault:      "Sensor Fault",
	model.AlertHardwareFallback: "Hardware Fallback",
}

var severityColor = map[model.Severity]int{
	model.SeverityCritical: 15158332,
	model.SeverityError:    15105570,
	model.SeverityWarning:  16776960,
	model.SeverityInfo:     3447003,
}

// discordPayload builds a single-embed Discord webhook body per
// spec.md §6: title with emoji, message as description, severity color,
// and Severity/Alert ID/Temperature/Threshold fields when present.
func discordPayload(a model.Alert) []byte {
	title := fmt.Sprintf("%s %s", alertEmoji[a.AlertType], alertTitle[a.AlertType])

	fields := []map[string]any{
		{"name": "Severity", "value": string(a.Severity), "inline": true},
		{"name": "Alert ID", "value": fmt.Sprintf("%d", a.ID), "inline": true},
	}
	if tempC, ok := a.Metadata["temp_c"].(float64); ok {
		fields = append(fields, map[string]any{
			"name":   "Temperature",
			"value":  fmt.Sprintf("%.1f°C / %.1f°F", tempC, model.CelsiusToFahrenheit(tempC)),
			"inline": true,
		})
	}
	if threshC, ok := a.Metadata["threshold"].(float64); ok {
		fields = append(fields, map[string]any{
			"name":   "Threshold",
			"value":  fmt.Sprintf("%.1f°C / %.1f°F", threshC, model.CelsiusToFahrenheit(threshC)),
			"inline": true,
		})
	}

	embed := map[string]any{
		"title":       title,
		"description": a.Message,
		"color":       severityColor[a.Severity],
		"fields":      fields,
		"timestamp":   a.Ts.UTC().Format(time.RFC3339),
	}
	payload := map[string]any{"embeds": []any{embed}}
	b, _ := json.Marshal(payload)
	return b
}

// Dispatcher runs webhook sends on a bounded worker pool so Enqueue never
// blocks the caller (the control loop). Failures are logged, never
// propagated.
type Dispatcher struct {
	sender Sender
	log    *zap.Logger
	jobs   chan dispatchJob
	done   chan struct{}
}

type dispatchJob struct {
	url   string
	alert model.Alert
}

// NewDispatcher starts workers workers pulling from a buffered queue.
func NewDispatcher(sender Sender, log *zap.Logger, workers, queueSize int) *Dispatcher {
	d := &Dispatcher{
		sender: sender,
		log:    log,
		jobs:   make(chan dispatchJob, queueSize),
		done:   make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d
}

func (d *Dispatcher) worker() {
	for {
		select {
		case job, ok := <-d.jobs:
			if !ok {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), postTimeout)
			err := d.sender.Send(ctx, job.url, job.alert)
			cancel()
			if err != nil {
				d.log.Warn("webhook send failed",
					zap.Uint64("alert_id", job.alert.ID),
					zap.Error(err))
			}
		case <-d.done:
			return
		}
	}
}

// Enqueue schedules a send, dropping it if the queue is full rather than
// blocking the caller.
func (d *Dispatcher) Enqueue(url string, alert model.Alert) {
	select {
	case d.jobs <- dispatchJob{url: url, alert: alert}:
	default:
		d.log.Warn("webhook queue full, dropping notification", zap.Uint64("alert_id", alert.ID))
	}
}

// Close stops the workers. Jobs still queued are not sent, and
// in-flight sends are not awaited.
func (d *Dispatcher) Close() {
	close(d.done)
}
