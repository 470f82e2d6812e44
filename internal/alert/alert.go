// Package alert implements the five alert predicates of SPEC_FULL.md
// §4.9: debounced condition checks, an active-alert map enforcing at
// most one active row per type, and rate-limited webhook fan-out.
package alert

import (
	"fmt"
	"sort"
	"time"

	"github.com/babygramps/pitctl/internal/model"
	"go.uber.org/zap"
)

const debounceWindow = 5 * time.Second
const webhookRateLimit = 60 * time.Second
const stuckHighWindow = 2 * time.Minute

// Store is the persistence surface the alert engine needs.
type Store interface {
	SaveAlert(model.Alert) (model.Alert, error)
	UpdateAlert(model.Alert) error
	GetAlert(id uint64) (model.Alert, bool)
	AppendEvent(model.Event) error
}

// Notifier schedules a fire-and-forget webhook send. internal/webhook's
// Dispatcher implements this.
type Notifier interface {
	Enqueue(url string, alert model.Alert)
}

// Thresholds carries the settings the predicates compare against.
type Thresholds struct {
	HiAlarmC             float64
	LoAlarmC             float64
	StuckHighRateCPerMin float64
}

// Status is the current control-tick snapshot the predicates evaluate.
type Status struct {
	TempC       *float64
	RelayOn     bool
	SimMode     bool
	AnyFallback bool
}

// Summary is the active-alert counts the telemetry publisher embeds in
// each frame.
type Summary struct {
	Count          int
	Critical       int
	Error          int
	Warning        int
	Info           int
	Unacknowledged int
}

type tempSample struct {
	ts    time.Time
	tempC float64
}

// Engine evaluates the five predicates each tick and manages alert
// lifecycle and webhook dispatch.
type Engine struct {
	store      Store
	notifier   Notifier
	webhookURL string
	log        *zap.Logger

	active   map[model.AlertType]model.Alert
	debounce map[model.AlertType]time.Time

	lastWebhookAt   time.Time
	haveLastWebhook bool

	stuckHighHistory []tempSample
}

// NewEngine builds an Engine. notifier may be nil to disable webhooks
// even when webhookURL is set.
func NewEngine(store Store, notifier Notifier, webhookURL string, log *zap.Logger) *Engine {
	return &Engine{
		store:      store,
		notifier:   notifier,
		webhookURL: webhookURL,
		log:        log,
		active:     make(map[model.AlertType]model.Alert),
		debounce:   make(map[model.AlertType]time.Time),
	}
}

// Check runs all five predicates for one control tick.
func (e *Engine) Check(status Status, th Thresholds, now time.Time) {
	e.checkHighTemp(status, th, now)
	e.checkLowTemp(status, th, now)
	e.checkStuckHigh(status, th, now)
	e.checkSensorFault(status, now)
	e.checkHardwareFallback(status, now)
}

func (e *Engine) checkHighTemp(status Status, th Thresholds, now time.Time) {
	if status.TempC == nil {
		return
	}
	temp := *status.TempC
	if temp >= th.HiAlarmC {
		e.raise(model.AlertHighTemp, model.SeverityError,
			fmtTempAlert("High temperature alert", temp, th.HiAlarmC),
			map[string]any{"temp_c": temp, "threshold": th.HiAlarmC}, now)
	} else {
		e.clear(model.AlertHighTemp, "Temperature returned to normal range", now)
	}
}

func (e *Engine) checkLowTemp(status Status, th Thresholds, now time.Time) {
	if status.TempC == nil {
		return
	}
	temp := *status.TempC
	if temp <= th.LoAlarmC {
		e.raise(model.AlertLowTemp, model.SeverityWarning,
			fmtTempAlert("Low temperature alert", temp, th.LoAlarmC),
			map[string]any{"temp_c": temp, "threshold": th.LoAlarmC}, now)
	} else {
		e.clear(model.AlertLowTemp, "Temperature returned to normal range", now)
	}
}

// checkStuckHigh maintains a 2-minute rolling window of control
// temperature and flags a rise rate above threshold while the relay is
// off. Unlike alerts.py's per-reading-count divisor (which only holds
// at an exact 1Hz cadence), the rate here is rise-over-elapsed-minutes,
// so it's correct regardless of tick jitter — see DESIGN.md.
func (e *Engine) checkStuckHigh(status Status, th Thresholds, now time.Time) {
	if status.TempC == nil {
		return
	}
	e.stuckHighHistory = append(e.stuckHighHistory, tempSample{ts: now, tempC: *status.TempC})
	cutoff := now.Add(-stuckHighWindow)
	i := 0
	for i < len(e.stuckHighHistory) && e.stuckHighHistory[i].ts.Before(cutoff) {
		i++
	}
	e.stuckHighHistory = e.stuckHighHistory[i:]

	if len(e.stuckHighHistory) < 2 {
		return
	}
	oldest := e.stuckHighHistory[0]
	newest := e.stuckHighHistory[len(e.stuckHighHistory)-1]
	elapsedMin := newest.ts.Sub(oldest.ts).Minutes()
	if elapsedMin <= 0 {
		return
	}
	ratePerMin := (newest.tempC - oldest.tempC) / elapsedMin

	if !status.RelayOn && ratePerMin > th.StuckHighRateCPerMin {
		e.raise(model.AlertStuckHigh, model.SeverityError,
			fmtRateAlert(newest.tempC, ratePerMin), map[string]any{
				"temp_c":      newest.tempC,
				"rate":        ratePerMin,
				"relay_state": status.RelayOn,
			}, now)
	} else {
		e.clear(model.AlertStuckHigh, "Temperature rate returned to normal", now)
	}
}

func (e *Engine) checkSensorFault(status Status, now time.Time) {
	if status.TempC == nil {
		e.raise(model.AlertSensorFault, model.SeverityCritical,
			"Temperature sensor fault - no reading available", nil, now)
	} else {
		e.clear(model.AlertSensorFault, "Sensor reading restored", now)
	}
}

func (e *Engine) checkHardwareFallback(status Status, now time.Time) {
	if !status.SimMode && status.AnyFallback {
		e.raise(model.AlertHardwareFallback, model.SeverityWarning,
			"A sensor or relay channel has fallen back to simulation", nil, now)
	} else {
		e.clear(model.AlertHardwareFallback, "All channels back on real hardware", now)
	}
}

// raise creates an alert for key unless one is already active or the
// idle→active transition is within the 5s debounce window.
func (e *Engine) raise(key model.AlertType, severity model.Severity, message string, metadata map[string]any, now time.Time) {
	if _, ok := e.active[key]; ok {
		return
	}
	if last, ok := e.debounce[key]; ok && now.Sub(last) < debounceWindow {
		return
	}

	alert := model.Alert{
		Ts: now, AlertType: key, Severity: severity, Message: message,
		Active: true, Metadata: metadata,
	}
	saved, err := e.store.SaveAlert(alert)
	if err != nil {
		e.log.Error("failed to create alert", zap.String("key", string(key)), zap.Error(err))
		return
	}

	e.active[key] = saved
	e.debounce[key] = now
	_ = e.store.AppendEvent(model.Event{
		Ts: now, Kind: "alert_created", Message: "Alert created: " + message,
		Meta: map[string]any{"alert_id": saved.ID, "alert_type": string(key)},
	})
	e.log.Warn("alert created", zap.String("key", string(key)), zap.String("message", message))

	e.maybeSendWebhook(saved, now)
}

func (e *Engine) clear(key model.AlertType, clearMessage string, now time.Time) {
	alert, ok := e.active[key]
	if !ok {
		return
	}
	alert.Active = false
	cleared := now
	alert.ClearedTs = &cleared
	_ = e.store.UpdateAlert(alert)
	_ = e.store.AppendEvent(model.Event{
		Ts: now, Kind: "alert_cleared", Message: "Alert cleared: " + clearMessage,
		Meta: map[string]any{"alert_id": alert.ID, "alert_type": string(key)},
	})
	e.log.Info("alert cleared", zap.String("key", string(key)), zap.String("message", clearMessage))
	delete(e.active, key)
}

func (e *Engine) maybeSendWebhook(alert model.Alert, now time.Time) {
	if e.webhookURL == "" || e.notifier == nil {
		return
	}
	if e.haveLastWebhook && now.Sub(e.lastWebhookAt) < webhookRateLimit {
		e.log.Debug("webhook rate limited")
		return
	}
	e.notifier.Enqueue(e.webhookURL, alert)
	e.lastWebhookAt = now
	e.haveLastWebhook = true
}

// Acknowledge flips acknowledged on an active alert.
func (e *Engine) Acknowledge(id uint64, now time.Time) bool {
	alert, ok := e.store.GetAlert(id)
	if !ok || !alert.Active {
		return false
	}
	alert.Acknowledged = true
	_ = e.store.UpdateAlert(alert)
	_ = e.store.AppendEvent(model.Event{
		Ts: now, Kind: "alert_acknowledged", Message: "Alert acknowledged: " + alert.Message,
		Meta: map[string]any{"alert_id": id},
	})
	for k, v := range e.active {
		if v.ID == id {
			v.Acknowledged = true
			e.active[k] = v
			break
		}
	}
	return true
}

// ClearManual force-clears an alert regardless of predicate state.
func (e *Engine) ClearManual(id uint64, now time.Time) bool {
	alert, ok := e.store.GetAlert(id)
	if !ok || !alert.Active {
		return false
	}
	alert.Active = false
	cleared := now
	alert.ClearedTs = &cleared
	_ = e.store.UpdateAlert(alert)
	for k, v := range e.active {
		if v.ID == id {
			delete(e.active, k)
			break
		}
	}
	_ = e.store.AppendEvent(model.Event{
		Ts: now, Kind: "alert_cleared_manual", Message: "Alert manually cleared: " + alert.Message,
		Meta: map[string]any{"alert_id": id},
	})
	return true
}

// ActiveAlerts returns the currently active alerts, ordered by ID.
func (e *Engine) ActiveAlerts() []model.Alert {
	out := make([]model.Alert, 0, len(e.active))
	for _, v := range e.active {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetSummary reports the active-alert counts for the telemetry frame.
func (e *Engine) GetSummary() Summary {
	var s Summary
	for _, a := range e.active {
		s.Count++
		switch a.Severity {
		case model.SeverityCritical:
			s.Critical++
		case model.SeverityError:
			s.Error++
		case model.SeverityWarning:
			s.Warning++
		case model.SeverityInfo:
			s.Info++
		}
		if !a.Acknowledged {
			s.Unacknowledged++
		}
	}
	return s
}

func fmtTempAlert(label string, tempC, thresholdC float64) string {
	return fmt.Sprintf("%s: %.1f°C (threshold: %.1f°C)", label, tempC, thresholdC)
}

func fmtRateAlert(tempC, ratePerMin float64) string {
	return fmt.Sprintf("Stuck high temperature: %.1f°C rising at %.1f°C/min (relay off)", tempC, ratePerMin)
}
