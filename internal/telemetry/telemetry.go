// Package telemetry implements the 1 Hz observer fan-out of
// SPEC_FULL.md §4.10: a cooperative publish/subscribe shape where
// observers that fail to accept a frame are dropped, grounded on
// `ws/manager.py`'s ConnectionManager.broadcast dead-connection
// pruning. The actual network transport (WebSocket handshake, ping/
// pong framing) is the out-of-scope HTTP surface; this package only
// owns the snapshot shape and fan-out discipline an HTTP layer would
// sit behind.
package telemetry

import (
	"sync"
	"time"

	"github.com/babygramps/pitctl/internal/model"
)

// ThermocoupleFrame is one channel's reading in a telemetry snapshot.
type ThermocoupleFrame struct {
	ThermocoupleID model.ThermocoupleID `json:"thermocouple_id"`
	TempC          float64              `json:"temp_c"`
	TempF          float64              `json:"temp_f"`
	Fault          bool                 `json:"fault"`
}

// AlertSummary mirrors alert.Summary without importing internal/alert,
// keeping this package dependency-light the way ws/manager.py only
// reaches into alert_manager through its public summary/list methods.
type AlertSummary struct {
	Count          int `json:"count"`
	Critical       int `json:"critical"`
	Error          int `json:"error"`
	Warning        int `json:"warning"`
	Info           int `json:"info"`
	Unacknowledged int `json:"unacknowledged"`
}

// PhaseFrame is the current cooking phase, if any.
type PhaseFrame struct {
	PhaseName   model.PhaseName `json:"phase_name"`
	TargetTempF float64         `json:"target_temp_f"`
	IsPaused    bool            `json:"is_paused"`
	PendingTransition bool      `json:"pending_transition"`
}

// Frame is the snapshot broadcast once per second.
type Frame struct {
	Timestamp time.Time `json:"timestamp"`

	Running     bool    `json:"running"`
	BoostActive bool    `json:"boost_active"`
	BoostUntil  *time.Time `json:"boost_until,omitempty"`
	ControlMode string  `json:"control_mode"`

	ActiveSmokeID *model.SmokeID `json:"active_smoke_id,omitempty"`

	CurrentTempC *float64 `json:"current_temp_c,omitempty"`
	CurrentTempF *float64 `json:"current_temp_f,omitempty"`
	SetpointC    float64  `json:"setpoint_c"`
	SetpointF    float64  `json:"setpoint_f"`
	PIDOutput    float64  `json:"pid_output"`
	OutputBool   bool     `json:"output_bool"`
	RelayState   bool     `json:"relay_state"`

	LoopCount    uint64     `json:"loop_count"`
	LastLoopTime *time.Time `json:"last_loop_time,omitempty"`

	ThermocoupleReadings []ThermocoupleFrame `json:"thermocouple_readings"`

	AlertSummary AlertSummary   `json:"alert_summary"`
	Alerts       []model.Alert  `json:"alerts"`

	CurrentPhase *PhaseFrame `json:"current_phase,omitempty"`
}

// Observer receives published frames. Deliver returns an error when the
// observer can no longer accept frames (closed socket, full buffer);
// the publisher removes it on the next publish, mirroring
// ConnectionManager.broadcast's dead-connection sweep.
type Observer interface {
	Deliver(Frame) error
}

// Publisher fans a Frame out to all subscribed observers.
type Publisher struct {
	mu        sync.Mutex
	observers map[int]Observer
	nextID    int
}

// NewPublisher builds an empty Publisher.
func NewPublisher() *Publisher {
	return &Publisher{observers: make(map[int]Observer)}
}

// Subscription identifies a subscribed observer for later Unsubscribe.
type Subscription int

// Subscribe attaches an observer and returns a handle to remove it.
func (p *Publisher) Subscribe(obs Observer) Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	p.observers[id] = obs
	return Subscription(id)
}

// Unsubscribe detaches an observer. Safe to call more than once.
func (p *Publisher) Unsubscribe(sub Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.observers, int(sub))
}

// Count reports the number of currently attached observers.
func (p *Publisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.observers)
}

// Publish delivers frame to every observer, pruning any that error out.
func (p *Publisher) Publish(frame Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.observers) == 0 {
		return
	}
	for id, obs := range p.observers {
		if err := obs.Deliver(frame); err != nil {
			delete(p.observers, id)
		}
	}
}
