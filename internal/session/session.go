// Package session implements the session coordinator of SPEC_FULL.md
// §4.11: tracking the active smoke, applying a loaded or newly-set
// session's phase setpoint, and delegating completion checks to
// internal/phase while broadcasting the resulting transition-ready
// event. Grounded on `backend/core/session_service.py`.
package session

import (
	"time"

	"github.com/babygramps/pitctl/internal/model"
	"github.com/babygramps/pitctl/internal/phase"
	"go.uber.org/zap"
)

// EventStore appends audit events; the storage gateway implements it.
type EventStore interface {
	AppendEvent(model.Event) error
}

// PhaseSummary is the compact phase view carried on a transition event.
type PhaseSummary struct {
	ID          model.PhaseID
	PhaseName   model.PhaseName
	TargetTempF float64
}

// TransitionReadyEvent is broadcast once a phase's completion
// conditions are met and a transition has been requested (but not yet
// approved — approval is a separate, user-gated step).
type TransitionReadyEvent struct {
	SmokeID      model.SmokeID
	Reason       string
	CurrentPhase *PhaseSummary
	NextPhase    *PhaseSummary
}

// Notifier is how the coordinator announces a transition-ready event,
// mirroring session_service.py's ws_manager.broadcast_phase_event call.
type Notifier interface {
	PhaseTransitionReady(TransitionReadyEvent)
}

// Coordinator holds the current active smoke and bridges the control
// loop to internal/phase.
type Coordinator struct {
	store    phase.Store
	phases   *phase.Machine
	notifier Notifier
	events   EventStore
	log      *zap.Logger

	activeSmokeID *model.SmokeID
}

// NewCoordinator builds a Coordinator. notifier may be nil.
func NewCoordinator(store phase.Store, phases *phase.Machine, notifier Notifier, events EventStore, log *zap.Logger) *Coordinator {
	return &Coordinator{store: store, phases: phases, notifier: notifier, events: events, log: log}
}

// LoadActiveSmoke looks up the one smoke with is_active=true at boot and
// returns its ID and current phase setpoint (if any) so the loop can
// apply it before the first tick.
func (c *Coordinator) LoadActiveSmoke(finder func() (model.Smoke, bool)) (*model.SmokeID, *float64) {
	smoke, ok := finder()
	if !ok {
		c.log.Info("no active smoke session found")
		c.activeSmokeID = nil
		return nil, nil
	}

	id := smoke.ID
	c.activeSmokeID = &id
	c.log.Info("loaded active smoke session", zap.Uint64("smoke_id", uint64(id)))

	if current, ok := c.phases.CurrentPhase(id); ok {
		f := current.TargetTempF
		return &id, &f
	}
	return &id, nil
}

// SetActiveSmoke activates a newly-started (or resumed) smoke session
// and returns its current phase setpoint, if any.
func (c *Coordinator) SetActiveSmoke(id model.SmokeID) *float64 {
	c.activeSmokeID = &id
	c.log.Info("active smoke session set", zap.Uint64("smoke_id", uint64(id)))

	current, ok := c.phases.CurrentPhase(id)
	if !ok {
		c.log.Warn("no active phase found for smoke, setpoint not changed", zap.Uint64("smoke_id", uint64(id)))
		return nil
	}
	f := current.TargetTempF
	return &f
}

// ActiveSmokeID reports the currently tracked smoke, if any.
func (c *Coordinator) ActiveSmokeID() (model.SmokeID, bool) {
	if c.activeSmokeID == nil {
		return 0, false
	}
	return *c.activeSmokeID, true
}

// CheckPhaseConditions evaluates the active smoke's current phase
// completion conditions and, if met, requests a transition and
// broadcasts a TransitionReadyEvent. meatTempC/meatFault come from the
// configured meat-probe channel, if any.
func (c *Coordinator) CheckPhaseConditions(controlTempC float64, meatTempC *float64, meatFault bool, now time.Time) {
	if c.activeSmokeID == nil {
		return
	}
	smokeID := *c.activeSmokeID

	smoke, ok := c.store.GetSmoke(smokeID)
	if !ok || smoke.CurrentPhaseID == nil || smoke.PendingPhaseTransition {
		return
	}
	current, ok := c.store.GetPhase(*smoke.CurrentPhaseID)
	if !ok || current.IsPaused {
		return
	}

	var meatTempF *float64
	if meatTempC != nil && !meatFault {
		f := model.CelsiusToFahrenheit(*meatTempC)
		meatTempF = &f
	}
	currentTempF := model.CelsiusToFahrenheit(controlTempC)

	met, reason := c.phases.CheckConditions(smokeID, currentTempF, meatTempF, now)
	if !met {
		return
	}
	if !c.phases.RequestTransition(smokeID) {
		return
	}
	c.log.Info("phase transition requested", zap.Uint64("smoke_id", uint64(smokeID)), zap.String("reason", reason))

	event := TransitionReadyEvent{SmokeID: smokeID, Reason: reason}
	if cur, ok := c.phases.CurrentPhase(smokeID); ok {
		event.CurrentPhase = &PhaseSummary{ID: cur.ID, PhaseName: cur.PhaseName, TargetTempF: cur.TargetTempF}
	}
	if next, ok := c.phases.NextPhase(smokeID); ok {
		event.NextPhase = &PhaseSummary{ID: next.ID, PhaseName: next.PhaseName, TargetTempF: next.TargetTempF}
	}

	if c.notifier != nil {
		c.notifier.PhaseTransitionReady(event)
	}
	_ = c.events.AppendEvent(model.Event{
		Ts: now, Kind: "phase_transition_ready",
		Message: "Phase transition ready: " + reason,
		Meta:    map[string]any{"smoke_id": uint64(smokeID)},
	})
}

// CurrentPhaseInfo is a status snapshot of the active smoke's phase.
type CurrentPhaseInfo struct {
	ID                    model.PhaseID
	PhaseName             model.PhaseName
	PhaseOrder            int
	TargetTempF           float64
	StartedAt             *time.Time
	IsActive              bool
	CompletionConditions  model.CompletionConditions
}

// GetCurrentPhaseInfo returns a status snapshot, or nil if there's no
// active smoke or current phase.
func (c *Coordinator) GetCurrentPhaseInfo() *CurrentPhaseInfo {
	if c.activeSmokeID == nil {
		return nil
	}
	current, ok := c.phases.CurrentPhase(*c.activeSmokeID)
	if !ok {
		return nil
	}
	return &CurrentPhaseInfo{
		ID: current.ID, PhaseName: current.PhaseName, PhaseOrder: current.PhaseOrder,
		TargetTempF: current.TargetTempF, StartedAt: current.StartedAt, IsActive: current.IsActive,
		CompletionConditions: current.CompletionConditions,
	}
}
