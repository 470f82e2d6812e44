// Package phase implements the cooking phase state machine of
// SPEC_FULL.md §4.7: completion-condition evaluation (max duration,
// temperature stability, meat-probe threshold), user-gated transition
// approval, skip/pause/resume, stall detection, and live setpoint edits.
package phase

import (
	"time"

	"github.com/babygramps/pitctl/internal/model"
)

// Store is the minimal persistence surface the phase machine needs. The
// storage gateway implements this; kept as a narrow interface here to
// avoid an import cycle between internal/phase and internal/storage.
type Store interface {
	GetSmoke(id model.SmokeID) (model.Smoke, bool)
	SaveSmoke(model.Smoke) error
	GetPhase(id model.PhaseID) (model.SmokePhase, bool)
	SavePhase(model.SmokePhase) error
	PhaseByOrder(smokeID model.SmokeID, order int) (model.SmokePhase, bool)
}

const stallWindow = 45 * time.Minute
const stallMinHistory = 30 * time.Minute

type stabilitySample struct {
	ts    time.Time
	tempF float64
}

type stallSample struct {
	ts        time.Time
	meatTempF float64
}

// Machine implements the phase state machine over a Store.
type Machine struct {
	store Store

	stability map[model.SmokeID][]stabilitySample
	stall     map[model.SmokeID][]stallSample
}

// NewMachine builds a Machine backed by store.
func NewMachine(store Store) *Machine {
	return &Machine{
		store:     store,
		stability: make(map[model.SmokeID][]stabilitySample),
		stall:     make(map[model.SmokeID][]stallSample),
	}
}

// CurrentPhase returns the smoke's active phase, if any.
func (m *Machine) CurrentPhase(smokeID model.SmokeID) (model.SmokePhase, bool) {
	smoke, ok := m.store.GetSmoke(smokeID)
	if !ok || smoke.CurrentPhaseID == nil {
		return model.SmokePhase{}, false
	}
	return m.store.GetPhase(*smoke.CurrentPhaseID)
}

// NextPhase returns the phase immediately following the current one by
// phase_order.
func (m *Machine) NextPhase(smokeID model.SmokeID) (model.SmokePhase, bool) {
	current, ok := m.CurrentPhase(smokeID)
	if !ok {
		return model.SmokePhase{}, false
	}
	return m.store.PhaseByOrder(smokeID, current.PhaseOrder+1)
}

// CheckConditions evaluates, in order, max_duration → stability → meat
// threshold against the current phase, returning (met, reason).
func (m *Machine) CheckConditions(smokeID model.SmokeID, currentTempF float64, meatTempF *float64, now time.Time) (bool, string) {
	current, ok := m.CurrentPhase(smokeID)
	if !ok || current.StartedAt == nil {
		return false, ""
	}

	cc := current.CompletionConditions
	durationMin := now.Sub(*current.StartedAt).Minutes()

	if cc.MaxDurationMin != nil && durationMin >= float64(*cc.MaxDurationMin) {
		return true, "maximum duration reached"
	}

	if cc.StabilityRangeF != nil && cc.StabilityDurationMin != nil {
		if m.checkStability(smokeID, currentTempF, current.TargetTempF, *cc.StabilityRangeF, *cc.StabilityDurationMin, now) {
			return true, "temperature stability achieved"
		}
	}

	if cc.MeatTempThresholdF != nil && meatTempF != nil {
		if *meatTempF >= *cc.MeatTempThresholdF {
			return true, "meat temperature threshold reached"
		}
	}

	return false, ""
}

// checkStability records the sample, prunes the window, and reports
// whether every sample in the window (once the window is actually
// duration-minutes old) sits within range of the target.
func (m *Machine) checkStability(smokeID model.SmokeID, tempF, targetF, rangeF float64, durationMin int, now time.Time) bool {
	history := append(m.stability[smokeID], stabilitySample{ts: now, tempF: tempF})

	cutoff := now.Add(-time.Duration(durationMin) * time.Minute)
	i := 0
	for i < len(history) && history[i].ts.Before(cutoff) {
		i++
	}
	history = history[i:]
	m.stability[smokeID] = history

	if len(history) == 0 {
		return false
	}
	if now.Sub(history[0].ts) < time.Duration(durationMin)*time.Minute {
		return false
	}

	minTemp := targetF - rangeF
	maxTemp := targetF + rangeF
	for _, s := range history {
		if s.tempF < minTemp || s.tempF > maxTemp {
			return false
		}
	}
	return true
}

// DetectStall reports an advisory meat-temperature plateau: over the
// 45-minute window in the 140-180°F band, total rise < 2°F.
func (m *Machine) DetectStall(smokeID model.SmokeID, meatTempF *float64, now time.Time) bool {
	if meatTempF == nil {
		return false
	}
	if *meatTempF < 140 || *meatTempF > 180 {
		return false
	}

	history := append(m.stall[smokeID], stallSample{ts: now, meatTempF: *meatTempF})
	cutoff := now.Add(-stallWindow)
	i := 0
	for i < len(history) && history[i].ts.Before(cutoff) {
		i++
	}
	history = history[i:]
	m.stall[smokeID] = history

	if len(history) == 0 || now.Sub(history[0].ts) < stallMinHistory {
		return false
	}

	rise := *meatTempF - history[0].meatTempF
	return rise < 2.0
}

// RequestTransition sets pending_phase_transition=true. Returns false if
// already pending or the smoke doesn't exist.
func (m *Machine) RequestTransition(smokeID model.SmokeID) bool {
	smoke, ok := m.store.GetSmoke(smokeID)
	if !ok || smoke.PendingPhaseTransition {
		return false
	}
	smoke.PendingPhaseTransition = true
	_ = m.store.SaveSmoke(smoke)
	return true
}

// ApproveTransition ends the current phase (truncating its actual
// duration — see DESIGN.md Open Question #3), starts the next phase by
// phase_order, or clears current_phase_id if none remains. The stability
// window is reset only when a next phase is started.
func (m *Machine) ApproveTransition(smokeID model.SmokeID, now time.Time) (bool, string) {
	smoke, ok := m.store.GetSmoke(smokeID)
	if !ok {
		return false, "smoke session not found"
	}
	if !smoke.PendingPhaseTransition {
		return false, "no pending phase transition"
	}

	var nextOrder int
	var current *model.SmokePhase
	if smoke.CurrentPhaseID != nil {
		c, ok := m.store.GetPhase(*smoke.CurrentPhaseID)
		if ok {
			c.IsActive = false
			endedAt := now
			c.EndedAt = &endedAt
			durationMin := int(endedAt.Sub(*c.StartedAt).Minutes())
			c.ActualDurationMinutes = &durationMin
			_ = m.store.SavePhase(c)
			current = &c
			nextOrder = c.PhaseOrder + 1
		}
	}

	next, ok := m.store.PhaseByOrder(smokeID, nextOrder)
	if !ok {
		smoke.PendingPhaseTransition = false
		smoke.CurrentPhaseID = nil
		_ = m.store.SaveSmoke(smoke)
		return true, ""
	}

	next.IsActive = true
	startedAt := now
	next.StartedAt = &startedAt
	_ = m.store.SavePhase(next)

	smoke.CurrentPhaseID = &next.ID
	smoke.PendingPhaseTransition = false
	_ = m.store.SaveSmoke(smoke)

	delete(m.stability, smokeID)
	_ = current

	return true, ""
}

// SkipPhase forces a pending transition and immediately approves it.
func (m *Machine) SkipPhase(smokeID model.SmokeID, now time.Time) (bool, string) {
	smoke, ok := m.store.GetSmoke(smokeID)
	if !ok {
		return false, "smoke session not found"
	}
	smoke.PendingPhaseTransition = true
	_ = m.store.SaveSmoke(smoke)
	return m.ApproveTransition(smokeID, now)
}

// PausePhase sets is_paused on the current phase, suspending completion
// checks but not control.
func (m *Machine) PausePhase(smokeID model.SmokeID) (bool, string) {
	current, ok := m.CurrentPhase(smokeID)
	if !ok {
		return false, "no active phase to pause"
	}
	if current.IsPaused {
		return false, "phase is already paused"
	}
	current.IsPaused = true
	_ = m.store.SavePhase(current)
	return true, ""
}

// ResumePhase clears is_paused and resets the stability window so the
// timer restarts.
func (m *Machine) ResumePhase(smokeID model.SmokeID) (bool, string) {
	current, ok := m.CurrentPhase(smokeID)
	if !ok {
		return false, "no active phase to resume"
	}
	if !current.IsPaused {
		return false, "phase is not paused"
	}
	current.IsPaused = false
	_ = m.store.SavePhase(current)
	delete(m.stability, smokeID)
	return true, ""
}

// EditActiveTarget updates the active phase's target temperature; the
// caller is responsible for applying it to the live setpoint immediately.
func (m *Machine) EditActiveTarget(smokeID model.SmokeID, tempF float64) (bool, string) {
	current, ok := m.CurrentPhase(smokeID)
	if !ok {
		return false, "no active phase"
	}
	current.TargetTempF = tempF
	_ = m.store.SavePhase(current)
	return true, ""
}
