// Package sensor implements the per-channel filtering pipeline described
// in SPEC_FULL.md §4.1: raw-sample fault detection, outlier rejection
// with double-read verification, and a median window, plus a multi-
// channel manager that tracks hardware-fallback status.
package sensor

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/babygramps/pitctl/internal/model"
)

// Channel reads raw samples from a single thermocouple, real or
// simulated. Grounded on hardware.py's TempSensor Protocol.
type Channel interface {
	// ReadRaw returns the instantaneous raw temperature in Celsius, or
	// an error if the sensor fault bits are set / the read failed.
	ReadRaw(ctx context.Context) (float64, error)
	// IsReal reports whether this channel is backed by real hardware.
	IsReal() bool
}

const (
	windowSize          = 5
	outlierDeltaF       = 8.0
	outlierRateFPerSec  = 3.0
	doubleReadDelay     = 100 * time.Millisecond
	doubleReadAgreeF    = 2.0
	plausibleMinC       = -50.0
	plausibleMaxC       = 500.0
)

// Filter implements the single-channel pipeline of SPEC_FULL.md §4.1.
type Filter struct {
	channel Channel

	window []float64 // accepted samples, most-recent last, capped at windowSize
	haveGood bool
	lastGoodC float64
	lastReadAt time.Time

	faultCount int
}

// NewFilter wraps a Channel with the median/outlier/double-read pipeline.
func NewFilter(ch Channel) *Filter {
	return &Filter{channel: ch}
}

// ReadFiltered performs one filtered read, returning (temp, fault) per
// SPEC_FULL.md §4.1's contract.
func (f *Filter) ReadFiltered(ctx context.Context, now time.Time) (tempC float64, fault bool) {
	raw, err := f.channel.ReadRaw(ctx)
	if err != nil || !plausible(raw) {
		f.faultCount++
		return f.lastReading()
	}

	if f.isSuspect(raw, now) {
		accepted, ok := f.doubleRead(ctx, raw)
		if !ok {
			f.faultCount++
			return f.lastReading()
		}
		raw = accepted
	}

	f.accept(raw, now)
	return f.reportedTemp(), false
}

func plausible(c float64) bool {
	if math.IsNaN(c) || math.IsInf(c, 0) {
		return false
	}
	return c >= plausibleMinC && c <= plausibleMaxC
}

func (f *Filter) isSuspect(candidateC float64, now time.Time) bool {
	if !f.haveGood {
		return false
	}
	deltaF := math.Abs(model.CelsiusToFahrenheit(candidateC) - model.CelsiusToFahrenheit(f.lastGoodC))
	if deltaF > outlierDeltaF {
		return true
	}
	if !f.lastReadAt.IsZero() {
		dt := now.Sub(f.lastReadAt).Seconds()
		if dt > 0 {
			rateF := deltaF / dt
			if rateF > outlierRateFPerSec {
				return true
			}
		}
	}
	return false
}

// doubleRead performs the 100ms-delayed confirmation read. Returns the
// averaged accepted value, or ok=false if the candidate should be
// rejected (second read faults, or the two reads disagree by >2°F).
func (f *Filter) doubleRead(ctx context.Context, first float64) (float64, bool) {
	select {
	case <-time.After(doubleReadDelay):
	case <-ctx.Done():
		return 0, false
	}

	second, err := f.channel.ReadRaw(ctx)
	if err != nil || !plausible(second) {
		return 0, false
	}

	deltaF := math.Abs(model.CelsiusToFahrenheit(first) - model.CelsiusToFahrenheit(second))
	if deltaF > doubleReadAgreeF {
		return 0, false
	}

	return (first + second) / 2.0, true
}

func (f *Filter) accept(tempC float64, now time.Time) {
	f.window = append(f.window, tempC)
	if len(f.window) > windowSize {
		f.window = f.window[len(f.window)-windowSize:]
	}
	f.haveGood = true
	f.lastGoodC = tempC
	f.lastReadAt = now
}

func (f *Filter) reportedTemp() float64 {
	if len(f.window) >= 3 {
		return median(f.window)
	}
	return f.window[len(f.window)-1]
}

func (f *Filter) lastReading() (float64, bool) {
	if !f.haveGood {
		return 0, true
	}
	return f.lastGoodC, true
}

// FaultCount returns the cumulative number of rejected samples.
func (f *Filter) FaultCount() int { return f.faultCount }

func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2.0
}

// ChannelStatus reports whether a channel is backed by real hardware.
type ChannelStatus struct {
	Real bool
}

// Manager owns one Filter per enabled thermocouple and tracks hardware
// fallback, matching MultiThermocoupleManager.
type Manager struct {
	filters map[model.ThermocoupleID]*Filter
	real    map[model.ThermocoupleID]bool
}

// NewManager builds an empty Manager.
func NewManager() *Manager {
	return &Manager{
		filters: make(map[model.ThermocoupleID]*Filter),
		real:    make(map[model.ThermocoupleID]bool),
	}
}

// AddChannel registers a channel under the given thermocouple ID.
func (m *Manager) AddChannel(id model.ThermocoupleID, ch Channel) {
	m.filters[id] = NewFilter(ch)
	m.real[id] = ch.IsReal()
}

// RemoveChannel drops a previously registered channel.
func (m *Manager) RemoveChannel(id model.ThermocoupleID) {
	delete(m.filters, id)
	delete(m.real, id)
}

// ReadAll reads every registered channel, returning a map of
// (temp, fault) per SPEC_FULL.md §4.1.
func (m *Manager) ReadAll(ctx context.Context, now time.Time) map[model.ThermocoupleID]struct {
	TempC float64
	Fault bool
} {
	out := make(map[model.ThermocoupleID]struct {
		TempC float64
		Fault bool
	}, len(m.filters))
	for id, f := range m.filters {
		temp, fault := f.ReadFiltered(ctx, now)
		out[id] = struct {
			TempC float64
			Fault bool
		}{TempC: temp, Fault: fault}
	}
	return out
}

// ReadSingle reads one registered channel.
func (m *Manager) ReadSingle(ctx context.Context, id model.ThermocoupleID, now time.Time) (float64, bool) {
	f, ok := m.filters[id]
	if !ok {
		return 0, true
	}
	return f.ReadFiltered(ctx, now)
}

// Status returns per-channel real/simulated status.
func (m *Manager) Status() map[model.ThermocoupleID]ChannelStatus {
	out := make(map[model.ThermocoupleID]ChannelStatus, len(m.real))
	for id, real := range m.real {
		out[id] = ChannelStatus{Real: real}
	}
	return out
}

// AnyFallback reports whether any channel is simulated while the system
// is not globally in sim_mode (the caller passes simMode so the manager
// stays agnostic of configuration).
func (m *Manager) AnyFallback(simMode bool) bool {
	if simMode {
		return false
	}
	for _, real := range m.real {
		if !real {
			return true
		}
	}
	return false
}

// SimChannel is a simulated thermocouple performing a random walk toward
// a setpoint, matching SimTempSensor. Per SUPPLEMENTED FEATURES in
// SPEC_FULL.md, an optional per-channel offset lets multi-channel
// simulation runs start at distinguishable temperatures.
type SimChannel struct {
	currentC  float64
	setpointC float64
	noiseStdC float64
	driftRate float64
	lastTick  time.Time
	rng       *rand.Rand
}

// NewSimChannel builds a simulator starting at 20°C plus offsetC.
func NewSimChannel(offsetC float64, seed int64) *SimChannel {
	return &SimChannel{
		currentC:  20.0 + offsetC,
		setpointC: 107.2, // 225°F
		noiseStdC: 0.5,
		driftRate: 0.1,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// SetSetpoint updates the simulated drift target.
func (s *SimChannel) SetSetpoint(setpointC float64) { s.setpointC = setpointC }

// ReadRaw advances the random walk by the elapsed time since the last
// call and returns the new simulated temperature.
func (s *SimChannel) ReadRaw(ctx context.Context) (float64, error) {
	now := time.Now()
	if !s.lastTick.IsZero() {
		dt := now.Sub(s.lastTick).Seconds()
		errTerm := s.setpointC - s.currentC
		drift := errTerm * 0.01 * dt
		noise := s.rng.NormFloat64() * s.noiseStdC
		s.currentC += drift + noise
	}
	s.lastTick = now
	s.currentC = clamp(s.currentC, 15.0, 200.0)
	return s.currentC, nil
}

// IsReal always reports false for the simulator.
func (s *SimChannel) IsReal() bool { return false }

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
