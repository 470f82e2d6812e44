// Package strategy implements the two steady-state control strategies
// named in SPEC_FULL.md §4.8: thermostat (hysteresis + dwell) and
// time-proportional (PID duty-cycled over a fixed window). Auto-tune and
// boost are handled directly by internal/loop since they aren't
// persistent per-tick strategies in the same sense.
package strategy

import (
	"time"

	"github.com/babygramps/pitctl/internal/pidctl"
)

// Decision is what a strategy commands for one tick.
type Decision struct {
	RelayOn   bool
	PIDOutput float64 // 0-100
}

// Thermostat implements hysteresis control with minimum on/off dwell.
// Dwell is the universal property #1 in SPEC_FULL.md §8: after every
// ON→OFF transition the next OFF→ON is at least MinOffS later, and vice
// versa.
type Thermostat struct {
	HystC   float64
	MinOnS  float64
	MinOffS float64

	relayOn      bool
	lastOnAt     time.Time
	lastOffAt    time.Time
	haveLastOn   bool
	haveLastOff  bool
}

// NewThermostat builds a Thermostat starting with the relay OFF.
func NewThermostat(hystC, minOnS, minOffS float64) *Thermostat {
	return &Thermostat{HystC: hystC, MinOnS: minOnS, MinOffS: minOffS}
}

// Decide computes the relay intent for one tick.
func (th *Thermostat) Decide(setpointC, tempC float64, now time.Time) Decision {
	wantOn := th.relayOn
	if !th.relayOn {
		if tempC < setpointC-th.HystC {
			wantOn = true
		}
	} else {
		wantOn = tempC < setpointC+th.HystC
	}

	if wantOn && !th.relayOn {
		if th.haveLastOff && now.Sub(th.lastOffAt).Seconds() < th.MinOffS {
			wantOn = false
		}
	}
	if !wantOn && th.relayOn {
		if th.haveLastOn && now.Sub(th.lastOnAt).Seconds() < th.MinOnS {
			wantOn = true
		}
	}

	if wantOn != th.relayOn {
		if wantOn {
			th.lastOnAt = now
			th.haveLastOn = true
		} else {
			th.lastOffAt = now
			th.haveLastOff = true
		}
	}
	th.relayOn = wantOn

	output := 0.0
	if wantOn {
		output = 100
	}
	return Decision{RelayOn: wantOn, PIDOutput: output}
}

// RelayOn reports the strategy's last commanded relay state.
func (th *Thermostat) RelayOn() bool { return th.relayOn }

// TimeProportional duty-cycles the relay over a fixed window according
// to the PID-computed output percentage. Minimum dwell is intentionally
// NOT applied here — see DESIGN.md Open Question #1 — so a small output
// yields an ON pulse as short as (output/100)*window.
type TimeProportional struct {
	pid         *pidctl.Controller
	windowS     float64
	windowStart time.Time
	onDuration  float64
	primed      bool
}

// NewTimeProportional builds a TimeProportional strategy driving the
// given PID controller.
func NewTimeProportional(pid *pidctl.Controller, windowS float64) *TimeProportional {
	return &TimeProportional{pid: pid, windowS: windowS}
}

// Decide computes the PID output and the window-gated relay intent.
func (tp *TimeProportional) Decide(setpointC, tempC float64, now time.Time) Decision {
	pidOutput := tp.pid.Compute(setpointC, tempC, now)

	elapsed := 0.0
	if tp.primed {
		elapsed = now.Sub(tp.windowStart).Seconds()
	}
	if !tp.primed || elapsed >= tp.windowS {
		tp.windowStart = now
		tp.onDuration = (pidOutput / 100.0) * tp.windowS
		tp.primed = true
		elapsed = 0
	}

	return Decision{RelayOn: elapsed < tp.onDuration, PIDOutput: pidOutput}
}
