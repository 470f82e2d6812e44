// Package pidctl implements the discrete PID control law used by the
// time-proportional strategy and the adaptive tuner: proportional-on-error,
// integral-on-error with a symmetric clamp, derivative-on-error, and
// bumpless transfer when gains or setpoint change between invocations.
package pidctl

import "time"

const (
	defaultIntegralLimit = 100.0
	defaultOutputMin     = 0.0
	defaultOutputMax     = 100.0
)

// Controller is a single-loop PID controller. It is not safe for
// concurrent use; callers own serialising access (the control loop calls
// it from exactly one goroutine, per SPEC_FULL.md §5).
type Controller struct {
	kp, ki, kd    float64
	integralLimit float64
	outputMin     float64
	outputMax     float64

	integral  float64
	prevError float64

	lastSetpoint float64
	lastKp       float64
	lastKi       float64
	lastKd       float64
	lastOutput   float64

	lastTick time.Time
	primed   bool
}

// New builds a Controller with the given gains and the default integral
// clamp and output range from SPEC_FULL.md §4.4 (integral_limit=100,
// output in [0,100]).
func New(kp, ki, kd float64) *Controller {
	return &Controller{
		kp: kp, ki: ki, kd: kd,
		integralLimit: defaultIntegralLimit,
		outputMin:     defaultOutputMin,
		outputMax:     defaultOutputMax,
	}
}

// SetLimits overrides the integral clamp and output range.
func (c *Controller) SetLimits(integralLimit, outputMin, outputMax float64) {
	c.integralLimit = integralLimit
	c.outputMin = outputMin
	c.outputMax = outputMax
}

// SetGains updates the live gains. The next Compute call detects the
// change and re-seeds the integrator via bumpless transfer.
func (c *Controller) SetGains(kp, ki, kd float64) {
	c.kp, c.ki, c.kd = kp, ki, kd
}

// Gains returns the current gains.
func (c *Controller) Gains() (kp, ki, kd float64) {
	return c.kp, c.ki, c.kd
}

// Reset zeros the integrator, previous error, and last output, and
// forgets the last tick time so the next Compute call starts fresh.
func (c *Controller) Reset() {
	c.integral = 0
	c.prevError = 0
	c.lastOutput = 0
	c.primed = false
}

// State is a snapshot of the controller's internal state, for status
// reporting and tests.
type State struct {
	Integral   float64
	PrevError  float64
	LastOutput float64
}

// State returns the controller's current internal state.
func (c *Controller) State() State {
	return State{Integral: c.integral, PrevError: c.prevError, LastOutput: c.lastOutput}
}

// Compute advances the controller by one sample, returning the clamped
// output. dt is derived from the wall-clock delta between this call and
// the previous one; the first call after construction or Reset has no
// previous tick to derive dt from, so it primes the timing state and
// returns 0 without computing P/I/D.
func (c *Controller) Compute(setpoint, measurement float64, now time.Time) float64 {
	if !c.primed {
		c.prevError = setpoint - measurement
		c.lastOutput = 0
		c.lastSetpoint = setpoint
		c.lastKp, c.lastKi, c.lastKd = c.kp, c.ki, c.kd
		c.lastTick = now
		c.primed = true
		return c.lastOutput
	}

	err := setpoint - measurement

	dt := now.Sub(c.lastTick).Seconds()
	if dt < 0 {
		dt = 0
	}

	gainsOrSetpointChanged := c.primed && (setpoint != c.lastSetpoint ||
		c.kp != c.lastKp || c.ki != c.lastKi || c.kd != c.lastKd)

	p := c.kp * err

	var d float64
	if dt > 0 {
		d = c.kd * (err - c.prevError) / dt
	}

	if gainsOrSetpointChanged {
		c.bumplessTransfer(p, d)
	} else if dt > 0 {
		c.integral += c.ki * err * dt
	}

	c.integral = clamp(c.integral, -c.integralLimit, c.integralLimit)

	output := p + c.integral + d
	output = clamp(output, c.outputMin, c.outputMax)

	c.prevError = err
	c.lastOutput = output
	c.lastSetpoint = setpoint
	c.lastKp, c.lastKi, c.lastKd = c.kp, c.ki, c.kd
	c.lastTick = now
	c.primed = true

	return output
}

// bumplessTransfer re-seeds the integrator so the output computed this
// tick equals the previous tick's output, given the new proportional and
// derivative terms. c.integral already holds the ki-scaled I term, so
// the re-seed is integral := prevOutput - pNew - dNew, with kiNew == 0
// handled as integral := 0.
func (c *Controller) bumplessTransfer(pNew, dNew float64) {
	if c.ki == 0 {
		c.integral = 0
		return
	}
	c.integral = c.lastOutput - pNew - dNew
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
