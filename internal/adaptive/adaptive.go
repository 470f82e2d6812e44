// Package adaptive implements the continuous adaptive tuner: a rolling
// window of control samples is analyzed on a cooldown to nudge PID gains
// by small bounded steps while the loop runs in time-proportional mode.
package adaptive

import "time"

// Bounds clamps each gain to a fixed range.
type Bounds struct {
	MinKp, MaxKp float64
	MinKi, MaxKi float64
	MinKd, MaxKd float64
}

// DefaultBounds matches SPEC_FULL.md §4.6's defaults.
func DefaultBounds() Bounds {
	return Bounds{
		MinKp: 1, MaxKp: 15,
		MinKi: 0.01, MaxKi: 1,
		MinKd: 5, MaxKd: 50,
	}
}

// Config bundles the adaptive tuner's tunable parameters.
type Config struct {
	Bounds
	AdjustmentRate      float64       // fraction of current gain, default 0.05
	EvaluationWindow    int           // sample count, default 300
	AdjustmentCooldown  time.Duration // default 600s
}

// DefaultConfig matches the defaults in SPEC_FULL.md §4.6.
func DefaultConfig() Config {
	return Config{
		Bounds:             DefaultBounds(),
		AdjustmentRate:     0.05,
		EvaluationWindow:   300,
		AdjustmentCooldown: 600 * time.Second,
	}
}

type sample struct {
	ts       time.Time
	temp     float64
	setpoint float64
	err      float64
}

// Adjustment is a recommended bounded gain change with the reason that
// triggered it.
type Adjustment struct {
	Kp, Ki, Kd float64
	Reason     string
}

// Metrics are the performance statistics computed over the rolling
// window, matching PerformanceMetrics in the original implementation.
type Metrics struct {
	AvgError          float64
	AvgAbsError       float64
	OscillationScore  float64 // 0-1
	OvershootDetected bool
	SettlingIndex     int
}

// Controller is the adaptive tuner. Not safe for concurrent use; the
// control loop owns it exclusively (SPEC_FULL.md §5).
type Controller struct {
	cfg Config

	buf   []sample
	head  int
	count int

	enabled            bool
	lastAdjustment     time.Time
	haveLastAdjustment bool
	adjustmentCount    int
}

// New constructs a disabled Controller with a fixed-capacity ring buffer.
func New(cfg Config) *Controller {
	return &Controller{cfg: cfg, buf: make([]sample, cfg.EvaluationWindow)}
}

// Enable turns on sample recording.
func (c *Controller) Enable() { c.enabled = true }

// Disable turns off sample recording (recorded history is kept).
func (c *Controller) Disable() { c.enabled = false }

// Enabled reports whether the tuner is recording samples.
func (c *Controller) Enabled() bool { return c.enabled }

// RecordSample appends one (temp, setpoint, error) observation to the
// ring buffer. A no-op while disabled.
func (c *Controller) RecordSample(temp, setpoint float64, now time.Time) {
	if !c.enabled {
		return
	}
	err := setpoint - temp
	c.buf[c.head] = sample{ts: now, temp: temp, setpoint: setpoint, err: err}
	c.head = (c.head + 1) % len(c.buf)
	if c.count < len(c.buf) {
		c.count++
	}
}

// ShouldAdjust reports whether enough data has accumulated (≥80% of the
// window) and the cooldown since the last adjustment has elapsed.
func (c *Controller) ShouldAdjust(now time.Time) bool {
	if !c.enabled {
		return false
	}
	if float64(c.count) < float64(len(c.buf))*0.8 {
		return false
	}
	if c.haveLastAdjustment && now.Sub(c.lastAdjustment) < c.cfg.AdjustmentCooldown {
		return false
	}
	return true
}

// orderedSamples returns the buffered samples in chronological order.
func (c *Controller) orderedSamples() []sample {
	if c.count < len(c.buf) {
		out := make([]sample, c.count)
		copy(out, c.buf[:c.count])
		return out
	}
	out := make([]sample, len(c.buf))
	copy(out, c.buf[c.head:])
	copy(out[len(c.buf)-c.head:], c.buf[:c.head])
	return out
}

func (c *Controller) metrics() Metrics {
	samples := c.orderedSamples()
	n := len(samples)

	var sumErr, sumAbsErr float64
	for _, s := range samples {
		sumErr += s.err
		sumAbsErr += absF(s.err)
	}
	avgErr := sumErr / float64(n)
	avgAbsErr := sumAbsErr / float64(n)

	zeroCrossings := 0
	for i := 1; i < n; i++ {
		if (samples[i].err > 0) != (samples[i-1].err > 0) {
			zeroCrossings++
		}
	}
	oscillation := float64(zeroCrossings) / (float64(n) * 0.1)
	if oscillation > 1.0 {
		oscillation = 1.0
	}

	overshoot := false
	for _, s := range samples {
		if absF(s.temp-s.setpoint) > 2.0 {
			overshoot = true
			break
		}
	}

	const targetError = 0.5
	settlingIndex := 0
	for i, s := range samples {
		if absF(s.err) > targetError {
			settlingIndex = i
		}
	}

	return Metrics{
		AvgError:          avgErr,
		AvgAbsError:       avgAbsErr,
		OscillationScore:  oscillation,
		OvershootDetected: overshoot,
		SettlingIndex:     settlingIndex,
	}
}

// Evaluate checks ShouldAdjust, computes Metrics over the window, and
// applies the first matching decision rule from SPEC_FULL.md §4.6,
// clamped to Bounds. Returns ok=false if no adjustment is due.
func (c *Controller) Evaluate(kp, ki, kd float64, now time.Time) (Adjustment, bool) {
	if !c.ShouldAdjust(now) {
		return Adjustment{}, false
	}

	m := c.metrics()
	adj, ok := c.decide(m, kp, ki, kd)
	if !ok {
		return Adjustment{}, false
	}

	adj.Kp = clamp(adj.Kp, c.cfg.MinKp, c.cfg.MaxKp)
	adj.Ki = clamp(adj.Ki, c.cfg.MinKi, c.cfg.MaxKi)
	adj.Kd = clamp(adj.Kd, c.cfg.MinKd, c.cfg.MaxKd)

	c.lastAdjustment = now
	c.haveLastAdjustment = true
	c.adjustmentCount++

	return adj, true
}

func (c *Controller) decide(m Metrics, kp, ki, kd float64) (Adjustment, bool) {
	rate := c.cfg.AdjustmentRate

	if m.OscillationScore > 0.6 {
		return Adjustment{
			Kp: kp * (1 - rate), Ki: ki, Kd: kd * (1 - rate*0.5),
			Reason: "reducing oscillation",
		}, true
	}

	if m.OvershootDetected && kd < c.cfg.MaxKd*0.9 {
		return Adjustment{
			Kp: kp * (1 - rate*0.3), Ki: ki, Kd: kd * (1 + rate),
			Reason: "increase damping",
		}, true
	}

	if absF(m.AvgError) > 1.0 && ki < c.cfg.MaxKi*0.9 && m.OscillationScore < 0.3 {
		return Adjustment{
			Kp: kp, Ki: ki * (1 + rate*0.5), Kd: kd,
			Reason: "correct steady-state",
		}, true
	}

	if m.SettlingIndex > 200 && m.AvgAbsError > 1.5 && m.OscillationScore < 0.3 {
		return Adjustment{
			Kp: kp * (1 + rate), Ki: ki, Kd: kd,
			Reason: "increase responsiveness",
		}, true
	}

	return Adjustment{}, false
}

// AdjustmentCount returns the number of adjustments applied so far.
func (c *Controller) AdjustmentCount() int { return c.adjustmentCount }

// Reset clears all buffered samples and cooldown state.
func (c *Controller) Reset() {
	c.buf = make([]sample, c.cfg.EvaluationWindow)
	c.head = 0
	c.count = 0
	c.haveLastAdjustment = false
}

func absF(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
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
