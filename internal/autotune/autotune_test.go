package autotune

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func at(seconds int64) time.Time {
	return time.Unix(seconds, 0)
}

// TestRelayStepZieglerNicholsPID mirrors the S6 scenario from
// SPEC_FULL.md §8: a sinusoidal response with amplitude a=3 °C and
// period Pu=120 s under output_step=50 should yield
// Ku ≈ 21.22, Kp ≈ 12.73, Ki ≈ 0.212, Kd ≈ 191.0 (±1%).
func TestRelayStepZieglerNicholsPID(t *testing.T) {
	cfg := DefaultConfig(100)
	cfg.LookbackSeconds = 60 // old samples trimmed; peaks are retained regardless
	tuner := New(cfg)
	require.True(t, tuner.Start(at(0)))

	type step struct {
		temp float64
		ts   int64
	}
	steps := []step{
		{90, 0},     // priming sample, no transition yet (need >=2 samples)
		{101.5, 1},  // max peak 1 -> relay_step_down
		{98.5, 61},  // min peak 1 -> relay_step_up, cycle 1
		{101.5, 121}, // max peak 2 -> relay_step_down
		{98.5, 181}, // min peak 2 -> relay_step_up, cycle 2
		{101.5, 241}, // max peak 3 -> relay_step_down
		{98.5, 301}, // min peak 3 -> relay_step_up, cycle 3 -> succeeded
	}

	var done bool
	for _, s := range steps {
		_, done = tuner.Update(s.temp, at(s.ts))
	}
	require.True(t, done)
	require.Equal(t, StateSucceeded, tuner.Status(at(301)).State)

	ku, pu, ok := tuner.UltimateGainPeriod()
	require.True(t, ok)
	require.InEpsilon(t, 21.22, ku, 0.01)
	require.InDelta(t, 120.0, pu, 1e-9)

	g, ok := tuner.Gains()
	require.True(t, ok)
	require.InEpsilon(t, 12.73, g.Kp, 0.01)
	require.InEpsilon(t, 0.212, g.Ki, 0.01)
	require.InEpsilon(t, 191.0, g.Kd, 0.01)
}

func TestCancelFromRunningGoesToFailed(t *testing.T) {
	tuner := New(DefaultConfig(100))
	tuner.Start(at(0))
	tuner.Cancel()
	require.Equal(t, StateFailed, tuner.Status(at(1)).State)
	require.Zero(t, tuner.Status(at(1)).Output)
}

func TestCancelIdleIsNoop(t *testing.T) {
	tuner := New(DefaultConfig(100))
	tuner.Cancel()
	require.Equal(t, StateIdle, tuner.Status(at(0)).State)
}

func TestTimeoutFailsTuner(t *testing.T) {
	cfg := DefaultConfig(100)
	cfg.MaxRunTime = time.Minute
	tuner := New(cfg)
	tuner.Start(at(0))
	_, done := tuner.Update(90, at(0))
	require.False(t, done)
	_, done = tuner.Update(90, at(int64(2*time.Minute.Seconds())))
	require.True(t, done)
	require.Equal(t, StateFailed, tuner.Status(at(0)).State)
}
