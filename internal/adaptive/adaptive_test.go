package adaptive

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShouldAdjustRequires80PercentFull(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EvaluationWindow = 10
	c := New(cfg)
	c.Enable()
	now := time.Unix(0, 0)
	for i := 0; i < 7; i++ {
		c.RecordSample(99, 100, now.Add(time.Duration(i)*time.Second))
	}
	require.False(t, c.ShouldAdjust(now.Add(7*time.Second)))
	for i := 7; i < 9; i++ {
		c.RecordSample(99, 100, now.Add(time.Duration(i)*time.Second))
	}
	require.True(t, c.ShouldAdjust(now.Add(9*time.Second)))
}

func TestOscillationRuleWins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EvaluationWindow = 20
	c := New(cfg)
	c.Enable()
	now := time.Unix(0, 0)
	// Alternate error sign every sample: strong oscillation.
	for i := 0; i < 20; i++ {
		temp := 99.0
		if i%2 == 0 {
			temp = 101.0
		}
		c.RecordSample(temp, 100, now.Add(time.Duration(i)*time.Second))
	}
	adj, ok := c.Evaluate(5, 0.1, 20, now.Add(20*time.Second))
	require.True(t, ok)
	require.Equal(t, "reducing oscillation", adj.Reason)
	require.Less(t, adj.Kp, 5.0)
}

func TestCooldownBlocksRepeatedAdjustment(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EvaluationWindow = 10
	cfg.AdjustmentCooldown = time.Minute
	c := New(cfg)
	c.Enable()
	now := time.Unix(0, 0)
	for i := 0; i < 10; i++ {
		temp := 99.0
		if i%2 == 0 {
			temp = 101.0
		}
		c.RecordSample(temp, 100, now.Add(time.Duration(i)*time.Second))
	}
	_, ok := c.Evaluate(5, 0.1, 20, now.Add(10*time.Second))
	require.True(t, ok)
	_, ok = c.Evaluate(5, 0.1, 20, now.Add(20*time.Second))
	require.False(t, ok, "cooldown has not elapsed")
}

func TestDisabledRecordsNothing(t *testing.T) {
	c := New(DefaultConfig())
	c.RecordSample(99, 100, time.Unix(0, 0))
	require.False(t, c.ShouldAdjust(time.Unix(0, 0)))
}
