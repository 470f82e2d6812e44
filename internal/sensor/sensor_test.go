package sensor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scriptedChannel struct {
	readings []float64
	idx      int
	real     bool
}

func (s *scriptedChannel) ReadRaw(ctx context.Context) (float64, error) {
	v := s.readings[s.idx]
	if s.idx < len(s.readings)-1 {
		s.idx++
	}
	return v, nil
}

func (s *scriptedChannel) IsReal() bool { return s.real }

// TestMedianFilterRejectsOutlier mirrors S3: after three 100°C samples,
// 130 differs from the accepted history by >8°F, so it is suspect and
// triggers a double-read; the scripted second read is 200, which
// disagrees with 130, so the candidate is rejected.
func TestMedianFilterRejectsOutlier(t *testing.T) {
	ch := &scriptedChannel{readings: []float64{100, 100, 100, 130, 200, 100}}
	f := NewFilter(ch)
	now := time.Unix(0, 0)

	for i := 0; i < 3; i++ {
		temp, fault := f.ReadFiltered(context.Background(), now.Add(time.Duration(i)*time.Second))
		require.False(t, fault)
		require.Equal(t, 100.0, temp)
	}

	// 4th raw read (130) is suspect vs history of 100 → double read
	// triggers ch.ReadRaw again returning 200, which disagrees with 130
	// by more than 2°F → rejected, last-known (100) reported with fault.
	temp, fault := f.ReadFiltered(context.Background(), now.Add(3*time.Second))
	require.True(t, fault)
	require.Equal(t, 100.0, temp)
}

func TestMedianOfWindow(t *testing.T) {
	ch := &scriptedChannel{readings: []float64{100, 101, 99}}
	f := NewFilter(ch)
	now := time.Unix(0, 0)
	f.ReadFiltered(context.Background(), now)
	f.ReadFiltered(context.Background(), now.Add(time.Second))
	temp, fault := f.ReadFiltered(context.Background(), now.Add(2*time.Second))
	require.False(t, fault)
	require.Equal(t, 100.0, temp) // median of [100,101,99]
}

func TestNoGoodReadingEverReturnsFault(t *testing.T) {
	ch := &scriptedChannel{readings: []float64{math_NaN()}}
	f := NewFilter(ch)
	temp, fault := f.ReadFiltered(context.Background(), time.Unix(0, 0))
	require.True(t, fault)
	require.Zero(t, temp)
}

func math_NaN() float64 {
	var zero float64
	return zero / zero
}

func TestManagerAnyFallback(t *testing.T) {
	m := NewManager()
	m.AddChannel(1, &scriptedChannel{readings: []float64{100}, real: true})
	m.AddChannel(2, &scriptedChannel{readings: []float64{100}, real: false})
	require.True(t, m.AnyFallback(false))
	require.False(t, m.AnyFallback(true))
}
