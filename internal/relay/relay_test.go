package relay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLine struct {
	high   bool
	closed bool
}

func (f *fakeLine) Write(high bool) error {
	f.high = high
	return nil
}

func (f *fakeLine) Close() error {
	f.closed = true
	return nil
}

func TestGPIODriverActiveHighPolarity(t *testing.T) {
	var line fakeLine
	opener := func(pin int) (gpioLine, error) { return &line, nil }
	d, err := NewGPIODriver(opener, zap.NewNop(), 17, true)
	require.NoError(t, err)
	require.NoError(t, d.SetState(true))
	require.True(t, line.high)
	require.True(t, d.State())
}

func TestGPIODriverActiveLowPolarity(t *testing.T) {
	var line fakeLine
	opener := func(pin int) (gpioLine, error) { return &line, nil }
	d, err := NewGPIODriver(opener, zap.NewNop(), 17, false)
	require.NoError(t, err)
	require.NoError(t, d.SetState(true))
	require.False(t, line.high, "active-low relay should drive the line low when commanded ON")
}

func TestAcquisitionFailureFallsBackToSim(t *testing.T) {
	opener := func(pin int) (gpioLine, error) { return nil, errors.New("no such device") }
	d, err := NewGPIODriver(opener, zap.NewNop(), 17, true)
	require.Error(t, err)
	var hw *ErrHardwareFallback
	require.ErrorAs(t, err, &hw)
	require.NotNil(t, d)
	require.NoError(t, d.SetState(true))
	require.True(t, d.State())
}

func TestReconfigureReleasesAndReacquires(t *testing.T) {
	var line1, line2 fakeLine
	calls := 0
	opener := func(pin int) (gpioLine, error) {
		calls++
		if calls == 1 {
			return &line1, nil
		}
		return &line2, nil
	}
	d, err := NewGPIODriver(opener, zap.NewNop(), 17, true)
	require.NoError(t, err)
	require.NoError(t, d.Reconfigure(27, false))
	require.True(t, line1.closed)
	require.False(t, d.State())
}
