package sensor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/spi"
)

type fakeSPIConn struct {
	response []byte
	err      error
}

func (f *fakeSPIConn) String() string { return "fakeSPIConn" }

func (f *fakeSPIConn) Tx(w, r []byte) error {
	if f.err != nil {
		return f.err
	}
	copy(r, f.response)
	return nil
}

func (f *fakeSPIConn) Duplex() conn.Duplex { return conn.Full }

func (f *fakeSPIConn) TxPackets(p []spi.Packet) error { return nil }

func TestSPIChannelDecodesPositiveTemperature(t *testing.T) {
	// 100.00 degC -> raw = 400 (0.25 degC/LSB), shifted into bits 18-31.
	raw := uint32(400) << 18
	resp := []byte{byte(raw >> 24), byte(raw >> 16), byte(raw >> 8), byte(raw)}
	ch := NewSPIChannel(&fakeSPIConn{response: resp})

	temp, err := ch.ReadRaw(context.Background())
	require.NoError(t, err)
	require.InDelta(t, 100.0, temp, 0.01)
	require.True(t, ch.IsReal())
}

func TestSPIChannelDecodesNegativeTemperature(t *testing.T) {
	raw := uint32(int32(-40*4)) & 0x3fff
	frame := raw << 18
	resp := []byte{byte(frame >> 24), byte(frame >> 16), byte(frame >> 8), byte(frame)}
	ch := NewSPIChannel(&fakeSPIConn{response: resp})

	temp, err := ch.ReadRaw(context.Background())
	require.NoError(t, err)
	require.InDelta(t, -40.0, temp, 0.01)
}

func TestSPIChannelReturnsErrorOnFaultBit(t *testing.T) {
	frame := uint32(max31855FaultBit)
	resp := []byte{byte(frame >> 24), byte(frame >> 16), byte(frame >> 8), byte(frame)}
	ch := NewSPIChannel(&fakeSPIConn{response: resp})

	_, err := ch.ReadRaw(context.Background())
	require.Error(t, err)
}
