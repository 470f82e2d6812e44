package sensor

import (
	"context"
	"fmt"

	"periph.io/x/conn/v3/spi"
)

// max31855FaultBit is bit 16 of the 32-bit MAX31855 frame: set when any
// of the three fault bits (open circuit, short to GND, short to VCC) is
// raised.
const max31855FaultBit = 1 << 16

// SPIChannel reads a MAX31855 thermocouple amplifier over SPI, grounded
// on the periph.io device-driver idiom (open a spi.Conn once, Tx a fixed
// read-only frame per sample) seen in the periph.io sensor drivers.
type SPIChannel struct {
	conn spi.Conn
}

// NewSPIChannel wraps an already-opened SPI connection as a Channel.
// Building the spi.Conn (spireg.Open + Connect) is the caller's job so
// this package stays free of periph.io's registry/global-init side
// effects outside of the real-hardware path.
func NewSPIChannel(conn spi.Conn) *SPIChannel {
	return &SPIChannel{conn: conn}
}

// ReadRaw clocks out 4 bytes and decodes the 14-bit signed thermocouple
// temperature, 0.25 degC per LSB, per the MAX31855 datasheet.
func (c *SPIChannel) ReadRaw(ctx context.Context) (float64, error) {
	write := make([]byte, 4)
	read := make([]byte, 4)
	if err := c.conn.Tx(write, read); err != nil {
		return 0, fmt.Errorf("sensor: spi read: %w", err)
	}

	frame := uint32(read[0])<<24 | uint32(read[1])<<16 | uint32(read[2])<<8 | uint32(read[3])
	if frame&max31855FaultBit != 0 {
		return 0, fmt.Errorf("sensor: MAX31855 fault bit set (frame=0x%08x)", frame)
	}

	raw := int32(frame >> 18)
	if raw&0x2000 != 0 {
		raw |= ^int32(0x3fff)
	}
	return float64(raw) * 0.25, nil
}

// IsReal always reports true: SPIChannel only exists on the real-hardware
// path, never the simulator.
func (c *SPIChannel) IsReal() bool { return true }
