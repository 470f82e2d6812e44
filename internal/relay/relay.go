// Package relay implements the boolean relay driver of SPEC_FULL.md §4.2:
// a GPIO output in real mode, a logging no-op in simulation, with
// hardware-fallback detection on acquisition failure. Dwell enforcement
// is a strategy concern (internal/strategy), not this package's job.
package relay

import (
	"fmt"

	"go.uber.org/zap"
)

// ErrHardwareFallback reports a failed line acquisition. NewGPIODriver
// returns it alongside the SimDriver it substitutes; Reconfigure returns
// it with the old line already released. The control loop raises the
// hardware_fallback alert when it finds a SimDriver outside sim_mode.
type ErrHardwareFallback struct {
	Pin int
	Err error
}

func (e *ErrHardwareFallback) Error() string {
	return fmt.Sprintf("relay: GPIO pin %d acquisition failed: %v", e.Pin, e.Err)
}

func (e *ErrHardwareFallback) Unwrap() error { return e.Err }

// Driver is the relay's boolean control surface.
type Driver interface {
	SetState(on bool) error
	State() bool
	// Reconfigure releases the current line (if any) and re-acquires
	// one at the new pin/polarity.
	Reconfigure(pin int, activeHigh bool) error
	Close() error
}

// gpioLine abstracts the underlying digital output so the real driver
// can be exercised without physical hardware in tests. A production
// binding implements this over periph.io's gpio.PinIO, matching the
// SPI/GPIO acquire-on-open idiom used by the sensor backend. It is an
// alias, so an opener declared elsewhere with the same anonymous
// interface result is assignable to LineOpener.
type gpioLine = interface {
	Write(high bool) error
	Close() error
}

// LineOpener acquires a gpioLine for a pin number.
type LineOpener func(pin int) (gpioLine, error)

// GPIODriver drives a real relay through a GPIO line.
type GPIODriver struct {
	open       LineOpener
	log        *zap.Logger
	pin        int
	activeHigh bool
	line       gpioLine
	state      bool
}

// NewGPIODriver acquires the line for pin/activeHigh. On acquisition
// failure it returns (*SimDriver, *ErrHardwareFallback) so the caller
// gets a working driver immediately alongside the diagnostic.
func NewGPIODriver(open LineOpener, log *zap.Logger, pin int, activeHigh bool) (Driver, error) {
	line, err := open(pin)
	if err != nil {
		sim := NewSimDriver(log)
		return sim, &ErrHardwareFallback{Pin: pin, Err: err}
	}
	return &GPIODriver{open: open, log: log, pin: pin, activeHigh: activeHigh, line: line}, nil
}

func (d *GPIODriver) SetState(on bool) error {
	high := on
	if !d.activeHigh {
		high = !on
	}
	if err := d.line.Write(high); err != nil {
		return fmt.Errorf("relay: write pin %d: %w", d.pin, err)
	}
	if on != d.state {
		d.log.Debug("relay state changed", zap.Bool("on", on), zap.Int("pin", d.pin))
	}
	d.state = on
	return nil
}

func (d *GPIODriver) State() bool { return d.state }

func (d *GPIODriver) Reconfigure(pin int, activeHigh bool) error {
	if d.line != nil {
		_ = d.line.Close()
	}
	line, err := d.open(pin)
	if err != nil {
		return &ErrHardwareFallback{Pin: pin, Err: err}
	}
	d.pin = pin
	d.activeHigh = activeHigh
	d.line = line
	d.state = false
	return nil
}

func (d *GPIODriver) Close() error {
	if d.line == nil {
		return nil
	}
	return d.line.Close()
}

// SimDriver records relay transitions without touching hardware,
// matching SimRelayDriver.
type SimDriver struct {
	log   *zap.Logger
	state bool
}

// NewSimDriver builds a simulated relay driver.
func NewSimDriver(log *zap.Logger) *SimDriver {
	return &SimDriver{log: log}
}

func (d *SimDriver) SetState(on bool) error {
	if on != d.state {
		d.log.Info("sim relay state changed", zap.Bool("on", on))
	}
	d.state = on
	return nil
}

func (d *SimDriver) State() bool { return d.state }

func (d *SimDriver) Reconfigure(pin int, activeHigh bool) error {
	d.state = false
	return nil
}

func (d *SimDriver) Close() error { return nil }
