package main

import (
	"fmt"

	"golang.org/x/sys/unix"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

const max31855SPIFreq = 1 * physic.MegaHertz

var hostInitDone bool

func ensureHostInit() error {
	if hostInitDone {
		return nil
	}
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periph host init: %w", err)
	}
	hostInitDone = true
	return nil
}

// gpioPinAdapter satisfies relay's unexported gpioLine interface
// (Write(bool) error, Close() error) over a periph.io gpio.PinIO.
type gpioPinAdapter struct {
	pin gpio.PinIO
}

func (a *gpioPinAdapter) Write(high bool) error {
	level := gpio.Low
	if high {
		level = gpio.High
	}
	return a.pin.Out(level)
}

func (a *gpioPinAdapter) Close() error {
	return a.pin.Halt()
}

// openGPIOLine acquires a real GPIO line for the relay, probing
// /dev/gpiochip0's accessibility first so a wiring/permissions mistake
// fails with a clear diagnostic rather than an opaque periph.io error.
func openGPIOLine(pin int) (interface {
	Write(bool) error
	Close() error
}, error) {
	if err := unix.Access("/dev/gpiochip0", unix.R_OK|unix.W_OK); err != nil {
		return nil, fmt.Errorf("gpiochip0 not accessible: %w", err)
	}
	if err := ensureHostInit(); err != nil {
		return nil, err
	}

	name := fmt.Sprintf("GPIO%d", pin)
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio pin %q not found", name)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("gpio pin %q initial Out: %w", name, err)
	}
	return &gpioPinAdapter{pin: p}, nil
}

// openSPIThermocouple opens the SPI bus for a MAX31855 amplifier wired
// to the given chip-select pin and returns a ready-to-read connection.
func openSPIThermocouple(csPin int) (spi.Conn, error) {
	if err := ensureHostInit(); err != nil {
		return nil, err
	}
	port, err := spireg.Open(fmt.Sprintf("SPI0.%d", csPin))
	if err != nil {
		return nil, fmt.Errorf("spi open cs%d: %w", csPin, err)
	}
	conn, err := port.Connect(max31855SPIFreq, spi.Mode0, 8)
	if err != nil {
		return nil, fmt.Errorf("spi connect cs%d: %w", csPin, err)
	}
	return conn, nil
}
