//go:build tinygo

package sx127x

import (
	"machine"
)

// tinygoPin wraps a machine.Pin to satisfy the Pin interface.
type tinygoPin struct {
	pin machine.Pin
}

// Out latches the level before switching the pin to output.
func (p *tinygoPin) Out(l Level) error {
	p.pin.Set(bool(l))
	p.pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.pin.Set(bool(l))
	return nil
}

func (p *tinygoPin) In(pull Pull) error {
	var mPull machine.PinMode
	switch pull {
	case PullUp:
		mPull = machine.PinInputPullup
	case PullDown:
		mPull = machine.PinInputPulldown
	default:
		mPull = machine.PinInput
	}
	p.pin.Configure(machine.PinConfig{Mode: mPull})
	return nil
}

func (p *tinygoPin) Read() Level {
	return Level(p.pin.Get())
}

func (p *tinygoPin) Watch(edge Edge, handler func()) error {
	var mEdge machine.PinChange
	switch edge {
	case RisingEdge:
		mEdge = machine.PinRising
	case FallingEdge:
		mEdge = machine.PinFalling
	case BothEdges:
		mEdge = machine.PinToggle
	default:
		return nil
	}

	return p.pin.SetInterrupt(mEdge, func(machine.Pin) {
		handler()
	})
}

func (p *tinygoPin) Unwatch() error {
	return p.pin.SetInterrupt(machine.PinRising, nil)
}

// tinygoSPI wraps a machine.SPI to satisfy the SPI interface.
// Chip select is driven by the Device through HardwareConfig.CS.
type tinygoSPI struct {
	spi *machine.SPI
}

func (s *tinygoSPI) Tx(w, r []byte) error {
	return s.spi.Tx(w, r)
}

// Config holds the configuration for the TinyGo driver.
type Config struct {
	RadioConfig
	// SPI is the configured SPI bus the radio is attached to. Required.
	SPI *machine.SPI
	// CSPin is the radio's NSS line. Required.
	CSPin machine.Pin
	// ResetPin is the radio's NRESET line. Required.
	ResetPin machine.Pin
	// DIO0Pin is the radio's DIO0 line.
	// Optional. Use machine.NoPin to poll the radio instead.
	DIO0Pin machine.Pin
	// WakeCause is forwarded to HardwareConfig.WakeCause.
	WakeCause func() WakeCause
}

// New creates and sets up a new SX127x driver for TinyGo systems.
func New(c Config) (*Device, error) {
	var dio0 Pin
	if c.DIO0Pin != machine.NoPin {
		dio0 = &tinygoPin{pin: c.DIO0Pin}
	}

	hwConfig := HardwareConfig{
		RadioConfig: c.RadioConfig,
		Reset:       &tinygoPin{pin: c.ResetPin},
		DIO0:        dio0,
		CS:          &tinygoPin{pin: c.CSPin},
		WakeCause:   c.WakeCause,
	}
	dev, err := NewWithHardware(hwConfig, &tinygoSPI{spi: c.SPI})
	if err != nil {
		return nil, err
	}
	if err := dev.Setup(); err != nil {
		return nil, err
	}
	return dev, nil
}
