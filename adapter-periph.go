//go:build !tinygo

package sx127x

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// realPin wraps a gpio.PinIO to satisfy the Pin interface.
type realPin struct {
	gpio.PinIO
	stopWatch chan struct{}
}

// Out drives the pin. periph sets the level together with the output direction.
func (p *realPin) Out(l Level) error {
	if l == High {
		return p.PinIO.Out(gpio.High)
	}
	return p.PinIO.Out(gpio.Low)
}

func (p *realPin) In(pull Pull) error {
	return p.PinIO.In(toGpioPull(pull), gpio.NoEdge)
}

func (p *realPin) Read() Level {
	if p.PinIO.Read() == gpio.High {
		return High
	}
	return Low
}

func (p *realPin) Watch(edge Edge, handler func()) error {
	var pEdge gpio.Edge
	switch edge {
	case RisingEdge:
		pEdge = gpio.RisingEdge
	case FallingEdge:
		pEdge = gpio.FallingEdge
	case BothEdges:
		pEdge = gpio.BothEdges
	default:
		pEdge = gpio.NoEdge
	}

	// DIO lines are push-pull outputs of the radio, idle low.
	if err := p.PinIO.In(gpio.PullDown, pEdge); err != nil {
		return err
	}

	stop := make(chan struct{})
	p.stopWatch = stop

	go func() {
		for {
			// Wait for edge with -1 (infinite timeout)
			if p.PinIO.WaitForEdge(-1) {
				select {
				case <-stop:
					return
				default:
					handler()
				}
			} else {
				select {
				case <-stop:
					return
				default:
				}
			}
		}
	}()
	return nil
}

func (p *realPin) Unwatch() error {
	if p.stopWatch == nil {
		return nil
	}
	close(p.stopWatch)
	p.stopWatch = nil
	// Disable edge detection, which also wakes the watcher up.
	return p.PinIO.In(gpio.PullDown, gpio.NoEdge)
}

func toGpioPull(pull Pull) gpio.Pull {
	switch pull {
	case PullFloat:
		return gpio.Float
	case PullDown:
		return gpio.PullDown
	case PullUp:
		return gpio.PullUp
	default:
		return gpio.PullNoChange
	}
}

// Config holds the configuration for the Linux/periph.io driver.
type Config struct {
	RadioConfig
	// ResetPin is the GPIO pin number (BCM numbering) wired to the radio's NRESET.
	// Defaults to 22 if not provided.
	ResetPin int
	// DIO0Pin is the GPIO pin number (BCM numbering) wired to the radio's DIO0.
	// Optional. If not provided, polling is used.
	DIO0Pin int
	// SpiBusPath is the path to the SPI bus (e.g., "/dev/spidev0.0").
	// Defaults to "/dev/spidev0.0" if not provided.
	SpiBusPath string
	// SpiClockHz is the SPI clock frequency in Hz.
	// Defaults to 4000000 (4MHz) if not provided.
	SpiClockHz int
	// WakeCause is forwarded to HardwareConfig.WakeCause.
	WakeCause func() WakeCause
}

// New creates and sets up a new SX127x driver for Linux systems.
// It applies configuration defaults, initializes the GPIO and SPI interfaces using periph.io,
// resets and configures the radio module.
// It returns the ready driver or an error if hardware initialization fails.
func New(c Config) (*Device, error) {
	// 1. Initialize periph.io host (Required for both SPI and GPIO)
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize periph.io host: %w", ErrPkg, err)
	}

	// 2. Default SPI Path
	if c.SpiBusPath == "" {
		c.SpiBusPath = "/dev/spidev0.0"
	}

	// 3. Open the SPI Port
	p, err := spireg.Open(c.SpiBusPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open SPI port: %w", ErrPkg, err)
	}

	// 4. Default Clock
	if c.SpiClockHz == 0 {
		c.SpiClockHz = 4000000
	}

	// 5. Create the SPI Connection (Mode 0, 8 bits). The kernel driver handles chip select.
	conn, err := p.Connect(physic.Frequency(c.SpiClockHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("%w: failed to create SPI connection: %w", ErrPkg, err)
	}

	// 6. Setup Reset Pin
	if c.ResetPin == 0 {
		c.ResetPin = 22
	}
	resetName := fmt.Sprintf("GPIO%d", c.ResetPin)
	realReset := gpioreg.ByName(resetName)
	if realReset == nil {
		p.Close()
		return nil, fmt.Errorf("%w: failed to open reset pin %s", ErrPkg, resetName)
	}

	// 7. Setup DIO0 Pin
	var dio0 Pin
	if c.DIO0Pin != 0 {
		dio0Name := fmt.Sprintf("GPIO%d", c.DIO0Pin)
		realDio0 := gpioreg.ByName(dio0Name)
		if realDio0 == nil {
			p.Close()
			return nil, fmt.Errorf("%w: failed to open DIO0 pin %s", ErrPkg, dio0Name)
		}
		dio0 = &realPin{PinIO: realDio0}
	}

	// 8. Call internal constructor
	hwConfig := HardwareConfig{
		RadioConfig: c.RadioConfig,
		Reset:       &realPin{PinIO: realReset},
		DIO0:        dio0,
		WakeCause:   c.WakeCause,
	}
	dev, err := NewWithHardware(hwConfig, conn)
	if err != nil {
		p.Close()
		return nil, err
	}

	// Store the port closer so we can close it later
	dev.port = p

	if err := dev.Setup(); err != nil {
		dev.Close()
		return nil, err
	}
	return dev, nil
}
