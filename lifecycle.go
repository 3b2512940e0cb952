package sx127x

import (
	"fmt"
	"time"

	"github.com/michcald/sx127x/chip"
)

// WakeCause tells Setup why the host started.
type WakeCause uint8

const (
	// WakePowerOn is a cold start or a reset: the radio needs a reset pulse and a full
	// register configuration.
	WakePowerOn WakeCause = iota
	// WakeSleep is a resume from a host deep sleep during which the radio kept its
	// configuration.
	WakeSleep
)

func (w WakeCause) String() string {
	if w == WakeSleep {
		return "sleep"
	}
	return "power-on"
}

const (
	resetPulse  = time.Millisecond
	resetSettle = 8 * time.Millisecond
)

// Setup brings the radio up and makes the Device ready.
//
// On power-on the radio is reset and fully configured. When resuming from sleep the
// radio keeps its registers and the interrupt line is checked once for an event raised
// while the host was asleep.
//
// Any failure leaves the Device in a failed state where every request is ignored. The
// returned error wraps ErrFailed.
func (d *Device) Setup() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case stateReady:
		return nil
	case stateFailed:
		return fmt.Errorf("%w: %w", ErrPkg, ErrFailed)
	case stateClosed:
		return fmt.Errorf("%w: %w", ErrPkg, ErrClosed)
	}

	cause := WakePowerOn
	if d.config.WakeCause != nil {
		cause = d.config.WakeCause()
	}
	globalLogger.Info("setting up SX127x, wake cause: " + cause.String())

	// Reset is active-low: deassert it before the pin is turned into an output.
	if err := d.config.Reset.Out(High); err != nil {
		return d.fail("reset pin", err)
	}
	if d.config.DIO0 != nil {
		if err := d.config.DIO0.In(PullNoChange); err != nil {
			return d.fail("DIO0 pin", err)
		}
	}

	d.transmitting = false
	d.stats.Sent = 0
	d.stats.Received = 0

	if cause == WakePowerOn {
		if err := d.pulseReset(); err != nil {
			return d.fail("reset", err)
		}
	}

	if err := d.bind.open(d.onTxDone, d.onRxDone); err != nil {
		return d.fail("probe", err)
	}
	if d.config.DIO0 != nil {
		if err := d.config.DIO0.Watch(RisingEdge, d.signal); err != nil {
			return d.fail("DIO0 watch", err)
		}
		d.watching = true
	}

	if cause == WakePowerOn {
		if err := d.configure(); err != nil {
			return d.fail("configure", err)
		}
	}
	if err := d.updateOpmod(); err != nil {
		return d.fail("set opmod", err)
	}

	d.state = stateReady
	globalLogger.Info("SX127x ready")

	if cause == WakeSleep && d.config.DIO0 != nil {
		d.signal()
	}
	if len(d.txQueue) > 0 {
		d.sendNext()
	}
	return nil
}

func (d *Device) pulseReset() error {
	if err := d.config.Reset.Out(Low); err != nil {
		return err
	}
	d.sleep(resetPulse)
	if err := d.config.Reset.Out(High); err != nil {
		return err
	}
	d.sleep(resetSettle)
	return nil
}

// configure writes the full LoRa register set. The chip must be in sleep to switch to
// LoRa mode, and stays there until the desired mode is applied.
func (d *Device) configure() error {
	c := d.config.RadioConfig
	r := d.bind.chip
	steps := []struct {
		name string
		fn   func() error
	}{
		// The frequency selects the front-end the mode switches below apply to.
		{fmt.Sprintf("frequency %d Hz", c.Frequency), func() error { return r.SetFrequency(uint64(c.Frequency)) }},
		{"sleep", func() error {
			if err := r.SetOpmod(chip.ModeSleep, chip.ModulationLoRa); err != nil {
				return err
			}
			d.current = OpmodSleep
			return nil
		}},
		{"reset FIFO", r.ResetFIFO},
		{"bandwidth " + c.Bandwidth.String(), func() error { return r.SetBandwidth(c.Bandwidth) }},
		{"explicit header mode", func() error { return r.SetImplicitHeader(nil) }},
		{"spreading factor " + c.SpreadingFactor.String(), func() error { return r.SetModemConfig2(c.SpreadingFactor) }},
		{fmt.Sprintf("sync word 0x%02X", c.SyncWord), func() error { return r.SetSyncWord(c.SyncWord) }},
		{fmt.Sprintf("preamble length %d", c.PreambleLength), func() error { return r.SetPreambleLength(c.PreambleLength) }},
		{fmt.Sprintf("PA %s %d dBm", c.PaPin, c.TxPower), func() error { return r.SetPAConfig(c.PaPin, c.TxPower) }},
		{fmt.Sprintf("coding rate %s, crc %v", c.CodingRate, !c.DisableCRC), func() error {
			return r.SetExplicitHeader(chip.TxHeader{EnableCRC: !c.DisableCRC, CodingRate: c.CodingRate})
		}},
		{fmt.Sprintf("invert IQ %v", c.InvertIQ), func() error { return r.SetInvertIQ(c.InvertIQ) }},
	}

	for _, s := range steps {
		globalLogger.Info("configure: " + s.name)
		if err := s.fn(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// fail marks the device failed, releases the interrupt line and drops every queued payload.
// Must be called with mu held.
func (d *Device) fail(step string, err error) error {
	d.state = stateFailed
	d.transmitting = false
	if n := len(d.txQueue); n > 0 {
		d.stats.Dropped += uint32(n)
		d.txQueue = nil
	}
	if uerr := d.unwatch(); uerr != nil {
		globalLogger.Warn(uerr.Error())
	}
	globalLogger.Error("setup failed: " + step + ": " + err.Error())
	return fmt.Errorf("%w: %w: %s: %w", ErrPkg, ErrFailed, step, err)
}

// Close stops any transmission, puts the radio to sleep and releases the hardware.
// Further requests are ignored.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == stateClosed {
		return nil
	}
	d.stopTimeout()
	if d.state == stateReady {
		if err := d.commandOpmod(OpmodSleep); err != nil {
			globalLogger.Warn("close: radio not put to sleep: " + err.Error())
		}
	}
	d.state = stateClosed
	d.transmitting = false
	d.txQueue = nil

	err := d.unwatch()
	if d.port != nil {
		if cerr := d.port.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close SPI port: %w", ErrPkg, cerr)
		}
	}
	globalLogger.Info("SX127x closed")
	return err
}

func (d *Device) unwatch() error {
	if !d.watching {
		return nil
	}
	d.watching = false
	if err := d.config.DIO0.Unwatch(); err != nil {
		return fmt.Errorf("%w: unwatch DIO0: %w", ErrPkg, err)
	}
	return nil
}
