package sx127x

import (
	"fmt"

	"github.com/michcald/sx127x/chip"
)

// Opmod is a high-level operating mode of the radio.
type Opmod uint8

const (
	opmodUnset Opmod = iota
	OpmodSleep
	OpmodStandby
	// OpmodTransmit is only ever entered by the transmit scheduler.
	OpmodTransmit
	// OpmodReceive is continuous receive.
	OpmodReceive
)

func (o Opmod) String() string {
	switch o {
	case OpmodSleep:
		return "sleep"
	case OpmodStandby:
		return "standby"
	case OpmodTransmit:
		return "tx"
	case OpmodReceive:
		return "rx"
	default:
		return "unset"
	}
}

// ParseOpmod returns the resting mode named s: "sleep", "standby" or "rx".
func ParseOpmod(s string) (Opmod, error) {
	switch s {
	case "sleep":
		return OpmodSleep, nil
	case "standby":
		return OpmodStandby, nil
	case "rx", "receive":
		return OpmodReceive, nil
	default:
		return opmodUnset, fmt.Errorf("%w: %w: unknown opmod %q", ErrPkg, ErrInvalidArgument, s)
	}
}

// restable reports whether o may be requested by the application.
func (o Opmod) restable() bool {
	return o == OpmodSleep || o == OpmodStandby || o == OpmodReceive
}

func (o Opmod) chipMode() chip.Mode {
	switch o {
	case OpmodSleep:
		return chip.ModeSleep
	case OpmodTransmit:
		return chip.ModeTX
	case OpmodReceive:
		return chip.ModeRXContinuous
	default:
		return chip.ModeStandby
	}
}

// ChangeOpmod requests the mode the radio rests in when it is not transmitting.
// While a transmission is in flight the request is recorded and applied once the transmit
// queue drains. OpmodTransmit cannot be requested.
// This method is concurrent safe.
func (d *Device) ChangeOpmod(target Opmod) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.changeOpmod(target)
}

// EnableReceive puts the radio in continuous receive.
// This method is concurrent safe.
func (d *Device) EnableReceive() { d.ChangeOpmod(OpmodReceive) }

// DisableReceive returns the radio to standby.
// This method is concurrent safe.
func (d *Device) DisableReceive() { d.ChangeOpmod(OpmodStandby) }

// Opmod returns the desired resting mode.
// This method is concurrent safe.
func (d *Device) Opmod() Opmod {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opmod
}

// CurrentOpmod returns the mode last commanded to the chip.
// This method is concurrent safe.
func (d *Device) CurrentOpmod() Opmod {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// IsTransmitting reports whether a transmission is in flight.
// This method is concurrent safe.
func (d *Device) IsTransmitting() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transmitting
}

func (d *Device) changeOpmod(target Opmod) {
	if d.state == stateFailed || d.state == stateClosed {
		globalLogger.Debug("change opmod: cancelled, device not operational")
		return
	}
	if !target.restable() {
		globalLogger.Warn("change opmod: " + target.String() + " cannot be requested")
		return
	}
	if target == d.opmod {
		return
	}

	globalLogger.Debug("change opmod: " + d.opmod.String() + " > " + target.String())
	d.opmod = target
	if d.state == stateReady {
		d.updateOpmod()
	}
}

// updateOpmod commands the desired mode, unless a transmission owns the radio.
func (d *Device) updateOpmod() error {
	if d.transmitting {
		return nil
	}
	return d.commandOpmod(d.opmod)
}

func (d *Device) commandOpmod(o Opmod) error {
	globalLogger.Debug("set opmod " + o.String())
	if err := d.bind.chip.SetOpmod(o.chipMode(), chip.ModulationLoRa); err != nil {
		globalLogger.Error("set opmod " + o.String() + " failed: " + err.Error())
		return err
	}
	d.current = o
	return nil
}
