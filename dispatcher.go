package sx127x

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/michcald/sx127x/chip"
)

// signal is the DIO0 edge handler. It only posts a token on the one-slot irq channel;
// edges arriving while a token is pending collapse into it.
func (d *Device) signal() {
	select {
	case d.irq <- struct{}{}:
	default:
	}
}

// Poll runs the deferred interrupt work if an interrupt is pending. It is meant to be called
// regularly from a single-threaded main loop. Without a DIO0 pin the radio's IRQ flags are
// read on every call.
// Packet and transmit-done handlers run from Poll.
func (d *Device) Poll() {
	if d.config.DIO0 == nil {
		d.handleInterrupt()
		return
	}
	select {
	case <-d.irq:
		d.handleInterrupt()
	default:
	}
}

// Run processes interrupts until ctx is done. Without a DIO0 pin it polls the radio every
// HardwareConfig.PollInterval.
// Packet and transmit-done handlers run on the goroutine calling Run.
func (d *Device) Run(ctx context.Context) error {
	var poll <-chan time.Time
	if d.config.DIO0 == nil {
		ticker := time.NewTicker(d.config.PollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.irq:
			d.handleInterrupt()
		case <-poll:
			d.handleInterrupt()
		}
	}
}

func (d *Device) handleInterrupt() {
	d.mu.Lock()
	if d.state != stateReady {
		d.mu.Unlock()
		return
	}
	if err := d.bind.chip.HandleInterrupt(); err != nil {
		if errors.Is(err, chip.ErrPayloadCRC) {
			globalLogger.Warn("RX packet dropped: payload crc error")
		} else {
			globalLogger.Error("handle interrupt: " + err.Error())
		}
	}
	d.unlockAndEmit()
}

// onRxDone is registered as the chip's RX callback.
func (d *Device) onRxDone(payload []byte) {
	rssi, err := d.bind.chip.PacketRSSI()
	if err != nil {
		globalLogger.Warn("RX: read RSSI: " + err.Error())
	}
	snr, err := d.bind.chip.PacketSNR()
	if err != nil {
		globalLogger.Warn("RX: read SNR: " + err.Error())
		snr = float32(math.NaN())
	}
	globalLogger.Debug(fmt.Sprintf("RX: %d bytes, SNR %.2f dB, RSSI %d dBm", len(payload), snr, rssi))

	// Some chips leave continuous receive after RxDone.
	d.updateOpmod()

	d.stats.Received++
	d.events = append(d.events, event{packet: &Packet{Payload: payload, SNR: snr, RSSI: rssi}})
}
