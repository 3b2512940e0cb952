package sx127x

import (
	"fmt"
	"strconv"

	"github.com/michcald/sx127x/chip"
)

// Send transmits payload, or queues it behind the transmission in flight.
//
// Sending never blocks and reports nothing back: payloads that are empty, larger than
// 255 bytes or that find the queue full are logged and counted in Stats().Dropped.
// Completion is reported through OnTransmitDone. A failed device ignores the call.
// The payload is copied.
// This method is concurrent safe.
func (d *Device) Send(payload []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.send(payload)
}

// QueueLen returns the number of payloads waiting behind the transmission in flight.
// This method is concurrent safe.
func (d *Device) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.txQueue)
}

func (d *Device) send(payload []byte) {
	if d.state == stateFailed || d.state == stateClosed {
		globalLogger.Debug("send: cancelled, device not operational")
		return
	}
	if len(payload) == 0 || len(payload) > chip.MAX_PAYLOAD_LENGTH {
		globalLogger.Error(fmt.Sprintf("send: %v (%d bytes), message dropped", ErrPayloadSize, len(payload)))
		d.stats.Dropped++
		return
	}

	p := append([]byte(nil), payload...)
	if d.transmitting || d.state != stateReady {
		if len(d.txQueue) >= d.config.QueueLen {
			globalLogger.Error("send: " + ErrQueueFull.Error() + ", message dropped")
			d.stats.Dropped++
			return
		}
		d.txQueue = append(d.txQueue, p)
		globalLogger.Debug("send: queued " + strconv.Itoa(len(p)) + " bytes (pending: " + strconv.Itoa(len(d.txQueue)) + ")")
		return
	}
	d.xmit(p)
}

// xmit starts a transmission and arms its timeout. The timeout is armed even when the
// radio rejected the transmission so that the queue keeps moving.
func (d *Device) xmit(payload []byte) {
	d.transmitting = true
	d.txSeq++
	seq := d.txSeq

	globalLogger.Debug("send: transmitting " + strconv.Itoa(len(payload)) + " bytes")
	if err := d.startTx(payload); err != nil {
		globalLogger.Error("send: transmission not started: " + err.Error())
	}
	d.timer = d.afterFunc(d.config.TxTimeout, func() { d.onTxTimeout(seq) })
}

func (d *Device) startTx(payload []byte) error {
	// The FIFO is not accessible in sleep, and a stuck transmission is aborted by going
	// through standby.
	if d.current == OpmodSleep || d.current == OpmodTransmit {
		if err := d.commandOpmod(OpmodStandby); err != nil {
			return err
		}
	}
	// A TxDone latched for an abandoned transmission must not complete this one.
	if err := d.bind.chip.ClearIRQ(); err != nil {
		return err
	}
	if err := d.bind.chip.SetForTransmission(payload); err != nil {
		return err
	}
	return d.commandOpmod(OpmodTransmit)
}

// sendNext starts the next queued payload, or hands the radio back to the desired mode.
func (d *Device) sendNext() {
	if len(d.txQueue) > 0 {
		p := d.txQueue[0]
		d.txQueue[0] = nil
		d.txQueue = d.txQueue[1:]
		d.xmit(p)
		return
	}
	d.transmitting = false
	d.updateOpmod()
}

func (d *Device) stopTimeout() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// onTxDone is registered as the chip's TX callback.
func (d *Device) onTxDone() {
	if !d.transmitting {
		globalLogger.Debug("TX done without transmission in flight, ignored")
		return
	}
	globalLogger.Debug("TX done")
	d.stopTimeout()
	// The chip falls back to standby at the end of a transmission.
	d.current = OpmodStandby
	d.stats.Sent++
	d.events = append(d.events, event{tx: true})
	d.sendNext()
}

// onTxTimeout fires from the timer goroutine. seq identifies the transmission the timer
// was armed for; a timer that lost the race against TxDone finds a different seq.
func (d *Device) onTxTimeout(seq uint64) {
	d.mu.Lock()
	if !d.transmitting || seq != d.txSeq || d.state != stateReady {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	globalLogger.Error("send: TX timeout")
	d.stats.Timeouts++
	d.events = append(d.events, event{tx: true, txErr: fmt.Errorf("%w: %w", ErrPkg, ErrTxTimeout)})
	d.sendNext()
	d.unlockAndEmit()
}
