// Package wan lets a LoRaWAN stack drive an sx127x.Device.
//
// The stack expects a blocking radio: LoraTx returns once the frame is on air and LoraRx
// waits for a downlink. Radio provides that on top of the non-blocking Device, whose events
// must be pumped by Device.Run on another goroutine.
package wan

import (
	"errors"
	"fmt"
	"time"

	lorawan "github.com/ofauchon/go-lorawan-stack"
	"github.com/sirupsen/logrus"

	"github.com/michcald/sx127x"
)

var (
	ErrTxTimeout = errors.New("wan: transmission not confirmed in time")
)

// Modem is the part of sx127x.Device the adapter needs.
type Modem interface {
	Send(payload []byte)
	OnPacket(fn func(sx127x.Packet))
	OnTransmitDone(fn func(error))
	EnableReceive()
	Opmod() sx127x.Opmod
	ChangeOpmod(target sx127x.Opmod)
	SetFrequency(hz uint32) error
	SetBandwidth(bw sx127x.Bandwidth) error
	SetSpreadingFactor(sf sx127x.SpreadingFactor) error
	SetCodingRate(cr sx127x.CodingRate) error
	SetCRC(enable bool) error
	SetInvertIQ(invert bool) error
}

var (
	_ Modem             = (*sx127x.Device)(nil)
	_ lorawan.LoraRadio = (*Radio)(nil)
)

// Radio implements lorawan.LoraRadio.
type Radio struct {
	modem   Modem
	log     logrus.FieldLogger
	packets chan []byte
	txDone  chan error
}

// New wraps m. log may be nil.
func New(m Modem, log logrus.FieldLogger) *Radio {
	if log == nil {
		log = logrus.StandardLogger().WithField("component", "wan")
	}
	r := &Radio{
		modem:   m,
		log:     log,
		packets: make(chan []byte, 4),
		txDone:  make(chan error, 1),
	}
	m.OnPacket(r.onPacket)
	m.OnTransmitDone(r.onTransmitDone)
	return r
}

// onPacket runs on the goroutine pumping the Device and must not block.
func (r *Radio) onPacket(p sx127x.Packet) {
	select {
	case r.packets <- p.Payload:
	default:
		r.log.WithField("size", len(p.Payload)).Warn("downlink dropped, nobody is receiving")
	}
}

func (r *Radio) onTransmitDone(err error) {
	select {
	case r.txDone <- err:
	default:
	}
}

// LoraTx sends pkt and waits up to timeoutSec seconds for the end of the transmission.
func (r *Radio) LoraTx(pkt []uint8, timeoutSec uint8) error {
	// Forget completions of frames nobody waited for.
	select {
	case <-r.txDone:
	default:
	}

	r.modem.Send(pkt)
	select {
	case err := <-r.txDone:
		if err != nil {
			return fmt.Errorf("wan: transmit: %w", err)
		}
		return nil
	case <-time.After(seconds(timeoutSec)):
		return ErrTxTimeout
	}
}

// LoraRx listens for up to timeoutSec seconds. It returns a nil packet and no error when
// nothing was received. The modem is left in the mode it was in before.
func (r *Radio) LoraRx(timeoutSec uint8) ([]uint8, error) {
	resting := r.modem.Opmod()
	r.modem.EnableReceive()
	defer r.modem.ChangeOpmod(resting)

	select {
	case p := <-r.packets:
		return p, nil
	case <-time.After(seconds(timeoutSec)):
		return nil, nil
	}
}

func (r *Radio) SetLoraFrequency(freq uint32) {
	r.check("frequency", r.modem.SetFrequency(freq))
}

// SetLoraIqMode selects standard (0) or inverted (1) I/Q.
func (r *Radio) SetLoraIqMode(mode uint8) {
	r.check("iq mode", r.modem.SetInvertIQ(mode != 0))
}

// SetLoraCodingRate takes the coding rate denominator, 5 to 8.
func (r *Radio) SetLoraCodingRate(cr uint8) {
	if cr < 5 || cr > 8 {
		r.log.WithField("cr", cr).Error("unsupported coding rate")
		return
	}
	r.check("coding rate", r.modem.SetCodingRate(sx127x.CodingRate(cr-4)))
}

// SetLoraBandwidth takes the register encoding of the bandwidth, 0 (7.8 kHz) to 9 (500 kHz).
func (r *Radio) SetLoraBandwidth(bw uint8) {
	b := sx127x.Bandwidth(bw + 1)
	if !b.Valid() {
		r.log.WithField("bw", bw).Error("unsupported bandwidth")
		return
	}
	r.check("bandwidth", r.modem.SetBandwidth(b))
}

func (r *Radio) SetLoraCrc(enable bool) {
	r.check("crc", r.modem.SetCRC(enable))
}

func (r *Radio) SetLoraSpreadingFactor(sf uint8) {
	r.check("spreading factor", r.modem.SetSpreadingFactor(sx127x.SpreadingFactor(sf)))
}

func (r *Radio) check(setting string, err error) {
	if err != nil {
		r.log.WithError(err).WithField("setting", setting).Error("radio setting not applied")
	}
}

func seconds(n uint8) time.Duration {
	if n == 0 {
		n = 1
	}
	return time.Duration(n) * time.Second
}
