// Package chip implements register-level control of Semtech SX1276/77/78/79 LoRa modems.
//
// Datasheet:
// https://www.semtech.com/uploads/documents/DS_SX1276-7-8-9_W_APP_V6.pdf
//
// The package owns no transport. Every register access goes through the Bus handed to New,
// so the same code runs on top of periph.io on Linux, machine.SPI on TinyGo, or a simulator
// in tests.
//
// Completion events are reported through the callbacks registered with SetTxCallback and
// SetRxCallback. HandleInterrupt works out whether the radio finished a transmission or a
// reception and calls them synchronously before it returns. Device is not safe for
// concurrent use; callers serialise access.
package chip

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("chip: invalid argument")
	ErrVersion         = errors.New("chip: unexpected version")
	ErrPayloadCRC      = errors.New("chip: payload crc error")
)

// Bus performs the primitive register operations against the radio.
// Single-register accesses carry 1 to 4 bytes, big-endian.
type Bus interface {
	ReadRegister(reg uint8, n int) (uint32, error)
	ReadBuffer(reg uint8, buf []byte) error
	WriteRegister(reg uint8, data []byte) error
	WriteBuffer(reg uint8, data []byte) error
}

// ImplicitHeader describes the fixed packet format used in implicit header mode.
type ImplicitHeader struct {
	Length     uint8
	EnableCRC  bool
	CodingRate CodingRate
}

// TxHeader holds the explicit header fields sent with each packet.
type TxHeader struct {
	EnableCRC  bool
	CodingRate CodingRate
}

// Device is a handle on one SX127x chip.
type Device struct {
	bus        Bus
	frequency  uint64
	bandwidth  Bandwidth
	sf         SpreadingFactor
	txCallback func()
	rxCallback func(payload []byte)
	crcErrors  uint32
	rxBuf      [MAX_PAYLOAD_LENGTH]byte
}

// New checks that an SX127x answers on bus and returns a handle on it.
func New(bus Bus) (*Device, error) {
	v, err := bus.ReadRegister(REG_VERSION, 1)
	if err != nil {
		return nil, err
	}
	if uint8(v) != CHIP_VERSION {
		return nil, fmt.Errorf("%w: 0x%02x", ErrVersion, uint8(v))
	}
	// The radio may have kept its configuration across a host reset.
	frf, err := bus.ReadRegister(REG_FRF_MSB, 3)
	if err != nil {
		return nil, err
	}
	return &Device{bus: bus, frequency: uint64(frf) * fxoscHz >> 19}, nil
}

// SetTxCallback registers the function called when a transmission completes.
func (d *Device) SetTxCallback(cb func()) { d.txCallback = cb }

// SetRxCallback registers the function called with every packet received without CRC error.
// The payload slice is owned by the callee.
func (d *Device) SetRxCallback(cb func(payload []byte)) { d.rxCallback = cb }

// CRCErrors returns the number of packets dropped because of a payload CRC error.
func (d *Device) CRCErrors() uint32 { return d.crcErrors }

// Version returns the silicon revision, 0x12 on SX1276/77/78/79.
func (d *Device) Version() (uint8, error) {
	return d.readReg(REG_VERSION)
}

// SetOpmod switches the operating mode. DIO0 is remapped to TxDone when entering TX and
// to RxDone when entering one of the receive modes. The low frequency bit follows the
// carrier frequency, or is kept as is while the frequency is unknown.
func (d *Device) SetOpmod(mode Mode, modulation Modulation) error {
	if mode > ModeCAD {
		return ErrInvalidArgument
	}
	switch mode {
	case ModeTX:
		if err := d.writeReg(REG_DIO_MAPPING_1, DIO0_TX_DONE); err != nil {
			return err
		}
	case ModeRXContinuous, ModeRXSingle:
		if err := d.writeReg(REG_DIO_MAPPING_1, DIO0_RX_DONE); err != nil {
			return err
		}
	}
	r, err := d.readReg(REG_OP_MODE)
	if err != nil {
		return err
	}
	v := r&^(OPMODE_LORA|OPMODE_MASK) | uint8(modulation) | uint8(mode)
	if d.frequency != 0 {
		v &^= OPMODE_LOW_FREQUENCY
		if d.frequency < lowFrequencyBoundaryHz {
			v |= OPMODE_LOW_FREQUENCY
		}
	}
	return d.writeReg(REG_OP_MODE, v)
}

// Mode reads back the current operating mode.
func (d *Device) Mode() (Mode, error) {
	v, err := d.readReg(REG_OP_MODE)
	if err != nil {
		return 0, err
	}
	return Mode(v & OPMODE_MASK), nil
}

// SetFrequency sets the carrier frequency in Hz.
func (d *Device) SetFrequency(hz uint64) error {
	if hz == 0 {
		return ErrInvalidArgument
	}
	// FSTEP = FXOSC / 2^19
	frf := (hz << 19) / fxoscHz
	if err := d.bus.WriteRegister(REG_FRF_MSB, []byte{uint8(frf >> 16), uint8(frf >> 8), uint8(frf)}); err != nil {
		return err
	}
	d.frequency = hz
	return nil
}

// Frequency returns the last frequency set with SetFrequency, or the one read back from
// the radio by New.
func (d *Device) Frequency() uint64 { return d.frequency }

// ResetFIFO points both the TX and RX FIFO base addresses at the start of the buffer.
func (d *Device) ResetFIFO() error {
	// REG_FIFO_TX_BASE_ADDR and REG_FIFO_RX_BASE_ADDR are adjacent
	return d.bus.WriteRegister(REG_FIFO_TX_BASE_ADDR, []byte{0, 0})
}

// SetBandwidth sets the LoRa signal bandwidth.
func (d *Device) SetBandwidth(bw Bandwidth) error {
	if !bw.Valid() {
		return ErrInvalidArgument
	}
	if err := d.updateReg(REG_MODEM_CONFIG_1, 0x0f, bw.bits()); err != nil {
		return err
	}
	d.bandwidth = bw
	return d.updateLowDataRateOptimize()
}

// SetImplicitHeader switches to implicit header mode with the given packet format,
// or back to explicit header mode when h is nil.
func (d *Device) SetImplicitHeader(h *ImplicitHeader) error {
	if h == nil {
		return d.updateReg(REG_MODEM_CONFIG_1, 0xfe, 0)
	}
	if !h.CodingRate.Valid() || h.Length == 0 {
		return ErrInvalidArgument
	}
	if err := d.updateReg(REG_MODEM_CONFIG_1, 0xf0, uint8(h.CodingRate)<<1|0x01); err != nil {
		return err
	}
	if err := d.writeReg(REG_PAYLOAD_LENGTH, h.Length); err != nil {
		return err
	}
	return d.setCRC(h.EnableCRC)
}

// SetModemConfig2 sets the spreading factor together with the detection settings it requires.
func (d *Device) SetModemConfig2(sf SpreadingFactor) error {
	if !sf.Valid() {
		return ErrInvalidArgument
	}
	optimize, threshold := uint8(0xc3), uint8(0x0a)
	if sf == SF6 {
		optimize, threshold = 0xc5, 0x0c
	}
	if err := d.updateReg(REG_DETECTION_OPTIMIZE, 0xf8, optimize&0x07); err != nil {
		return err
	}
	if err := d.writeReg(REG_DETECTION_THRESHOLD, threshold); err != nil {
		return err
	}
	if err := d.updateReg(REG_MODEM_CONFIG_2, 0x0f, uint8(sf)<<4); err != nil {
		return err
	}
	d.sf = sf
	return d.updateLowDataRateOptimize()
}

// SetSyncWord sets the LoRa sync word. 0x34 is reserved for LoRaWAN networks.
func (d *Device) SetSyncWord(w uint8) error {
	return d.writeReg(REG_SYNC_WORD, w)
}

// SetPreambleLength sets the preamble length in symbols, 6 at least.
func (d *Device) SetPreambleLength(n uint16) error {
	if n < 6 {
		return ErrInvalidArgument
	}
	return d.bus.WriteRegister(REG_PREAMBLE_MSB, []byte{uint8(n >> 8), uint8(n)})
}

// SetPAConfig selects the power amplifier pin and the output power in dBm.
// RFO accepts -4 to 15 dBm, PA_BOOST accepts 2 to 17 dBm or 20 dBm.
func (d *Device) SetPAConfig(pin PaPin, power int8) error {
	var paConfig, paDac, ocp uint8
	switch pin {
	case PaPinRFO:
		if power < -4 || power > 15 {
			return ErrInvalidArgument
		}
		if power >= 0 {
			// Pmax = 15 dBm, Pout = Pmax - (15 - OutputPower)
			paConfig = 0x70 | uint8(power)
		} else {
			// Pmax = 10.8 dBm
			paConfig = uint8(power + 4)
		}
		paDac, ocp = 0x84, 100
	case PaPinBoost:
		switch {
		case power == 20:
			// High Power +20 dBm Operation (Semtech SX1276/77/78/79 5.4.3.)
			paConfig, paDac, ocp = PA_BOOST|0x70|0x0f, 0x87, 140
		case power >= 2 && power <= 17:
			paConfig, paDac, ocp = PA_BOOST|0x70|uint8(power-2), 0x84, 100
		default:
			return ErrInvalidArgument
		}
	default:
		return ErrInvalidArgument
	}
	if err := d.writeReg(REG_PA_DAC, paDac); err != nil {
		return err
	}
	if err := d.SetOCP(ocp); err != nil {
		return err
	}
	return d.writeReg(REG_PA_CONFIG, paConfig)
}

// SetOCP configures the over current protection trim in mA.
func (d *Device) SetOCP(mA uint8) error {
	ma := uint16(mA)
	ocpTrim := uint16(27)
	if ma < 45 {
		ma = 45
	}
	if ma <= 120 {
		ocpTrim = (ma - 45) / 5
	} else if ma <= 240 {
		ocpTrim = (ma + 30) / 10
	}
	return d.writeReg(REG_OCP, 0x20|(0x1f&uint8(ocpTrim)))
}

// SetExplicitHeader switches to explicit header mode with the given CRC and coding rate.
func (d *Device) SetExplicitHeader(h TxHeader) error {
	if !h.CodingRate.Valid() {
		return ErrInvalidArgument
	}
	if err := d.updateReg(REG_MODEM_CONFIG_1, 0xf0, uint8(h.CodingRate)<<1); err != nil {
		return err
	}
	return d.setCRC(h.EnableCRC)
}

// SetInvertIQ enables or disables I/Q inversion.
func (d *Device) SetInvertIQ(invert bool) error {
	iq, iq2 := uint8(0x27), uint8(0x1d)
	if invert {
		iq, iq2 = 0x67, 0x19
	}
	if err := d.writeReg(REG_INVERTIQ, iq); err != nil {
		return err
	}
	return d.writeReg(REG_INVERTIQ2, iq2)
}

// SetForTransmission copies payload into the FIFO so that the next switch to ModeTX sends it.
// The chip must not be in sleep mode, the FIFO is not accessible there.
func (d *Device) SetForTransmission(payload []byte) error {
	if len(payload) == 0 || len(payload) > MAX_PAYLOAD_LENGTH {
		return ErrInvalidArgument
	}
	if err := d.writeReg(REG_FIFO_ADDR_PTR, 0); err != nil {
		return err
	}
	if err := d.bus.WriteBuffer(REG_FIFO, payload); err != nil {
		return err
	}
	return d.writeReg(REG_PAYLOAD_LENGTH, uint8(len(payload)))
}

// ClearIRQ clears every pending IRQ flag.
func (d *Device) ClearIRQ() error {
	return d.writeReg(REG_IRQ_FLAGS, IRQ_ALL)
}

// HandleInterrupt reads and clears the IRQ flags, then dispatches the RX and TX callbacks.
// A packet received with a CRC error is dropped and reported as ErrPayloadCRC once the
// TX callback, if any, has run.
func (d *Device) HandleInterrupt() error {
	flags, err := d.readReg(REG_IRQ_FLAGS)
	if err != nil {
		return err
	}
	if flags == 0 {
		return nil
	}
	if err := d.writeReg(REG_IRQ_FLAGS, flags); err != nil {
		return err
	}

	var rxErr error
	if flags&IRQ_RX_DONE != 0 {
		if flags&IRQ_PAYLOAD_CRC_ERROR != 0 {
			d.crcErrors++
			rxErr = ErrPayloadCRC
		} else if err := d.readPacket(); err != nil {
			return err
		}
	}
	if flags&IRQ_TX_DONE != 0 && d.txCallback != nil {
		d.txCallback()
	}
	return rxErr
}

// PacketRSSI returns the RSSI of the last received packet in dBm.
func (d *Device) PacketRSSI() (int16, error) {
	v, err := d.readReg(REG_PKT_RSSI_VALUE)
	if err != nil {
		return 0, err
	}
	// section 5.5.5
	if d.frequency != 0 && d.frequency < lowFrequencyBoundaryHz {
		return int16(v) - 164, nil
	}
	return int16(v) - 157, nil
}

// PacketSNR returns the SNR of the last received packet in dB.
func (d *Device) PacketSNR() (float32, error) {
	v, err := d.readReg(REG_PKT_SNR_VALUE)
	if err != nil {
		return 0, err
	}
	return float32(int8(v)) / 4, nil
}

func (d *Device) readPacket() error {
	n, err := d.readReg(REG_RX_NB_BYTES)
	if err != nil {
		return err
	}
	cur, err := d.readReg(REG_FIFO_RX_CURRENT_ADDR)
	if err != nil {
		return err
	}
	if err := d.writeReg(REG_FIFO_ADDR_PTR, cur); err != nil {
		return err
	}
	buf := d.rxBuf[:n]
	if err := d.bus.ReadBuffer(REG_FIFO, buf); err != nil {
		return err
	}
	if d.rxCallback == nil {
		return nil
	}
	payload := make([]byte, n)
	copy(payload, buf)
	d.rxCallback(payload)
	return nil
}

func (d *Device) setCRC(on bool) error {
	var v uint8
	if on {
		v = 0x04
	}
	return d.updateReg(REG_MODEM_CONFIG_2, 0xfb, v)
}

// updateLowDataRateOptimize sets LowDataRateOptimize, mandated when a symbol lasts more than 16ms.
func (d *Device) updateLowDataRateOptimize() error {
	if !d.bandwidth.Valid() || !d.sf.Valid() {
		return nil
	}
	// section 4.1.1.6
	var v uint8
	if (uint32(1)<<d.sf)*1000/d.bandwidth.Hz() > 16 {
		v = 0x08
	}
	return d.updateReg(REG_MODEM_CONFIG_3, 0xf7, v)
}

func (d *Device) updateReg(reg, keep, set uint8) error {
	v, err := d.readReg(reg)
	if err != nil {
		return err
	}
	return d.writeReg(reg, (v&keep)|set)
}

func (d *Device) readReg(reg uint8) (uint8, error) {
	v, err := d.bus.ReadRegister(reg, 1)
	return uint8(v), err
}

func (d *Device) writeReg(reg, v uint8) error {
	return d.bus.WriteRegister(reg, []byte{v})
}
