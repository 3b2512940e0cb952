package chip_test

import (
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/michcald/sx127x/chip"
	"github.com/michcald/sx127x/internal/regsim"
)

// spiBus frames Bus operations the way the SX127x expects them on the wire.
type spiBus struct {
	sim *regsim.Radio
}

func (b spiBus) ReadRegister(reg uint8, n int) (uint32, error) {
	buf := make([]byte, n+1)
	buf[0] = reg & 0x7f
	if err := b.sim.Tx(buf, buf); err != nil {
		return 0, err
	}
	var v uint32
	for _, x := range buf[1:] {
		v = v<<8 | uint32(x)
	}
	return v, nil
}

func (b spiBus) ReadBuffer(reg uint8, out []byte) error {
	buf := make([]byte, len(out)+1)
	buf[0] = reg & 0x7f
	if err := b.sim.Tx(buf, buf); err != nil {
		return err
	}
	copy(out, buf[1:])
	return nil
}

func (b spiBus) WriteRegister(reg uint8, data []byte) error {
	return b.sim.Tx(append([]byte{reg | 0x80}, data...), make([]byte, len(data)+1))
}

func (b spiBus) WriteBuffer(reg uint8, data []byte) error {
	return b.WriteRegister(reg, data)
}

func newChip(c *qt.C) (*chip.Device, *regsim.Radio) {
	sim := regsim.New()
	d, err := chip.New(spiBus{sim})
	c.Assert(err, qt.IsNil)
	sim.ClearLog()
	return d, sim
}

func TestNewChecksVersion(t *testing.T) {
	c := qt.New(t)

	sim := regsim.New()
	sim.SetVersion(0x22)
	_, err := chip.New(spiBus{sim})
	c.Assert(errors.Is(err, chip.ErrVersion), qt.IsTrue)

	boom := errors.New("spi gone")
	sim = regsim.New()
	sim.FailAll(boom)
	_, err = chip.New(spiBus{sim})
	c.Assert(errors.Is(err, boom), qt.IsTrue)
}

func TestSetOpmodMapsDIO0(t *testing.T) {
	c := qt.New(t)
	d, sim := newChip(c)

	c.Assert(d.SetOpmod(chip.ModeTX, chip.ModulationLoRa), qt.IsNil)
	c.Assert(sim.Reg(chip.REG_DIO_MAPPING_1), qt.Equals, chip.DIO0_TX_DONE)
	// Reset frequency is 434 MHz.
	c.Assert(sim.Reg(chip.REG_OP_MODE), qt.Equals, uint8(0x8b))

	c.Assert(d.SetOpmod(chip.ModeRXContinuous, chip.ModulationLoRa), qt.IsNil)
	c.Assert(sim.Reg(chip.REG_DIO_MAPPING_1), qt.Equals, chip.DIO0_RX_DONE)
	c.Assert(sim.Mode(), qt.Equals, chip.ModeRXContinuous)

	mode, err := d.Mode()
	c.Assert(err, qt.IsNil)
	c.Assert(mode, qt.Equals, chip.ModeRXContinuous)

	c.Assert(d.SetOpmod(chip.Mode(9), chip.ModulationLoRa), qt.Equals, chip.ErrInvalidArgument)
}

func TestLowFrequencyModeBit(t *testing.T) {
	c := qt.New(t)
	d, sim := newChip(c)

	c.Assert(d.SetFrequency(433000000), qt.IsNil)
	c.Assert(d.SetOpmod(chip.ModeStandby, chip.ModulationLoRa), qt.IsNil)
	c.Assert(sim.Reg(chip.REG_OP_MODE), qt.Equals, uint8(0x89))
}

func TestNewReadsBackFrequency(t *testing.T) {
	c := qt.New(t)

	sim := regsim.New()
	// 433 MHz
	sim.SetReg(chip.REG_FRF_MSB, 0x6c)
	sim.SetReg(chip.REG_FRF_MID, 0x40)
	sim.SetReg(chip.REG_OP_MODE, 0x81)
	d, err := chip.New(spiBus{sim})
	c.Assert(err, qt.IsNil)
	c.Assert(d.Frequency(), qt.Equals, uint64(433000000))

	c.Assert(d.SetOpmod(chip.ModeRXContinuous, chip.ModulationLoRa), qt.IsNil)
	c.Assert(sim.Reg(chip.REG_OP_MODE), qt.Equals, uint8(0x8d))

	sim.Receive([]byte{0x01}, 0, 100, false)
	c.Assert(d.HandleInterrupt(), qt.IsNil)
	rssi, err := d.PacketRSSI()
	c.Assert(err, qt.IsNil)
	c.Assert(rssi, qt.Equals, int16(-64))
}

func TestSetOpmodKeepsLowFrequencyBitWhenFrequencyUnknown(t *testing.T) {
	c := qt.New(t)

	sim := regsim.New()
	sim.SetReg(chip.REG_FRF_MSB, 0)
	sim.SetReg(chip.REG_FRF_MID, 0)
	sim.SetReg(chip.REG_OP_MODE, 0x89)
	d, err := chip.New(spiBus{sim})
	c.Assert(err, qt.IsNil)
	c.Assert(d.Frequency(), qt.Equals, uint64(0))

	c.Assert(d.SetOpmod(chip.ModeTX, chip.ModulationLoRa), qt.IsNil)
	c.Assert(sim.Reg(chip.REG_OP_MODE), qt.Equals, uint8(0x8b))

	// Leaving the low band clears it.
	c.Assert(d.SetFrequency(868100000), qt.IsNil)
	c.Assert(d.SetOpmod(chip.ModeStandby, chip.ModulationLoRa), qt.IsNil)
	c.Assert(sim.Reg(chip.REG_OP_MODE), qt.Equals, uint8(0x81))
}

func TestSetOCP(t *testing.T) {
	c := qt.New(t)
	d, sim := newChip(c)

	for _, tt := range []struct {
		mA   uint8
		want uint8
	}{
		{mA: 0, want: 0x20},
		{mA: 100, want: 0x2b},
		{mA: 130, want: 0x30},
		{mA: 226, want: 0x39},
		{mA: 240, want: 0x3b},
		{mA: 255, want: 0x3b},
	} {
		c.Assert(d.SetOCP(tt.mA), qt.IsNil)
		c.Assert(sim.Reg(chip.REG_OCP), qt.Equals, tt.want, qt.Commentf("%d mA", tt.mA))
	}
}

func TestClearIRQ(t *testing.T) {
	c := qt.New(t)
	d, sim := newChip(c)

	var done int
	d.SetTxCallback(func() { done++ })
	sim.CompleteTx()
	c.Assert(d.ClearIRQ(), qt.IsNil)
	c.Assert(sim.Reg(chip.REG_IRQ_FLAGS), qt.Equals, uint8(0))
	c.Assert(d.HandleInterrupt(), qt.IsNil)
	c.Assert(done, qt.Equals, 0)
}

func TestSetFrequency(t *testing.T) {
	c := qt.New(t)
	d, sim := newChip(c)

	c.Assert(d.SetFrequency(915000000), qt.IsNil)
	// 915 MHz = 0xE4C000
	c.Assert(sim.WritesTo(chip.REG_FRF_MSB), qt.DeepEquals, [][]byte{{0xe4, 0xc0, 0x00}})
	c.Assert(d.Frequency(), qt.Equals, uint64(915000000))
	c.Assert(d.SetFrequency(0), qt.Equals, chip.ErrInvalidArgument)
}

func TestModemConfiguration(t *testing.T) {
	c := qt.New(t)
	d, sim := newChip(c)

	c.Assert(d.SetBandwidth(chip.BW125000), qt.IsNil)
	c.Assert(sim.Reg(chip.REG_MODEM_CONFIG_1)>>4, qt.Equals, uint8(7))

	c.Assert(d.SetExplicitHeader(chip.TxHeader{EnableCRC: true, CodingRate: chip.CR4_8}), qt.IsNil)
	c.Assert(sim.Reg(chip.REG_MODEM_CONFIG_1), qt.Equals, uint8(0x78))
	c.Assert(sim.Reg(chip.REG_MODEM_CONFIG_2)&0x04, qt.Equals, uint8(0x04))

	c.Assert(d.SetModemConfig2(chip.SF12), qt.IsNil)
	c.Assert(sim.Reg(chip.REG_MODEM_CONFIG_2)>>4, qt.Equals, uint8(12))
	// SF12 at 125 kHz lasts 32ms per symbol
	c.Assert(sim.Reg(chip.REG_MODEM_CONFIG_3)&0x08, qt.Equals, uint8(0x08))

	c.Assert(d.SetModemConfig2(chip.SF7), qt.IsNil)
	c.Assert(sim.Reg(chip.REG_MODEM_CONFIG_3)&0x08, qt.Equals, uint8(0))

	c.Assert(d.SetModemConfig2(chip.SF6), qt.IsNil)
	c.Assert(sim.Reg(chip.REG_DETECTION_THRESHOLD), qt.Equals, uint8(0x0c))

	c.Assert(d.SetImplicitHeader(nil), qt.IsNil)
	c.Assert(sim.Reg(chip.REG_MODEM_CONFIG_1)&0x01, qt.Equals, uint8(0))

	c.Assert(d.SetBandwidth(0), qt.Equals, chip.ErrInvalidArgument)
	c.Assert(d.SetModemConfig2(13), qt.Equals, chip.ErrInvalidArgument)
	c.Assert(d.SetExplicitHeader(chip.TxHeader{}), qt.Equals, chip.ErrInvalidArgument)
}

func TestPreambleIsBigEndian(t *testing.T) {
	c := qt.New(t)
	d, sim := newChip(c)

	c.Assert(d.SetPreambleLength(0x0102), qt.IsNil)
	c.Assert(sim.Reg(chip.REG_PREAMBLE_MSB), qt.Equals, uint8(0x01))
	c.Assert(sim.Reg(chip.REG_PREAMBLE_LSB), qt.Equals, uint8(0x02))
	c.Assert(d.SetPreambleLength(5), qt.Equals, chip.ErrInvalidArgument)
}

func TestSetPAConfig(t *testing.T) {
	c := qt.New(t)
	d, sim := newChip(c)

	c.Assert(d.SetPAConfig(chip.PaPinRFO, 4), qt.IsNil)
	c.Assert(sim.Reg(chip.REG_PA_CONFIG), qt.Equals, uint8(0x74))

	c.Assert(d.SetPAConfig(chip.PaPinBoost, 20), qt.IsNil)
	c.Assert(sim.Reg(chip.REG_PA_CONFIG), qt.Equals, uint8(0xff))
	c.Assert(sim.Reg(chip.REG_PA_DAC), qt.Equals, uint8(0x87))

	c.Assert(d.SetPAConfig(chip.PaPinBoost, 17), qt.IsNil)
	c.Assert(sim.Reg(chip.REG_PA_CONFIG), qt.Equals, uint8(0xff))
	c.Assert(sim.Reg(chip.REG_PA_DAC), qt.Equals, uint8(0x84))

	for _, p := range []int8{18, 19, 21, 1} {
		c.Assert(d.SetPAConfig(chip.PaPinBoost, p), qt.Equals, chip.ErrInvalidArgument, qt.Commentf("power %d", p))
	}
	c.Assert(d.SetPAConfig(chip.PaPinRFO, 16), qt.Equals, chip.ErrInvalidArgument)
	c.Assert(d.SetPAConfig(chip.PaPinRFO, -5), qt.Equals, chip.ErrInvalidArgument)
}

func TestTransmitCallback(t *testing.T) {
	c := qt.New(t)
	d, sim := newChip(c)
	c.Assert(d.ResetFIFO(), qt.IsNil)

	var done int
	d.SetTxCallback(func() { done++ })
	c.Assert(d.SetForTransmission([]byte("ping")), qt.IsNil)
	c.Assert(sim.Staged(), qt.DeepEquals, []byte("ping"))

	c.Assert(d.HandleInterrupt(), qt.IsNil)
	c.Assert(done, qt.Equals, 0)

	sim.CompleteTx()
	c.Assert(d.HandleInterrupt(), qt.IsNil)
	c.Assert(done, qt.Equals, 1)
	c.Assert(sim.Reg(chip.REG_IRQ_FLAGS), qt.Equals, uint8(0))

	c.Assert(d.SetForTransmission(nil), qt.Equals, chip.ErrInvalidArgument)
	c.Assert(d.SetForTransmission(make([]byte, 256)), qt.Equals, chip.ErrInvalidArgument)
}

func TestReceiveCallback(t *testing.T) {
	c := qt.New(t)
	d, sim := newChip(c)
	c.Assert(d.SetFrequency(868100000), qt.IsNil)

	var got [][]byte
	d.SetRxCallback(func(p []byte) { got = append(got, p) })

	sim.Receive([]byte{0x01, 0x02}, 30, 115, false)
	c.Assert(d.HandleInterrupt(), qt.IsNil)
	c.Assert(got, qt.DeepEquals, [][]byte{{0x01, 0x02}})

	snr, err := d.PacketSNR()
	c.Assert(err, qt.IsNil)
	c.Assert(snr, qt.Equals, float32(7.5))
	rssi, err := d.PacketRSSI()
	c.Assert(err, qt.IsNil)
	c.Assert(rssi, qt.Equals, int16(-42))

	sim.ReceiveCorrupted()
	c.Assert(d.HandleInterrupt(), qt.Equals, chip.ErrPayloadCRC)
	c.Assert(got, qt.HasLen, 1)
	c.Assert(d.CRCErrors(), qt.Equals, uint32(1))
}

func TestNegativeSNRAndLowBandRSSI(t *testing.T) {
	c := qt.New(t)
	d, sim := newChip(c)
	c.Assert(d.SetFrequency(433000000), qt.IsNil)

	sim.Receive([]byte{0xff}, -10, 100, false)
	c.Assert(d.HandleInterrupt(), qt.IsNil)

	snr, _ := d.PacketSNR()
	c.Assert(snr, qt.Equals, float32(-2.5))
	rssi, _ := d.PacketRSSI()
	c.Assert(rssi, qt.Equals, int16(-64))
}

func TestInvertIQ(t *testing.T) {
	c := qt.New(t)
	d, sim := newChip(c)

	c.Assert(d.SetInvertIQ(true), qt.IsNil)
	c.Assert(sim.Reg(chip.REG_INVERTIQ), qt.Equals, uint8(0x67))
	c.Assert(sim.Reg(chip.REG_INVERTIQ2), qt.Equals, uint8(0x19))
	c.Assert(d.SetInvertIQ(false), qt.IsNil)
	c.Assert(sim.Reg(chip.REG_INVERTIQ), qt.Equals, uint8(0x27))
}

func TestEnumStrings(t *testing.T) {
	c := qt.New(t)
	c.Assert(chip.BW125000.String(), qt.Equals, "125 kHz")
	c.Assert(chip.BW125000.Hz(), qt.Equals, uint32(125000))
	bw, ok := chip.BandwidthFromHz(62500)
	c.Assert(ok, qt.IsTrue)
	c.Assert(bw, qt.Equals, chip.BW62500)
	_, ok = chip.BandwidthFromHz(1)
	c.Assert(ok, qt.IsFalse)
	c.Assert(chip.SF9.String(), qt.Equals, "SF9")
	c.Assert(chip.CR4_7.String(), qt.Equals, "4/7")
	c.Assert(chip.PaPinBoost.String(), qt.Equals, "PA_BOOST")
	c.Assert(chip.ModeRXContinuous.String(), qt.Equals, "rx")
}
