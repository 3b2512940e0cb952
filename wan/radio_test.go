package wan

import (
	"errors"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/michcald/sx127x"
)

type fakeModem struct {
	mu       sync.Mutex
	sent     [][]byte
	opmod    sx127x.Opmod
	opmods   []sx127x.Opmod
	onPacket func(sx127x.Packet)
	onTx     func(error)
	// complete is called from Send to simulate the Device reporting the end of transmission.
	complete func(m *fakeModem)

	freq   uint32
	bw     sx127x.Bandwidth
	sf     sx127x.SpreadingFactor
	cr     sx127x.CodingRate
	crc    bool
	invert bool
	err    error
}

func (m *fakeModem) Send(p []byte) {
	m.mu.Lock()
	m.sent = append(m.sent, p)
	complete := m.complete
	m.mu.Unlock()
	if complete != nil {
		go complete(m)
	}
}

func (m *fakeModem) OnPacket(fn func(sx127x.Packet)) { m.onPacket = fn }
func (m *fakeModem) OnTransmitDone(fn func(error))   { m.onTx = fn }

func (m *fakeModem) EnableReceive() { m.ChangeOpmod(sx127x.OpmodReceive) }

func (m *fakeModem) Opmod() sx127x.Opmod {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opmod
}

func (m *fakeModem) ChangeOpmod(target sx127x.Opmod) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opmod = target
	m.opmods = append(m.opmods, target)
}

func (m *fakeModem) SetFrequency(hz uint32) error {
	m.freq = hz
	return m.err
}

func (m *fakeModem) SetBandwidth(bw sx127x.Bandwidth) error {
	m.bw = bw
	return m.err
}

func (m *fakeModem) SetSpreadingFactor(sf sx127x.SpreadingFactor) error {
	m.sf = sf
	return m.err
}

func (m *fakeModem) SetCodingRate(cr sx127x.CodingRate) error {
	m.cr = cr
	return m.err
}

func (m *fakeModem) SetCRC(enable bool) error {
	m.crc = enable
	return m.err
}

func (m *fakeModem) SetInvertIQ(invert bool) error {
	m.invert = invert
	return m.err
}

func TestLoraTx(t *testing.T) {
	c := qt.New(t)
	m := &fakeModem{complete: func(m *fakeModem) { m.onTx(nil) }}
	r := New(m, nil)

	c.Assert(r.LoraTx([]byte("join"), 1), qt.IsNil)
	c.Assert(m.sent, qt.DeepEquals, [][]byte{[]byte("join")})

	m.complete = func(m *fakeModem) { m.onTx(sx127x.ErrTxTimeout) }
	err := r.LoraTx([]byte("lost"), 1)
	c.Assert(errors.Is(err, sx127x.ErrTxTimeout), qt.IsTrue)
}

func TestLoraTxTimeout(t *testing.T) {
	c := qt.New(t)
	m := &fakeModem{}
	r := New(m, nil)

	c.Assert(r.LoraTx([]byte("nobody"), 1), qt.Equals, ErrTxTimeout)

	// The late completion does not satisfy the next frame.
	m.onTx(nil)
	m.complete = func(m *fakeModem) { m.onTx(nil) }
	c.Assert(r.LoraTx([]byte("next"), 1), qt.IsNil)
}

func TestLoraRx(t *testing.T) {
	c := qt.New(t)
	m := &fakeModem{opmod: sx127x.OpmodStandby}
	r := New(m, nil)

	go m.onPacket(sx127x.Packet{Payload: []byte("accept")})
	p, err := r.LoraRx(1)
	c.Assert(err, qt.IsNil)
	c.Assert(p, qt.DeepEquals, []byte("accept"))
	c.Assert(m.opmods, qt.DeepEquals, []sx127x.Opmod{sx127x.OpmodReceive, sx127x.OpmodStandby})

	start := time.Now()
	p, err = r.LoraRx(1)
	c.Assert(err, qt.IsNil)
	c.Assert(p, qt.IsNil)
	c.Assert(time.Since(start) >= time.Second, qt.IsTrue)
}

func TestLoraRxKeepsRestingReceive(t *testing.T) {
	c := qt.New(t)
	m := &fakeModem{opmod: sx127x.OpmodReceive}
	r := New(m, nil)

	go m.onPacket(sx127x.Packet{Payload: []byte("down")})
	p, err := r.LoraRx(1)
	c.Assert(err, qt.IsNil)
	c.Assert(p, qt.DeepEquals, []byte("down"))
	c.Assert(m.Opmod(), qt.Equals, sx127x.OpmodReceive)
}

func TestSettings(t *testing.T) {
	c := qt.New(t)
	m := &fakeModem{}
	logger, hook := test.NewNullLogger()
	r := New(m, logger)

	r.SetLoraFrequency(868100000)
	r.SetLoraBandwidth(7)
	r.SetLoraSpreadingFactor(9)
	r.SetLoraCodingRate(5)
	r.SetLoraCrc(true)
	r.SetLoraIqMode(1)
	c.Assert(m.freq, qt.Equals, uint32(868100000))
	c.Assert(m.bw, qt.Equals, sx127x.BW125000)
	c.Assert(m.sf, qt.Equals, sx127x.SF9)
	c.Assert(m.cr, qt.Equals, sx127x.CR4_5)
	c.Assert(m.crc, qt.IsTrue)
	c.Assert(m.invert, qt.IsTrue)
	c.Assert(hook.AllEntries(), qt.HasLen, 0)

	r.SetLoraCodingRate(9)
	r.SetLoraBandwidth(10)
	c.Assert(hook.AllEntries(), qt.HasLen, 2)
	c.Assert(m.cr, qt.Equals, sx127x.CR4_5)

	m.err = sx127x.ErrBusy
	r.SetLoraCrc(false)
	c.Assert(hook.LastEntry().Level, qt.Equals, logrus.ErrorLevel)
	c.Assert(hook.LastEntry().Data["setting"], qt.Equals, "crc")
}
