// Package sx127x drives a Semtech SX1276/77/78/79 LoRa transceiver.
//
// A Device turns application send and receive requests into operating mode transitions on
// the chip, keeps at most one transmission in flight with a bounded FIFO of pending
// payloads behind it, and converts DIO0 edges into completion events.
//
// Sending is fire-and-forget: Send and ChangeOpmod never block and return nothing. Outcomes
// are observable through OnPacket, OnTransmitDone, Stats and the logs.
//
// Deferred interrupt work runs either from Poll, called periodically by a single-threaded
// host loop, or from Run, started on its own goroutine.
package sx127x

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/michcald/sx127x/chip"
)

var (
	ErrPkg             = errors.New("sx127x")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotDetected     = errors.New("radio not detected")
	ErrFailed          = errors.New("device failed")
	ErrClosed          = errors.New("device closed")
	ErrBusy            = errors.New("transmission in progress")
	ErrTxTimeout       = errors.New("transmission timed out")
	ErrQueueFull       = errors.New("transmit queue full")
	ErrPayloadSize     = errors.New("payload size must be between 1 and 255 bytes")
)

type (
	Bandwidth       = chip.Bandwidth
	SpreadingFactor = chip.SpreadingFactor
	CodingRate      = chip.CodingRate
	PaPin           = chip.PaPin
)

const (
	BW7800   = chip.BW7800
	BW10400  = chip.BW10400
	BW15600  = chip.BW15600
	BW20800  = chip.BW20800
	BW31250  = chip.BW31250
	BW41700  = chip.BW41700
	BW62500  = chip.BW62500
	BW125000 = chip.BW125000
	BW250000 = chip.BW250000
	BW500000 = chip.BW500000

	SF6  = chip.SF6
	SF7  = chip.SF7
	SF8  = chip.SF8
	SF9  = chip.SF9
	SF10 = chip.SF10
	SF11 = chip.SF11
	SF12 = chip.SF12

	CR4_5 = chip.CR4_5
	CR4_6 = chip.CR4_6
	CR4_7 = chip.CR4_7
	CR4_8 = chip.CR4_8

	PaPinRFO   = chip.PaPinRFO
	PaPinBoost = chip.PaPinBoost
)

const (
	minFrequency = 137000000
	maxFrequency = 1020000000
	maxQueueLen  = 100

	// NoQueue disables the transmit queue: payloads sent while busy are dropped.
	NoQueue = -1
)

type RadioConfig struct {
	// Frequency is the carrier frequency in Hz, between 137 MHz and 1020 MHz.
	// Defaults to 915000000 if not provided.
	Frequency uint32
	// PaPin selects the power amplifier output.
	// Defaults to PaPinRFO if not provided.
	PaPin PaPin
	// TxPower is the output power in dBm: -4 to 15 on RFO, 2 to 17 or 20 on PA_BOOST.
	// Defaults to 4 when neither TxPower nor PaPin is provided.
	TxPower int8
	// Bandwidth sets the signal bandwidth.
	// Defaults to BW125000 if not provided.
	Bandwidth Bandwidth
	// SpreadingFactor ranges from SF6 to SF12.
	// Defaults to SF7 if not provided.
	SpreadingFactor SpreadingFactor
	// CodingRate ranges from CR4_5 to CR4_8.
	// Defaults to CR4_5 if not provided.
	CodingRate CodingRate
	// DisableCRC turns off the payload CRC.
	DisableCRC bool
	// PreambleLength in symbols, at least 6.
	// Defaults to 8 if not provided.
	PreambleLength uint16
	// SyncWord distinguishes networks. 0x34 is used by LoRaWAN.
	// Defaults to 0x12 if not provided, unless ExplicitSyncWord is set.
	SyncWord uint8
	// ExplicitSyncWord makes SyncWord apply as given, 0x00 included.
	ExplicitSyncWord bool
	// InvertIQ enables I/Q inversion.
	InvertIQ bool
	// Opmod is the mode the radio rests in when not transmitting: OpmodSleep,
	// OpmodStandby or OpmodReceive.
	// Defaults to OpmodStandby if not provided.
	Opmod Opmod
	// QueueLen bounds the number of payloads waiting behind the one in flight, up to 100.
	// Defaults to 10 if not provided. Use NoQueue to disable queueing.
	QueueLen int
	// TxTimeout is how long a transmission may wait for its TxDone interrupt before
	// being abandoned.
	// Defaults to 4s if not provided.
	TxTimeout time.Duration
}

type HardwareConfig struct {
	RadioConfig
	// Reset is the active-low reset line. Required.
	Reset Pin
	// DIO0 is the interrupt line, watched for rising edges.
	// Optional. If not provided, the radio's IRQ flags are polled.
	DIO0 Pin
	// CS is the chip select line, driven low around every transfer.
	// Optional. Leave nil when the SPI connection handles chip select itself.
	CS Pin
	// WakeCause reports why the host started. Returning WakeSleep skips the reset and
	// register configuration since the radio kept its state.
	// Optional. Defaults to WakePowerOn.
	WakeCause func() WakeCause
	// PollInterval is how often Run polls the radio when DIO0 is not wired.
	// Defaults to 5ms if not provided.
	PollInterval time.Duration
}

// Packet is a received LoRa packet with its link quality.
type Packet struct {
	Payload []byte
	// SNR is the signal-to-noise ratio in dB.
	SNR float32
	// RSSI is the received signal strength in dBm.
	RSSI int16
}

// Stats holds the device counters. Sent and Received are reset by Setup.
type Stats struct {
	Sent     uint32
	Received uint32
	Dropped  uint32
	Timeouts uint32
}

type state uint8

const (
	stateNew state = iota
	stateReady
	stateFailed
	stateClosed
)

// stopper is what the deferred-timer facility hands back; *time.Timer satisfies it.
type stopper interface {
	Stop() bool
}

type event struct {
	packet *Packet
	tx     bool
	txErr  error
}

type Device struct {
	config    HardwareConfig
	bind      *binding
	port      io.Closer
	irq       chan struct{}
	sleep     func(time.Duration)
	afterFunc func(time.Duration, func()) stopper

	mu             sync.Mutex
	state          state
	opmod          Opmod
	current        Opmod
	transmitting   bool
	txQueue        [][]byte
	txSeq          uint64
	timer          stopper
	stats          Stats
	watching       bool
	events         []event
	packetHandlers []func(Packet)
	txHandlers     []func(error)
}

// NewWithHardware validates c and returns a Device talking to the radio over conn.
// No I/O happens until Setup is called.
func NewWithHardware(c HardwareConfig, conn SPI) (*Device, error) {
	if conn == nil {
		return nil, fmt.Errorf("%w: SPI connection not configured", ErrPkg)
	}
	if c.Reset == nil {
		return nil, fmt.Errorf("%w: reset pin not configured", ErrPkg)
	}
	if err := c.RadioConfig.applyDefaults(); err != nil {
		return nil, err
	}
	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Millisecond
	}

	d := &Device{
		config: c,
		bind:   newBinding(&transport{conn: conn, cs: c.CS}),
		irq:    make(chan struct{}, 1),
		sleep:  time.Sleep,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		opmod: c.Opmod,
	}
	return d, nil
}

func (c *RadioConfig) applyDefaults() error {
	if c.Frequency == 0 {
		c.Frequency = 915000000
	}
	if c.Frequency < minFrequency || c.Frequency > maxFrequency {
		return fmt.Errorf("%w: frequency must be between 137 MHz and 1020 MHz", ErrPkg)
	}
	if c.PaPin == 0 {
		c.PaPin = PaPinRFO
		if c.TxPower == 0 {
			c.TxPower = 4
		}
	}
	switch c.PaPin {
	case PaPinRFO:
		if c.TxPower < -4 || c.TxPower > 15 {
			return fmt.Errorf("%w: with RFO pin, TX power must be in range [-4,15]", ErrPkg)
		}
	case PaPinBoost:
		if c.TxPower < 2 || c.TxPower > 20 || c.TxPower == 18 || c.TxPower == 19 {
			return fmt.Errorf("%w: with PA_BOOST pin, TX power must be in range [2,17] or be 20", ErrPkg)
		}
	default:
		return fmt.Errorf("%w: unknown PA pin %d", ErrPkg, c.PaPin)
	}
	if c.Bandwidth == 0 {
		c.Bandwidth = BW125000
	}
	if !c.Bandwidth.Valid() {
		return fmt.Errorf("%w: unknown bandwidth %d", ErrPkg, c.Bandwidth)
	}
	if c.SpreadingFactor == 0 {
		c.SpreadingFactor = SF7
	}
	if !c.SpreadingFactor.Valid() {
		return fmt.Errorf("%w: spreading factor must be between 6 and 12", ErrPkg)
	}
	if c.CodingRate == 0 {
		c.CodingRate = CR4_5
	}
	if !c.CodingRate.Valid() {
		return fmt.Errorf("%w: unknown coding rate %d", ErrPkg, c.CodingRate)
	}
	if c.PreambleLength == 0 {
		c.PreambleLength = 8
	}
	if c.PreambleLength < 6 {
		return fmt.Errorf("%w: preamble length must be at least 6", ErrPkg)
	}
	if c.SyncWord == 0 && !c.ExplicitSyncWord {
		c.SyncWord = 0x12
	}
	if c.Opmod == opmodUnset {
		c.Opmod = OpmodStandby
	}
	if !c.Opmod.restable() {
		return fmt.Errorf("%w: initial opmod must be sleep, standby or rx, got %s", ErrPkg, c.Opmod)
	}
	switch {
	case c.QueueLen == 0:
		c.QueueLen = 10
	case c.QueueLen == NoQueue:
		c.QueueLen = 0
	case c.QueueLen < 0 || c.QueueLen > maxQueueLen:
		return fmt.Errorf("%w: queue length must be between 0 and 100", ErrPkg)
	}
	if c.TxTimeout == 0 {
		c.TxTimeout = 4 * time.Second
	}
	if c.TxTimeout < 0 {
		return fmt.Errorf("%w: TX timeout must be positive", ErrPkg)
	}
	return nil
}

func (d *Device) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return fmt.Sprintf("SX127x(Frequency=%d, Bandwidth=%s, SpreadingFactor=%s, CodingRate=%s, TxPower=%ddBm, Opmod=%s, Queue=%d/%d)",
		d.config.Frequency,
		d.config.Bandwidth,
		d.config.SpreadingFactor,
		d.config.CodingRate,
		d.config.TxPower,
		d.opmod,
		len(d.txQueue),
		d.config.QueueLen,
	)
}

// DumpConfig logs the device configuration at info level.
func (d *Device) DumpConfig() {
	d.mu.Lock()
	c := d.config
	opmod := d.opmod
	d.mu.Unlock()

	globalLogger.Info("SX127x Config")
	globalLogger.Info(fmt.Sprintf("  Reset Pin:          %v", c.Reset))
	globalLogger.Info(fmt.Sprintf("  DIO0 Pin:           %v", c.DIO0))
	globalLogger.Info("LoRa Configuration")
	globalLogger.Info(fmt.Sprintf("  Frequency:          %9d Hz", c.Frequency))
	globalLogger.Info(fmt.Sprintf("  TX Power:           %3d dBm (%s)", c.TxPower, c.PaPin))
	globalLogger.Info(fmt.Sprintf("  Bandwidth:          %s", c.Bandwidth))
	globalLogger.Info(fmt.Sprintf("  Spreading Factor:   %s", c.SpreadingFactor))
	globalLogger.Info(fmt.Sprintf("  Coding Rate:        %s", c.CodingRate))
	globalLogger.Info(fmt.Sprintf("  CRC:                %v", !c.DisableCRC))
	globalLogger.Info(fmt.Sprintf("  Preamble Length:    %d", c.PreambleLength))
	globalLogger.Info(fmt.Sprintf("  Sync Word:          0x%02X", c.SyncWord))
	globalLogger.Info(fmt.Sprintf("  Invert IQ:          %v", c.InvertIQ))
	globalLogger.Info(fmt.Sprintf("  Opmod:              %s", opmod))
	globalLogger.Info(fmt.Sprintf("  TX Queue Length:    %d", c.QueueLen))
	globalLogger.Info(fmt.Sprintf("  TX Timeout:         %s", c.TxTimeout))
}

// OnPacket registers fn to be called with every received packet.
// Handlers run outside the device lock and may call back into the Device.
func (d *Device) OnPacket(fn func(Packet)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.packetHandlers = append(d.packetHandlers, fn)
}

// OnTransmitDone registers fn to be called when a transmission ends, with a nil error on
// TxDone and ErrTxTimeout when the attempt was abandoned.
func (d *Device) OnTransmitDone(fn func(error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txHandlers = append(d.txHandlers, fn)
}

// Stats returns a snapshot of the device counters.
// This method is concurrent safe.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Failed reports whether set-up failed. A failed device ignores every request.
// This method is concurrent safe.
func (d *Device) Failed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == stateFailed
}

// unlockAndEmit releases d.mu and then delivers the events collected while it was held.
func (d *Device) unlockAndEmit() {
	events := d.events
	d.events = nil
	packetHandlers, txHandlers := d.packetHandlers, d.txHandlers
	d.mu.Unlock()

	for _, ev := range events {
		switch {
		case ev.packet != nil:
			for _, fn := range packetHandlers {
				fn(*ev.packet)
			}
		case ev.tx:
			for _, fn := range txHandlers {
				fn(ev.txErr)
			}
		}
	}
}

// --- Runtime reconfiguration ---

// SetFrequency changes the carrier frequency in Hz.
// This method is concurrent safe.
func (d *Device) SetFrequency(hz uint32) error {
	if hz < minFrequency || hz > maxFrequency {
		return fmt.Errorf("%w: %w: frequency must be between 137 MHz and 1020 MHz", ErrPkg, ErrInvalidArgument)
	}
	return d.reconfigure("set frequency",
		func(c *RadioConfig) { c.Frequency = hz },
		func(r *chip.Device) error { return r.SetFrequency(uint64(hz)) })
}

// SetBandwidth changes the signal bandwidth.
// This method is concurrent safe.
func (d *Device) SetBandwidth(bw Bandwidth) error {
	if !bw.Valid() {
		return fmt.Errorf("%w: %w: unknown bandwidth %d", ErrPkg, ErrInvalidArgument, bw)
	}
	return d.reconfigure("set bandwidth",
		func(c *RadioConfig) { c.Bandwidth = bw },
		func(r *chip.Device) error { return r.SetBandwidth(bw) })
}

// SetSpreadingFactor changes the spreading factor.
// This method is concurrent safe.
func (d *Device) SetSpreadingFactor(sf SpreadingFactor) error {
	if !sf.Valid() {
		return fmt.Errorf("%w: %w: spreading factor must be between 6 and 12", ErrPkg, ErrInvalidArgument)
	}
	return d.reconfigure("set spreading factor",
		func(c *RadioConfig) { c.SpreadingFactor = sf },
		func(r *chip.Device) error { return r.SetModemConfig2(sf) })
}

// SetCodingRate changes the coding rate of outgoing packets.
// This method is concurrent safe.
func (d *Device) SetCodingRate(cr CodingRate) error {
	if !cr.Valid() {
		return fmt.Errorf("%w: %w: unknown coding rate %d", ErrPkg, ErrInvalidArgument, cr)
	}
	return d.reconfigure("set coding rate",
		func(c *RadioConfig) { c.CodingRate = cr },
		func(r *chip.Device) error {
			return r.SetExplicitHeader(chip.TxHeader{EnableCRC: !d.config.DisableCRC, CodingRate: cr})
		})
}

// SetCRC enables or disables the payload CRC.
// This method is concurrent safe.
func (d *Device) SetCRC(enable bool) error {
	return d.reconfigure("set crc",
		func(c *RadioConfig) { c.DisableCRC = !enable },
		func(r *chip.Device) error {
			return r.SetExplicitHeader(chip.TxHeader{EnableCRC: enable, CodingRate: d.config.CodingRate})
		})
}

// SetInvertIQ enables or disables I/Q inversion.
// This method is concurrent safe.
func (d *Device) SetInvertIQ(invert bool) error {
	return d.reconfigure("set invert iq",
		func(c *RadioConfig) { c.InvertIQ = invert },
		func(r *chip.Device) error { return r.SetInvertIQ(invert) })
}

// reconfigure applies a radio setting. Before Setup only the configuration is updated.
// Once ready the chip is parked in standby while the registers change, then returned to
// the desired mode.
func (d *Device) reconfigure(name string, update func(*RadioConfig), apply func(*chip.Device) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case stateFailed:
		return fmt.Errorf("%w: %w", ErrPkg, ErrFailed)
	case stateClosed:
		return fmt.Errorf("%w: %w", ErrPkg, ErrClosed)
	case stateNew:
		update(&d.config.RadioConfig)
		return nil
	}
	if d.transmitting {
		return fmt.Errorf("%w: %w", ErrPkg, ErrBusy)
	}

	if d.current != OpmodStandby && d.current != OpmodSleep {
		if err := d.commandOpmod(OpmodStandby); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrPkg, name, err)
		}
	}
	err := apply(d.bind.chip)
	if err == nil {
		update(&d.config.RadioConfig)
	} else {
		globalLogger.Error(name + " failed: " + err.Error())
	}
	if uerr := d.updateOpmod(); err == nil && uerr != nil {
		err = uerr
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPkg, name, err)
	}
	return nil
}
