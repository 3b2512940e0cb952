// Package regsim simulates the SPI register interface of an SX127x well enough to drive the
// chip and sx127x packages in tests: 7-bit addresses with the write bit, burst auto-increment,
// FIFO access through the FIFO address pointer, write-1-to-clear IRQ flags.
package regsim

import (
	"sync"

	"github.com/michcald/sx127x/chip"
)

// Write is one register write transaction as seen on the bus.
type Write struct {
	Reg  uint8
	Data []byte
}

// Radio is a simulated SX127x behind an SPI bus. The zero value is not usable, call New.
type Radio struct {
	mu           sync.Mutex
	regs         [128]byte
	fifo         [256]byte
	writes       []Write
	opModes      []uint8
	failWrites   map[uint8]error
	txErr        error
	transactions int
}

// New returns a radio in its reset state.
func New() *Radio {
	r := &Radio{failWrites: map[uint8]error{}}
	r.reset()
	return r
}

func (r *Radio) reset() {
	r.regs = [128]byte{}
	r.regs[chip.REG_OP_MODE] = 0x09
	// 434 MHz
	r.regs[chip.REG_FRF_MSB] = 0x6c
	r.regs[chip.REG_FRF_MID] = 0x80
	r.regs[chip.REG_VERSION] = chip.CHIP_VERSION
	r.regs[chip.REG_MODEM_CONFIG_1] = 0x72
	r.regs[chip.REG_MODEM_CONFIG_2] = 0x70
	r.regs[chip.REG_SYNC_WORD] = 0x12
	r.regs[chip.REG_DETECTION_OPTIMIZE] = 0xc3
}

// Tx implements a full-duplex transfer: w[0] is the address byte, the rest is data.
func (r *Radio) Tx(w, rd []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.transactions++
	if r.txErr != nil {
		return r.txErr
	}
	if len(w) == 0 {
		return nil
	}
	addr := w[0] & 0x7f
	if w[0]&0x80 != 0 {
		if err := r.failWrites[addr]; err != nil {
			return err
		}
		data := append([]byte(nil), w[1:]...)
		r.writes = append(r.writes, Write{Reg: addr, Data: data})
		r.write(addr, data)
		return nil
	}
	for i := 1; i < len(w) && i < len(rd); i++ {
		rd[i] = r.read(addr)
		if addr != chip.REG_FIFO {
			addr++
		}
	}
	return nil
}

func (r *Radio) write(addr uint8, data []byte) {
	for _, b := range data {
		switch addr {
		case chip.REG_FIFO:
			r.fifo[r.regs[chip.REG_FIFO_ADDR_PTR]] = b
			r.regs[chip.REG_FIFO_ADDR_PTR]++
		case chip.REG_IRQ_FLAGS:
			r.regs[addr] &^= b
		case chip.REG_OP_MODE:
			r.regs[addr] = b
			r.opModes = append(r.opModes, b)
		case chip.REG_VERSION:
		default:
			r.regs[addr&0x7f] = b
		}
		if addr != chip.REG_FIFO {
			addr++
		}
	}
}

func (r *Radio) read(addr uint8) byte {
	if addr == chip.REG_FIFO {
		b := r.fifo[r.regs[chip.REG_FIFO_ADDR_PTR]]
		r.regs[chip.REG_FIFO_ADDR_PTR]++
		return b
	}
	return r.regs[addr&0x7f]
}

// Reg returns the current value of a register.
func (r *Radio) Reg(addr uint8) byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.regs[addr&0x7f]
}

// SetReg forces a register value without logging a write.
func (r *Radio) SetReg(addr, v uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs[addr&0x7f] = v
}

// Mode returns the mode bits of REG_OP_MODE.
func (r *Radio) Mode() chip.Mode {
	return chip.Mode(r.Reg(chip.REG_OP_MODE) & chip.OPMODE_MASK)
}

// OpModes returns every value written to REG_OP_MODE, oldest first.
func (r *Radio) OpModes() []uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint8(nil), r.opModes...)
}

// Writes returns the write log, oldest first.
func (r *Radio) Writes() []Write {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Write(nil), r.writes...)
}

// WritesTo returns the data of every write whose transaction started at reg.
func (r *Radio) WritesTo(reg uint8) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]byte
	for _, w := range r.writes {
		if w.Reg == reg {
			out = append(out, w.Data)
		}
	}
	return out
}

// Transactions returns the number of Tx calls seen.
func (r *Radio) Transactions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transactions
}

// ClearLog forgets the write and op mode history.
func (r *Radio) ClearLog() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = nil
	r.opModes = nil
}

// FailWrites makes every write to reg fail with err. A nil err removes the failure.
func (r *Radio) FailWrites(reg uint8, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failWrites, reg)
		return
	}
	r.failWrites[reg] = err
}

// FailAll makes every transaction fail with err. A nil err restores normal operation.
func (r *Radio) FailAll(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txErr = err
}

// SetVersion overrides REG_VERSION.
func (r *Radio) SetVersion(v uint8) { r.SetReg(chip.REG_VERSION, v) }

// Staged returns the payload written to the FIFO for the next transmission.
func (r *Radio) Staged() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := int(r.regs[chip.REG_PAYLOAD_LENGTH])
	base := int(r.regs[chip.REG_FIFO_TX_BASE_ADDR])
	out := make([]byte, n)
	for i := range out {
		out[i] = r.fifo[(base+i)&0xff]
	}
	return out
}

// CompleteTx raises TxDone as the chip does at the end of a transmission.
func (r *Radio) CompleteTx() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs[chip.REG_IRQ_FLAGS] |= chip.IRQ_TX_DONE
	r.regs[chip.REG_OP_MODE] = r.regs[chip.REG_OP_MODE]&^chip.OPMODE_MASK | uint8(chip.ModeStandby)
}

// Receive places payload in the FIFO with the given raw SNR and RSSI register values and
// raises RxDone. Some chips fall back to standby after RxDone, dropToStandby simulates it.
func (r *Radio) Receive(payload []byte, snrRaw int8, rssiRaw uint8, dropToStandby bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	base := r.regs[chip.REG_FIFO_RX_BASE_ADDR]
	for i, b := range payload {
		r.fifo[base+uint8(i)] = b
	}
	r.regs[chip.REG_FIFO_RX_CURRENT_ADDR] = base
	r.regs[chip.REG_RX_NB_BYTES] = uint8(len(payload))
	r.regs[chip.REG_PKT_SNR_VALUE] = uint8(snrRaw)
	r.regs[chip.REG_PKT_RSSI_VALUE] = rssiRaw
	r.regs[chip.REG_IRQ_FLAGS] |= chip.IRQ_RX_DONE
	if dropToStandby {
		r.regs[chip.REG_OP_MODE] = r.regs[chip.REG_OP_MODE]&^chip.OPMODE_MASK | uint8(chip.ModeStandby)
	}
}

// ReceiveCorrupted raises RxDone together with a payload CRC error.
func (r *Radio) ReceiveCorrupted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs[chip.REG_IRQ_FLAGS] |= chip.IRQ_RX_DONE | chip.IRQ_PAYLOAD_CRC_ERROR
}
