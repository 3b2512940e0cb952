package sx127x

import (
	"fmt"
	"sync"
)

const (
	maxRegisterBytes = 4
	maxBufferBytes   = 256

	writeBit = 0x80
)

// transport frames register accesses on the SPI bus. The first byte of every transaction is
// the register address in the low 7 bits, with the top bit set for writes. Multi-byte
// registers are big-endian and rely on the chip's address auto-increment.
//
// When cs is set it is driven low for the whole transaction and released on every exit
// path, including errors.
type transport struct {
	mu   sync.Mutex
	conn SPI
	cs   Pin
	buf  [1 + maxBufferBytes]byte
}

// tx must be called with mu held.
func (t *transport) tx(frame []byte) error {
	if t.cs != nil {
		if err := t.cs.Out(Low); err != nil {
			return fmt.Errorf("%w: chip select: %w", ErrPkg, err)
		}
		defer t.cs.Out(High)
	}
	if err := t.conn.Tx(frame, frame); err != nil {
		return fmt.Errorf("%w: spi transfer: %w", ErrPkg, err)
	}
	return nil
}

// readRegister reads n bytes starting at reg and returns them as a big-endian integer.
func (t *transport) readRegister(reg uint8, n int) (uint32, error) {
	if n < 1 || n > maxRegisterBytes {
		return 0, fmt.Errorf("%w: %w: register read of %d bytes", ErrPkg, ErrInvalidArgument, n)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	frame := t.buf[:n+1]
	frame[0] = reg &^ writeBit
	clear(frame[1:])
	if err := t.tx(frame); err != nil {
		return 0, err
	}

	var v uint32
	for _, b := range frame[1:] {
		v = v<<8 | uint32(b)
	}
	return v, nil
}

// writeRegister writes 1 to 4 bytes starting at reg.
func (t *transport) writeRegister(reg uint8, data []byte) error {
	if len(data) < 1 || len(data) > maxRegisterBytes {
		return fmt.Errorf("%w: %w: register write of %d bytes", ErrPkg, ErrInvalidArgument, len(data))
	}
	return t.write(reg, data)
}

// readBuffer fills buf with consecutive reads of reg. An empty buf is a no-op.
func (t *transport) readBuffer(reg uint8, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if len(buf) > maxBufferBytes {
		return fmt.Errorf("%w: %w: buffer read of %d bytes", ErrPkg, ErrInvalidArgument, len(buf))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	frame := t.buf[:len(buf)+1]
	frame[0] = reg &^ writeBit
	clear(frame[1:])
	if err := t.tx(frame); err != nil {
		return err
	}
	copy(buf, frame[1:])
	return nil
}

// writeBuffer writes data as consecutive writes to reg. An empty data is a no-op.
func (t *transport) writeBuffer(reg uint8, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if len(data) > maxBufferBytes {
		return fmt.Errorf("%w: %w: buffer write of %d bytes", ErrPkg, ErrInvalidArgument, len(data))
	}
	return t.write(reg, data)
}

func (t *transport) write(reg uint8, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	frame := t.buf[:len(data)+1]
	frame[0] = reg | writeBit
	copy(frame[1:], data)
	return t.tx(frame)
}
