package sx127x

import (
	"errors"
	"fmt"

	"github.com/michcald/sx127x/chip"
)

// binding owns the chip driver context. It hands the driver its bus primitives and routes
// the driver's completion callbacks back to the owning Device.
type binding struct {
	tr   *transport
	chip *chip.Device
}

func newBinding(tr *transport) *binding {
	return &binding{tr: tr}
}

// open probes the radio and registers the completion callbacks. onTxDone and onRxDone run
// from inside chip.Device.HandleInterrupt, so with the caller's locks held.
func (b *binding) open(onTxDone func(), onRxDone func(payload []byte)) error {
	dev, err := chip.New(b)
	if err != nil {
		if errors.Is(err, chip.ErrVersion) {
			return fmt.Errorf("%w: %w", ErrNotDetected, err)
		}
		return err
	}
	dev.SetTxCallback(onTxDone)
	dev.SetRxCallback(onRxDone)
	b.chip = dev
	return nil
}

func (b *binding) ReadRegister(reg uint8, n int) (uint32, error) {
	return b.tr.readRegister(reg, n)
}

func (b *binding) ReadBuffer(reg uint8, buf []byte) error {
	return b.tr.readBuffer(reg, buf)
}

func (b *binding) WriteRegister(reg uint8, data []byte) error {
	return b.tr.writeRegister(reg, data)
}

func (b *binding) WriteBuffer(reg uint8, data []byte) error {
	return b.tr.writeBuffer(reg, data)
}
