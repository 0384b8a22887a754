package transport

import (
	"fmt"

	"github.com/ebfe/scard"
)

// PCSCDevice implements Device over a PC/SC reader, for the HID/USB-CCID
// family of secure elements. Grounded on pkg/ntag424/pcsc.go's Connection,
// generalized to the Device interface and to reader selection by name
// instead of by a fixed 0-based index.
type PCSCDevice struct {
	ctx    *scard.Context
	card   *scard.Card
	reader string
}

// OpenPCSCDevice establishes a PC/SC context and connects to the named
// reader. If reader is empty, the first reader reported by the PC/SC
// subsystem is used.
func OpenPCSCDevice(reader string) (*PCSCDevice, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("transport: EstablishContext: %w", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("transport: ListReaders: %w", err)
	}
	if len(readers) == 0 {
		ctx.Release()
		return nil, fmt.Errorf("transport: no PC/SC readers present")
	}

	selected := readers[0]
	if reader != "" {
		found := false
		for _, r := range readers {
			if r == reader {
				selected = r
				found = true
				break
			}
		}
		if !found {
			ctx.Release()
			return nil, fmt.Errorf("transport: reader %q not found among %v", reader, readers)
		}
	}

	card, err := ctx.Connect(selected, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, fmt.Errorf("transport: Connect(%q): %w", selected, err)
	}

	return &PCSCDevice{ctx: ctx, card: card, reader: selected}, nil
}

// ListPCSCReaders reports the PC/SC readers visible to the host.
func ListPCSCReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("transport: EstablishContext: %w", err)
	}
	defer ctx.Release()
	return ctx.ListReaders()
}

// Reader reports the PC/SC reader name this device is bound to.
func (d *PCSCDevice) Reader() string { return d.reader }

// Transmit implements Device by forwarding to the underlying card handle.
func (d *PCSCDevice) Transmit(cmd []byte) ([]byte, error) {
	if d == nil || d.card == nil {
		return nil, fmt.Errorf("transport: device not connected")
	}
	return d.card.Transmit(cmd)
}

// Close disconnects the card and releases the PC/SC context.
func (d *PCSCDevice) Close() error {
	if d == nil {
		return nil
	}
	var firstErr error
	if d.card != nil {
		if err := d.card.Disconnect(scard.LeaveCard); err != nil {
			firstErr = err
		}
		d.card = nil
	}
	if d.ctx != nil {
		if err := d.ctx.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.ctx = nil
	}
	return firstErr
}
