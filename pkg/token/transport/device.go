// Package transport abstracts the wire bus a secure-element slot is
// configured against. A Device exposes nothing more than a single
// command/response exchange; everything above that (APDU framing, secure
// messaging, mechanism dispatch) lives in package token.
//
// Generalized from pkg/ntag424's Card interface, which is PC/SC-specific.
// Device drops that assumption so the same slot machinery in package token
// can sit on top of I2C, SPI, HID, or UART transports, of which only the
// HID/USB-CCID family (via PC/SC) ships a concrete binding here.
package transport

import "fmt"

// Device is the minimal contract a wire-level transport driver must meet:
// send a command frame, receive the device's response frame. Framing,
// retries, and status-word interpretation belong to the caller.
type Device interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Closer is implemented by Devices that hold an OS-level handle (a PC/SC
// context, an open file descriptor) that must be released explicitly.
type Closer interface {
	Close() error
}

// Exchange sends cmd and splits the last two bytes of the response off as a
// status word, mirroring the ISO 7816 APDU convention the HID/USB-CCID
// family of secure elements uses. Devices that frame responses differently
// (raw I2C/SPI payloads) should not use this helper.
func Exchange(dev Device, cmd []byte) (data []byte, sw uint16, err error) {
	resp, err := dev.Transmit(cmd)
	if err != nil {
		return nil, 0, err
	}
	if len(resp) < 2 {
		return nil, 0, fmt.Errorf("transport: short response: %d bytes", len(resp))
	}
	sw = uint16(resp[len(resp)-2])<<8 | uint16(resp[len(resp)-1])
	return resp[:len(resp)-2], sw, nil
}

// SWOK reports whether sw is the ISO 7816 "normal processing" status word.
func SWOK(sw uint16) bool { return sw == 0x9000 }
