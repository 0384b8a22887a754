// Package token implements a Cryptoki-style cryptographic token runtime on
// top of a family of secure-element devices reached over a wire bus
// (I2C/SPI/HID/UART). It provides slot, session, and object lifecycle
// management, a compressed-certificate codec, and a segment-list byte
// buffer abstraction shared by every crypto I/O boundary.
//
// The package does not speak any particular device's wire protocol; that is
// the responsibility of a Device implementation (see the transport
// subpackage). token dispatches mechanism state machines and runs their
// cryptography host-side; the slot's Device is used to probe the device at
// slot bring-up, and no mechanism command bytes are sent through it.
package token
