package serialmux

import "io"

// SerialPorter is the part of a serial port the mux needs. go.bug.st/serial
// ports satisfy it, as do the in-memory ports used in tests.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}
