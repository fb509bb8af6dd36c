package serialmux

import (
	"io"
	"time"
)

// SerialPorter is the minimal surface the mux needs from a serial port:
// byte-stream reads and writes plus Close. Ports opened through
// go.bug.st/serial satisfy it, as do the in-memory ports this package
// provides for tests and dev mode.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter is implemented by ports whose reads can be bounded
// by a deadline. The serial probe endpoint depends on it so an
// unresponsive controller cannot hang a probe indefinitely.
type TimeoutSerialPorter interface {
	SerialPorter
	SetReadTimeout(timeout time.Duration) error
}
