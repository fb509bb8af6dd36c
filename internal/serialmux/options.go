package serialmux

import (
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// PortOptions carries the serial parameters for the sorter controller
// link. The JSON tags match the serial_configs table so a row loaded by
// the API layer unmarshals straight into this type.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// parityModes maps canonical parity letters to the go.bug.st/serial
// constants. Normalize guarantees every key used here.
var parityModes = map[string]serial.Parity{
	"N": serial.NoParity,
	"E": serial.EvenParity,
	"O": serial.OddParity,
}

// canonicalParity reduces the accepted parity spellings (case-insensitive
// letter or word, surrounding whitespace ignored) to N, E, or O. The
// empty string means the controller default, no parity.
func canonicalParity(p string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(p)) {
	case "", "N", "NONE":
		return "N", nil
	case "E", "EVEN":
		return "E", nil
	case "O", "ODD":
		return "O", nil
	}
	return "", fmt.Errorf("unsupported parity %q: expected N, E, or O", p)
}

// Normalize returns a copy with unset fields replaced by the controller
// defaults (9600 8N1) and the rest validated. The receiver is never
// modified.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = 9600
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}

	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity, err := canonicalParity(opts.Parity)
	if err != nil {
		return opts, err
	}
	opts.Parity = parity

	return opts, nil
}

// Equal reports whether two PortOptions describe the same connection
// after normalization, so "n" and "NONE" compare equal to "N". Options
// that fail validation are never equal to anything.
func (o PortOptions) Equal(other PortOptions) bool {
	a, errA := o.Normalize()
	b, errB := other.Normalize()
	if errA != nil || errB != nil {
		return false
	}
	return a == b
}

// SerialMode converts the options into the serial.Mode go.bug.st/serial
// expects when opening a port.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	// The library numbers OnePointFiveStopBits between one and two, so
	// the count cannot be cast directly.
	stop := serial.OneStopBit
	if opts.StopBits == 2 {
		stop = serial.TwoStopBits
	}

	return &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		Parity:   parityModes[opts.Parity],
		StopBits: stop,
	}, nil
}
