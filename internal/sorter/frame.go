// Package sorter implements the wire protocol spoken with the bin sorter
// controller: outbound binary result frames and text commands, and inbound
// line events announcing cycle progress.
package sorter

import (
	"fmt"

	"github.com/refuseworks/binsort/internal/category"
)

const (
	// FrameHeader marks the start of every binary frame.
	FrameHeader byte = 0xAA

	// FrameCommandResult identifies a sorting result frame.
	FrameCommandResult byte = 0x01

	// FrameLength is the fixed size of a result frame.
	FrameLength = 4
)

// ResultFrame builds the frame the controller firmware expects for a
// finalized classification: header, result command, category code, and a
// one-byte XOR checksum over command and code.
func ResultFrame(c category.Category) []byte {
	code := c.Code()
	return []byte{FrameHeader, FrameCommandResult, code, FrameCommandResult ^ code}
}

// ParseResultFrame validates a result frame and returns the category it
// carries. Used by tests and the mock firmware in dev mode.
func ParseResultFrame(frame []byte) (category.Category, error) {
	if len(frame) != FrameLength {
		return category.Unknown, fmt.Errorf("invalid frame length %d: expected %d", len(frame), FrameLength)
	}
	if frame[0] != FrameHeader {
		return category.Unknown, fmt.Errorf("invalid frame header 0x%02X: expected 0x%02X", frame[0], FrameHeader)
	}
	if frame[1] != FrameCommandResult {
		return category.Unknown, fmt.Errorf("unsupported frame command 0x%02X", frame[1])
	}
	if frame[3] != frame[1]^frame[2] {
		return category.Unknown, fmt.Errorf("frame checksum mismatch: got 0x%02X, want 0x%02X", frame[3], frame[1]^frame[2])
	}

	c, ok := category.FromCode(frame[2])
	if !ok {
		return category.Unknown, fmt.Errorf("unrecognized category code 0x%02X", frame[2])
	}
	return c, nil
}
