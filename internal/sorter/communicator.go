package sorter

import (
	"fmt"
	"strings"

	"github.com/refuseworks/binsort/internal/category"
	"github.com/refuseworks/binsort/internal/monitoring"
)

// FrameSender is the slice of the serial mux the communicator needs.
type FrameSender interface {
	SendCommand(string) error
	SendFrame([]byte) error
}

// Communicator sends sorting results and operator messages to the sorter
// controller over an established serial connection.
type Communicator struct {
	port FrameSender
}

func NewCommunicator(port FrameSender) *Communicator {
	return &Communicator{port: port}
}

// SendResult transmits the result frame for a finalized category. The
// controller acts on the frame immediately, so this is only called once per
// sorting cycle.
func (c *Communicator) SendResult(cat category.Category) error {
	frame := ResultFrame(cat)
	if err := c.port.SendFrame(frame); err != nil {
		return fmt.Errorf("failed to send result frame for %s: %w", cat, err)
	}
	monitoring.Logf("sent sorting result %s (code 0x%02X)", cat, frame[2])
	return nil
}

// SendText transmits a free-form text message to the controller, typically
// for its status display. Newlines inside the message would be read as
// separate commands by the firmware, so they are rejected.
func (c *Communicator) SendText(msg string) error {
	trimmed := strings.TrimSpace(msg)
	if trimmed == "" {
		return fmt.Errorf("refusing to send empty message")
	}
	if strings.ContainsAny(trimmed, "\r\n") {
		return fmt.Errorf("message must not contain line breaks")
	}
	return c.port.SendCommand(trimmed)
}
