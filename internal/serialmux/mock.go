package serialmux

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/refuseworks/binsort/internal/monitoring"
	"github.com/refuseworks/binsort/internal/sorter"
)

var errPortClosed = errors.New("serial port closed")

// MockSerialPort stands in for the sorter controller when the daemon runs
// in dev mode. Reads are fed by NewMockSerialMux's event generator; writes
// are kept in memory and echoed to the log, decoded where possible, so a
// developer can watch the daemon drive the absent hardware.
type MockSerialPort struct {
	r *io.PipeReader

	mu       sync.Mutex
	closed   bool
	received bytes.Buffer
}

func (m *MockSerialPort) Read(p []byte) (int, error) {
	return m.r.Read(p)
}

func (m *MockSerialPort) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, errPortClosed
	}
	m.received.Write(p)
	m.logWrite(p)
	return len(p), nil
}

// logWrite renders a controller-bound payload the way the firmware would
// interpret it: result frames as their decoded category, everything else
// as the text command it is.
func (m *MockSerialPort) logWrite(p []byte) {
	if len(p) > 0 && p[0] == sorter.FrameHeader {
		c, err := sorter.ParseResultFrame(p)
		if err != nil {
			monitoring.Logf("mock controller: rejected frame % X: %v", p, err)
			return
		}
		monitoring.Logf("mock controller: sort result %s", c)
		return
	}
	monitoring.Logf("mock controller: %s", strings.TrimSpace(string(p)))
}

// ReceivedData returns a copy of everything written to the mock
// controller so far, commands and frames alike.
func (m *MockSerialPort) ReceivedData() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]byte(nil), m.received.Bytes()...)
}

// Close shuts the read side, which stops the event generator on its next
// emit and fails any in-flight Read.
func (m *MockSerialPort) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	if m.r != nil {
		return m.r.Close()
	}
	return nil
}

// NewMockSerialMux builds a SerialMux over a MockSerialPort. The mock
// controller emits line every 500ms, simulating the firmware announcing
// cycle events, so the station loop and the SSE tail have live traffic
// in dev mode.
func NewMockSerialMux(line []byte) *SerialMux[*MockSerialPort] {
	r, w := io.Pipe()
	port := &MockSerialPort{r: r}

	go func() {
		defer w.Close()
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := w.Write(line); err != nil {
				// Port closed; nobody is reading anymore.
				return
			}
		}
	}()

	return NewSerialMux(port)
}

// TestableSerialPort is an in-memory SerialPorter with injectable
// failures, shared by the serialmux, station, and api test suites.
// Construct with NewTestableSerialPort; the zero value has no condition
// variable and will not block correctly.
type TestableSerialPort struct {
	mu       sync.Mutex
	readCond *sync.Cond

	// ReadBuffer feeds Read calls; WriteBuffer captures Write calls.
	ReadBuffer  *bytes.Buffer
	WriteBuffer *bytes.Buffer

	// ReadError and WriteError fail the next matching call, once.
	ReadError  error
	WriteError error

	// BlockReads makes Read on an empty buffer wait for AddReadData or
	// Close rather than return immediately, mimicking a real port idling
	// between controller events.
	BlockReads bool

	Closed      bool
	ReadCalls   int
	WriteCalls  int
	ReadTimeout time.Duration
}

// NewTestableSerialPort returns a ready-to-use in-memory port.
func NewTestableSerialPort() *TestableSerialPort {
	p := &TestableSerialPort{
		ReadBuffer:  &bytes.Buffer{},
		WriteBuffer: &bytes.Buffer{},
	}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

// takeErr consumes a one-shot injected error. Callers hold the lock.
func takeErr(slot *error) error {
	err := *slot
	*slot = nil
	return err
}

// Read drains the read buffer. With BlockReads set it parks until data
// arrives or the port closes.
func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++
	if err := takeErr(&t.ReadError); err != nil {
		return 0, err
	}
	if t.BlockReads {
		for !t.Closed && t.ReadBuffer.Len() == 0 {
			t.readCond.Wait()
		}
	}
	if t.Closed {
		return 0, errPortClosed
	}
	return t.ReadBuffer.Read(p)
}

// Write appends to the write buffer.
func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.WriteCalls++
	if err := takeErr(&t.WriteError); err != nil {
		return 0, err
	}
	if t.Closed {
		return 0, errPortClosed
	}
	return t.WriteBuffer.Write(p)
}

// Close marks the port closed and wakes any parked readers.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.Closed = true
	t.readCond.Broadcast()
	return nil
}

// SetReadTimeout implements TimeoutSerialPorter. The timeout is recorded
// for assertions but does not bound Read.
func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadTimeout = timeout
	return nil
}

// AddReadData queues data for Read and wakes one parked reader.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Write(data)
	t.readCond.Signal()
}

// GetWrittenData returns a copy of everything written so far.
func (t *TestableSerialPort) GetWrittenData() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]byte(nil), t.WriteBuffer.Bytes()...)
}

// Reset returns the port to its initial state so a test can reuse it.
func (t *TestableSerialPort) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadBuffer.Reset()
	t.WriteBuffer.Reset()
	t.ReadError = nil
	t.WriteError = nil
	t.Closed = false
	t.ReadCalls = 0
	t.WriteCalls = 0
	t.ReadTimeout = 0
}
