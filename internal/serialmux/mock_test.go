package serialmux

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/refuseworks/binsort/internal/category"
	"github.com/refuseworks/binsort/internal/sorter"
)

func TestMockSerialPort_RecordsWrites(t *testing.T) {
	r, _ := io.Pipe()
	port := &MockSerialPort{r: r}
	defer port.Close()

	if _, err := port.Write([]byte("HOME\n")); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	frame := sorter.ResultFrame(category.Metal)
	n, err := port.Write(frame)
	if err != nil {
		t.Fatalf("Write(frame) returned error: %v", err)
	}
	if n != len(frame) {
		t.Errorf("Write(frame) = %d bytes, expected %d", n, len(frame))
	}

	want := append([]byte("HOME\n"), frame...)
	if got := port.ReceivedData(); !bytes.Equal(got, want) {
		t.Errorf("ReceivedData = % X, expected % X", got, want)
	}
}

func TestMockSerialPort_ReadFromGenerator(t *testing.T) {
	r, w := io.Pipe()
	port := &MockSerialPort{r: r}
	defer port.Close()

	go w.Write([]byte("TRIGGER\n"))

	buf := make([]byte, 16)
	n, err := port.Read(buf)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if string(buf[:n]) != "TRIGGER\n" {
		t.Errorf("Read = %q, expected TRIGGER line", buf[:n])
	}
}

func TestMockSerialPort_WriteAfterClose(t *testing.T) {
	r, _ := io.Pipe()
	port := &MockSerialPort{r: r}

	if err := port.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if _, err := port.Write([]byte("STATUS\n")); err == nil {
		t.Error("Write on closed port should fail")
	}
	// Closing again is a no-op.
	if err := port.Close(); err != nil {
		t.Errorf("second Close returned error: %v", err)
	}
}

func TestNewMockSerialMux(t *testing.T) {
	mux := NewMockSerialMux([]byte("TRIGGER\n"))
	if mux == nil {
		t.Fatal("NewMockSerialMux returned nil")
	}

	// Test basic operations on the mock mux
	id, ch := mux.Subscribe()
	if id == "" {
		t.Error("Subscribe returned empty ID")
	}
	if ch == nil {
		t.Error("Subscribe returned nil channel")
	}

	// Test SendCommand
	if err := mux.SendCommand("STATUS"); err != nil {
		t.Errorf("SendCommand returned error: %v", err)
	}

	// Test SendFrame
	if err := mux.SendFrame([]byte{0xAA, 0x01, 0x01, 0x00}); err != nil {
		t.Errorf("SendFrame returned error: %v", err)
	}

	// Test Initialize
	if err := mux.Initialize(); err != nil {
		t.Errorf("Initialize returned error: %v", err)
	}

	// Test Unsubscribe
	mux.Unsubscribe(id)

	// Test Close
	if err := mux.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
}

func TestTestableSerialPort_ReadWrite(t *testing.T) {
	port := NewTestableSerialPort()

	// Add data to read buffer
	testData := []byte("test data")
	port.AddReadData(testData)

	// Read data
	buf := make([]byte, 100)
	n, err := port.Read(buf)
	if err != nil {
		t.Errorf("Read returned error: %v", err)
	}
	if n != len(testData) {
		t.Errorf("Read returned %d bytes, expected %d", n, len(testData))
	}
	if !bytes.Equal(buf[:n], testData) {
		t.Errorf("Read data = %q, expected %q", buf[:n], testData)
	}

	// Write data
	writeData := []byte("written data")
	n, err = port.Write(writeData)
	if err != nil {
		t.Errorf("Write returned error: %v", err)
	}
	if n != len(writeData) {
		t.Errorf("Write returned %d bytes, expected %d", n, len(writeData))
	}
	if !bytes.Equal(port.GetWrittenData(), writeData) {
		t.Errorf("Written data = %q, expected %q", port.GetWrittenData(), writeData)
	}

	if port.ReadCalls != 1 {
		t.Errorf("ReadCalls = %d, expected 1", port.ReadCalls)
	}
	if port.WriteCalls != 1 {
		t.Errorf("WriteCalls = %d, expected 1", port.WriteCalls)
	}
}

func TestTestableSerialPort_Errors(t *testing.T) {
	port := NewTestableSerialPort()

	// Injected read error is returned once
	port.ReadError = errors.New("read boom")
	if _, err := port.Read(make([]byte, 10)); err == nil {
		t.Error("Expected injected read error")
	}
	port.AddReadData([]byte("x"))
	if _, err := port.Read(make([]byte, 10)); err != nil {
		t.Errorf("Read error should only fire once, got: %v", err)
	}

	// Injected write error is returned once
	port.WriteError = errors.New("write boom")
	if _, err := port.Write([]byte("y")); err == nil {
		t.Error("Expected injected write error")
	}
	if _, err := port.Write([]byte("y")); err != nil {
		t.Errorf("Write error should only fire once, got: %v", err)
	}
}

func TestTestableSerialPort_Closed(t *testing.T) {
	port := NewTestableSerialPort()

	if err := port.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
	if !port.Closed {
		t.Error("Closed flag not set")
	}

	if _, err := port.Read(make([]byte, 10)); err == nil {
		t.Error("Read on closed port should fail")
	}
	if _, err := port.Write([]byte("z")); err == nil {
		t.Error("Write on closed port should fail")
	}
}

func TestTestableSerialPort_BlockingRead(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 10)
		n, err := port.Read(buf)
		if err != nil {
			got <- nil
			return
		}
		got <- buf[:n]
	}()

	// Reader should be blocked until data arrives
	select {
	case <-got:
		t.Fatal("Read returned before data was added")
	case <-time.After(50 * time.Millisecond):
	}

	port.AddReadData([]byte("GO"))

	select {
	case data := <-got:
		if string(data) != "GO" {
			t.Errorf("Read returned %q, expected GO", data)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Read did not unblock after data was added")
	}
}

func TestTestableSerialPort_CloseUnblocksRead(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true

	done := make(chan error, 1)
	go func() {
		_, err := port.Read(make([]byte, 10))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	port.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error from read unblocked by Close")
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Read did not unblock after Close")
	}
}

func TestTestableSerialPort_SetReadTimeout(t *testing.T) {
	port := NewTestableSerialPort()

	if err := port.SetReadTimeout(5 * time.Second); err != nil {
		t.Errorf("SetReadTimeout returned error: %v", err)
	}
	if port.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout = %v, expected 5s", port.ReadTimeout)
	}
}

func TestTestableSerialPort_Reset(t *testing.T) {
	port := NewTestableSerialPort()

	port.AddReadData([]byte("data"))
	port.Write([]byte("data"))
	port.Close()
	port.ReadError = errors.New("x")

	port.Reset()

	if port.ReadBuffer.Len() != 0 || port.WriteBuffer.Len() != 0 {
		t.Error("Reset should clear buffers")
	}
	if port.ReadCalls != 0 || port.WriteCalls != 0 {
		t.Error("Reset should clear call counts")
	}
	if port.Closed {
		t.Error("Reset should clear the closed flag")
	}
	if port.ReadError != nil {
		t.Error("Reset should clear injected errors")
	}
}

