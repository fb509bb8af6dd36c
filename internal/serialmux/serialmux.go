// Package serialmux multiplexes a single serial connection to the sorter
// controller: many clients subscribe to the lines the firmware emits, and
// text commands or binary result frames are serialized onto the one port.
package serialmux

import (
	"bufio"
	"bytes"
	"context"
	"embed"
	"encoding/hex"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"tailscale.com/tsweb"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

//go:embed templates/*
var adminTemplateFS embed.FS

var sendCommandTemplate = template.Must(template.ParseFS(adminTemplateFS, "templates/send-command.html.tmpl"))

// SerialMux fans controller output out to subscribers and serializes writes
// onto the port.
type SerialMux[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	writeMu      sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving line events from the serial
	// port. The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SendCommand writes the provided text command to the serial port.
	SendCommand(string) error
	// SendFrame writes a raw binary frame to the serial port without any
	// line-ending translation.
	SendFrame([]byte) error
	// Monitor reads lines from the serial port and sends them to the
	// appropriate channels.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	Initialize() error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux wraps an already-open serial port in a mux.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe closes and removes a subscriber channel. Unknown IDs are a
// no-op so double unsubscribes are safe.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Initialize brings the sorter controller to a known state so that cycle
// events can be parsed from a clean baseline.
func (s *SerialMux[T]) Initialize() error {
	for _, command := range []string{
		"HOME",   // re-home the diverter gate to the Trash position
		"LED:0",  // clear any category indicator left from a previous run
		"STATUS", // request a status report so the firmware state is logged
	} {
		if err := s.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send start command %q: %w", command, err)
		}
	}

	return nil
}

// SendCommand writes a text command to the port, appending the newline the
// firmware's line parser expects if the caller left it off.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if !bytes.HasSuffix([]byte(command), []byte("\n")) {
		command += "\n"
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// SendFrame writes a binary frame to the serial port exactly as given. Unlike
// SendCommand no newline is appended; result frames are fixed-length and the
// firmware reads them byte-for-byte.
func (s *SerialMux[T]) SendFrame(frame []byte) error {
	if len(frame) == 0 {
		return fmt.Errorf("refusing to send empty frame")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads controller output line by line and fans each line out to the
// subscribers until the context is cancelled or the port fails.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	scanErrs := make(chan error, 1)

	go s.scanLines(ctx, lines, scanErrs)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrs:
			return err

		case line, ok := <-lines:
			if !ok {
				// The scanner stopped. An error, if any, was parked on
				// scanErrs before lines was closed; prefer reporting it.
				select {
				case err := <-scanErrs:
					return err
				default:
					return nil
				}
			}
			if s.isClosing() {
				return nil
			}
			s.broadcast(line)
		}
	}
}

// scanLines pumps scanner output into lines. The blocking Scan call lives
// here so the Monitor select loop stays responsive to cancellation.
func (s *SerialMux[T]) scanLines(ctx context.Context, lines chan<- string, scanErrs chan<- error) {
	defer close(lines)

	scan := bufio.NewScanner(s.port)
	for scan.Scan() {
		select {
		case lines <- scan.Text():
		case <-ctx.Done():
			return
		}
	}
	if err := scan.Err(); err != nil {
		select {
		case scanErrs <- err:
		case <-ctx.Done():
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// broadcast delivers line to every subscriber, skipping any whose channel is
// not being drained so one stuck reader cannot stall the monitor.
func (s *SerialMux[T]) broadcast(line string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- line:
		default:
		}
	}
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	AttachAdminRoutesForMux(mux, s)
}

// AttachAdminRoutesForMux registers the serial debug routes against any
// SerialMuxInterface implementation. Wrappers that delegate to an inner mux
// (the reloadable port manager) use this so the debug pages keep working
// after the underlying port is swapped.
func AttachAdminRoutesForMux(mux *http.ServeMux, s SerialMuxInterface) {
	debug := tsweb.Debugger(mux)

	// Basic command / live tail monitor interface using the below API endpoints.
	debug.HandleFunc("send-command", "send a command to the sorter controller", func(w http.ResponseWriter, r *http.Request) {
		buf := bytes.NewBuffer(nil)
		if err := sendCommandTemplate.Execute(buf, nil); err != nil {
			http.Error(w, "Failed to render template", http.StatusInternalServerError)
			return
		}
		io.Copy(w, buf)
	})

	// API endpoint to write a text command to the serial port
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
	})

	// API endpoint to write a raw hex-encoded frame to the serial port, used to
	// exercise the firmware's binary result path from the bench.
	debug.HandleSilentFunc("send-frame-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		encoded := strings.TrimSpace(r.FormValue("frame"))
		if encoded == "" {
			http.Error(w, "Missing frame", http.StatusBadRequest)
			return
		}
		frame, err := hex.DecodeString(encoded)
		if err != nil {
			http.Error(w, "Invalid hex frame", http.StatusBadRequest)
			return
		}
		if err := s.SendFrame(frame); err != nil {
			http.Error(w, "Failed to write frame", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote %d byte frame to serial port", len(frame)))
	})

	// API endpoint to issue Server-Side Events (SSE) in response to lines coming from the serial port.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					// Channel closed, exit gracefully
					return
				}
				_, err := w.Write([]byte(fmt.Sprintf("data: %s\n\n", payload)))
				if err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	debug.HandleSilentFunc("tail.js", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		// serve tail.js from adminTemplateFS
		f, err := adminTemplateFS.Open("templates/tail.js")
		if err != nil {
			http.Error(w, "Failed to open tail.js", http.StatusInternalServerError)
			return
		}
		defer f.Close()
		io.Copy(w, f)
	})
}
