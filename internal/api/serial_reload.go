package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/refuseworks/binsort/internal/db"
	"github.com/refuseworks/binsort/internal/httputil"
	"github.com/refuseworks/binsort/internal/serialmux"
	"github.com/refuseworks/binsort/internal/sorter"
)

// SerialMuxFactory constructs a serialmux.SerialMuxInterface for the given
// port path and options. Injected so the manager can be tested and so the
// runtime modes (real, mock, disabled) supply their own constructors.
type SerialMuxFactory func(path string, opts serialmux.PortOptions) (serialmux.SerialMuxInterface, error)

// SerialConfigSnapshot describes the configuration currently applied to the
// running serial mux. It mirrors the user-facing serial configuration model
// so that API responses can report the active settings.
type SerialConfigSnapshot struct {
	ConfigID int                   `json:"config_id,omitempty"`
	Name     string                `json:"name,omitempty"`
	PortPath string                `json:"port_path"`
	Source   string                `json:"source"`
	Options  serialmux.PortOptions `json:"options"`
}

// SerialReloadResult is returned to API clients when a reload request is
// processed.
type SerialReloadResult struct {
	Success bool                  `json:"success"`
	Message string                `json:"message"`
	Config  *SerialConfigSnapshot `json:"config,omitempty"`
}

// SerialPortManager wraps a SerialMuxInterface and enables hot-reloading of
// the underlying serial configuration. It implements SerialMuxInterface
// itself so existing call sites (API handlers, the station loop, admin
// routes) delegate to the active mux without additional wiring.
//
// Subscriptions survive reloads: clients get channels from an internal
// fanout, and a background goroutine subscribes to whichever mux is current
// and forwards its lines. Swapping the mux only disturbs the internal
// subscription, which the fanout goroutine re-establishes on its own.
type SerialPortManager struct {
	mu       sync.RWMutex
	current  serialmux.SerialMuxInterface
	snapshot *SerialConfigSnapshot
	closed   bool

	db      *db.DB
	factory SerialMuxFactory

	reloadMu sync.Mutex

	shutdownCh  chan struct{}
	fanoutMu    sync.RWMutex
	subscribers map[string]chan string
}

// NewSerialPortManager constructs a SerialPortManager around an initial mux.
// The snapshot is optional; an empty port path means no configuration has
// been applied yet (disabled or mock mode). The fanout goroutine runs until
// Close.
func NewSerialPortManager(database *db.DB, initial serialmux.SerialMuxInterface, snapshot SerialConfigSnapshot, factory SerialMuxFactory) *SerialPortManager {
	mgr := &SerialPortManager{
		current:     initial,
		db:          database,
		factory:     factory,
		shutdownCh:  make(chan struct{}),
		subscribers: make(map[string]chan string),
	}

	if snapshot.PortPath != "" {
		snap := snapshot
		mgr.snapshot = &snap
	}

	go mgr.runEventFanout()

	return mgr
}

// CurrentMux returns the underlying serial mux currently in use. Callers must
// treat the returned value as read-only; reconfiguration goes through
// ReloadConfig.
func (m *SerialPortManager) CurrentMux() serialmux.SerialMuxInterface {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns a copy of the active configuration snapshot.
func (m *SerialPortManager) Snapshot() SerialConfigSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snapshot == nil {
		return SerialConfigSnapshot{}
	}
	snap := *m.snapshot
	return snap
}

// runEventFanout bridges subscriptions across mux reloads: it subscribes to
// the current mux and forwards every line to the persistent subscriber
// channels, reconnecting whenever its subscription is closed by a reload.
func (m *SerialPortManager) runEventFanout() {
	var subID string
	var subCh chan string

	defer func() {
		if subID != "" {
			if mux := m.CurrentMux(); mux != nil {
				mux.Unsubscribe(subID)
			}
		}

		m.fanoutMu.Lock()
		for _, ch := range m.subscribers {
			close(ch)
		}
		m.subscribers = make(map[string]chan string)
		m.fanoutMu.Unlock()
	}()

	for {
		if subID == "" {
			var ok bool
			subID, subCh, ok = m.attach()
			if !ok {
				return
			}
		}

		select {
		case <-m.shutdownCh:
			return

		case line, ok := <-subCh:
			if !ok {
				// Subscription closed, typically by a reload. Reattach to
				// whatever mux is current on the next pass.
				subID, subCh = "", nil
				time.Sleep(50 * time.Millisecond)
				continue
			}
			m.forward(line)
		}
	}
}

// attach subscribes to the current mux, waiting in short intervals while no
// mux is installed. ok is false when the manager shuts down first.
func (m *SerialPortManager) attach() (id string, ch chan string, ok bool) {
	for {
		m.mu.RLock()
		mux := m.current
		closed := m.closed
		m.mu.RUnlock()

		if closed {
			return "", nil, false
		}
		if mux != nil {
			id, ch = mux.Subscribe()
			return id, ch, true
		}

		select {
		case <-m.shutdownCh:
			return "", nil, false
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// forward delivers one controller line to every fanout subscriber. Sends
// never block, so a stalled reader only loses its own lines.
func (m *SerialPortManager) forward(line string) {
	m.fanoutMu.RLock()
	defer m.fanoutMu.RUnlock()

	for _, ch := range m.subscribers {
		select {
		case ch <- line:
		default:
			log.Printf("Serial fanout: subscriber channel full, dropping line")
		}
	}
}

// Subscribe returns a persistent channel from the internal fanout. The
// channel stays valid across mux reloads. After Close it returns a closed
// channel so readers don't block.
func (m *SerialPortManager) Subscribe() (string, chan string) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		ch := make(chan string)
		close(ch)
		return "", ch
	}

	id := "fanout-" + uuid.NewString()
	ch := make(chan string, 10)

	m.fanoutMu.Lock()
	m.subscribers[id] = ch
	m.fanoutMu.Unlock()

	return id, ch
}

// Unsubscribe removes a subscriber from the fanout and closes its channel.
func (m *SerialPortManager) Unsubscribe(id string) {
	m.fanoutMu.Lock()
	defer m.fanoutMu.Unlock()

	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

// activeMux returns the mux to delegate to, or an error when the manager is
// closed or no port is open.
func (m *SerialPortManager) activeMux() (serialmux.SerialMuxInterface, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errors.New("serial manager is closed")
	}
	if m.current == nil {
		return nil, errors.New("serial mux unavailable")
	}
	return m.current, nil
}

// SendCommand delegates to the current serial mux. Returns an error if the
// mux is unavailable or the manager has been closed.
func (m *SerialPortManager) SendCommand(command string) error {
	mux, err := m.activeMux()
	if err != nil {
		return err
	}
	return mux.SendCommand(command)
}

// SendFrame delegates a binary result frame to the current serial mux.
func (m *SerialPortManager) SendFrame(frame []byte) error {
	mux, err := m.activeMux()
	if err != nil {
		return err
	}
	return mux.SendFrame(frame)
}

// Monitor proxies Monitor calls to the active mux. When the underlying mux is
// swapped out by a reload this loop attaches to the new mux automatically.
func (m *SerialPortManager) Monitor(ctx context.Context) error {
	for {
		mux := m.CurrentMux()
		if mux == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(250 * time.Millisecond):
				continue
			}
		}

		err := mux.Monitor(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("serial monitor terminated with error: %v", err)
			time.Sleep(500 * time.Millisecond)
		} else if err == nil {
			// Monitor exited cleanly, likely due to a reload. Loop back to
			// pick up the new mux.
			time.Sleep(100 * time.Millisecond)
		}
	}
}

// Close closes the active mux and marks the manager closed. Only called
// during shutdown. Afterwards SendCommand/SendFrame/Initialize return errors
// and Subscribe returns a closed channel; existing subscriber channels are
// closed by the fanout goroutine on its way out.
func (m *SerialPortManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.current != nil {
		if err := m.current.Close(); err != nil {
			log.Printf("Warning: failed to close current mux during shutdown: %v", err)
		}
	}
	m.current = nil
	m.mu.Unlock()

	close(m.shutdownCh)

	return nil
}

// Initialize delegates to the active mux.
func (m *SerialPortManager) Initialize() error {
	mux, err := m.activeMux()
	if err != nil {
		return err
	}
	return mux.Initialize()
}

// AttachAdminRoutes reuses the generic helper so debug routes call through
// the manager and keep working across reloads.
func (m *SerialPortManager) AttachAdminRoutes(mux *http.ServeMux) {
	serialmux.AttachAdminRoutesForMux(mux, m)
}

// ReloadConfig reloads the serial configuration from the database and swaps
// the active mux. Monitor loops and fanout subscribers reattach on their own;
// only the manager's internal subscription to the old mux is lost.
func (m *SerialPortManager) ReloadConfig(ctx context.Context) (*SerialReloadResult, error) {
	if m.factory == nil {
		return nil, errors.New("serial mux factory not configured")
	}
	if m.db == nil {
		return nil, errors.New("database not configured")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	configs, err := m.db.GetEnabledSerialConfigs()
	if err != nil {
		return nil, fmt.Errorf("failed to load serial configurations: %w", err)
	}
	if len(configs) == 0 {
		return nil, errors.New("no enabled serial configurations found")
	}

	cfg := configs[0]
	opts := serialmux.PortOptions{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
	}
	normalized, err := opts.Normalize()
	if err != nil {
		return nil, fmt.Errorf("invalid serial configuration: %w", err)
	}

	currentSnap := m.Snapshot()
	if currentSnap.PortPath == cfg.PortPath && currentSnap.Options.Equal(normalized) {
		return &SerialReloadResult{
			Success: true,
			Message: fmt.Sprintf("Serial configuration %q already active", cfg.Name),
			Config: &SerialConfigSnapshot{
				ConfigID: cfg.ID,
				Name:     cfg.Name,
				PortPath: cfg.PortPath,
				Source:   "database",
				Options:  normalized,
			},
		}, nil
	}

	// Close the old mux BEFORE opening the new one. Serial ports cannot be
	// opened twice, and the new configuration may use the same device with
	// different settings.
	m.mu.Lock()
	oldMux := m.current
	m.current = nil
	m.mu.Unlock()

	if oldMux != nil {
		log.Printf("Closing current serial mux before reload...")
		if err := oldMux.Close(); err != nil {
			log.Printf("warning: failed to close previous serial mux: %v", err)
		}
	}

	newMux, err := m.factory(cfg.PortPath, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.PortPath, err)
	}

	if err := initializeForModel(newMux, cfg.ControllerModel); err != nil {
		newMux.Close()
		return nil, fmt.Errorf("failed to initialize serial port: %w", err)
	}

	// The new device starts from scratch; drop status values reported by the
	// old controller so the status API doesn't mix firmware generations.
	sorter.ResetStatus()

	m.mu.Lock()
	snap := SerialConfigSnapshot{
		ConfigID: cfg.ID,
		Name:     cfg.Name,
		PortPath: cfg.PortPath,
		Source:   "database",
		Options:  normalized,
	}
	m.current = newMux
	m.snapshot = &snap
	m.mu.Unlock()

	return &SerialReloadResult{
		Success: true,
		Message: fmt.Sprintf("Reloaded serial configuration %q", cfg.Name),
		Config:  &snap,
	}, nil
}

// initializeForModel brings a freshly opened controller to a known state. A
// recognised controller model runs its registered init command sequence;
// anything else falls back to the generic Initialize.
func initializeForModel(mux serialmux.SerialMuxInterface, modelSlug string) error {
	model, ok := GetControllerModel(modelSlug)
	if !ok {
		return mux.Initialize()
	}
	for _, command := range model.InitCommands {
		if err := mux.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send init command %q: %w", command, err)
		}
	}
	return nil
}

// handleSerialReload handles POST /api/serial/reload - apply the enabled
// database configuration to the live port.
func (s *Server) handleSerialReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	mgr, ok := s.m.(*SerialPortManager)
	if !ok {
		httputil.WriteJSONError(w, http.StatusConflict, "serial reload not supported in this mode")
		return
	}

	result, err := mgr.ReloadConfig(r.Context())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("reload failed: %v", err))
		return
	}

	httputil.WriteJSONOK(w, result)
}
