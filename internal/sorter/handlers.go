package sorter

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/refuseworks/binsort/internal/monitoring"
)

// currentStatus holds the latest status values received from the controller.
// The station overwrites keys as new status reports arrive; admin routes and
// tests read it through StatusSnapshot.
var (
	statusMu      sync.Mutex
	currentStatus map[string]any
)

// StatusSnapshot returns a copy of the most recent controller status values.
func StatusSnapshot() map[string]any {
	statusMu.Lock()
	defer statusMu.Unlock()

	snapshot := make(map[string]any, len(currentStatus))
	for k, v := range currentStatus {
		snapshot[k] = v
	}
	return snapshot
}

// ResetStatus clears the recorded controller status. Used by tests and when
// the serial connection is reopened against a different device.
func ResetStatus() {
	statusMu.Lock()
	defer statusMu.Unlock()
	currentStatus = nil
}

// Handlers carries the callbacks invoked for each controller event type.
// Nil callbacks are skipped, so consumers subscribe to only the events they
// care about.
type Handlers struct {
	OnReady   func()
	OnTrigger func(payload string)
	OnDone    func(payload string)
	OnError   func(message string)
	OnStatus  func(status map[string]any)
}

// HandleStatusReport merges a JSON status line from the controller into the
// package status map.
func HandleStatusReport(payload string) (map[string]any, error) {
	var values map[string]any
	if err := json.Unmarshal([]byte(payload), &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status report: %v", err)
	}

	statusMu.Lock()
	if currentStatus == nil {
		currentStatus = make(map[string]any)
	}
	for k, v := range values {
		currentStatus[k] = v
	}
	statusMu.Unlock()

	monitoring.Logf("controller status: %s", payload)
	return values, nil
}

// HandleLine dispatches a controller line to the matching handler.
func HandleLine(h Handlers, line string) error {
	switch ClassifyLine(line) {
	case EventTypeReady:
		monitoring.Logf("controller ready")
		if h.OnReady != nil {
			h.OnReady()
		}
	case EventTypeTrigger:
		if h.OnTrigger != nil {
			h.OnTrigger(EventPayload(line))
		}
	case EventTypeDone:
		if h.OnDone != nil {
			h.OnDone(EventPayload(line))
		}
	case EventTypeError:
		monitoring.Logf("controller error: %s", line)
		if h.OnError != nil {
			h.OnError(EventPayload(line))
		}
	case EventTypeStatus:
		values, err := HandleStatusReport(line)
		if err != nil {
			return fmt.Errorf("failed to handle status report: %v", err)
		}
		if h.OnStatus != nil {
			h.OnStatus(values)
		}
	default:
		monitoring.Logf("unknown controller line: %s", line)
	}
	return nil
}
