package sorter

import "strings"

const (
	EventTypeReady   = "ready"
	EventTypeTrigger = "trigger"
	EventTypeDone    = "done"
	EventTypeError   = "error"
	EventTypeStatus  = "status"
	EventTypeUnknown = "unknown"
)

// ClassifyLine inspects a controller line and returns a simple event type
// token. The classification is intentionally conservative: anything the
// firmware might add after a colon is treated as payload, and unrecognized
// lines are left for the caller to log.
func ClassifyLine(line string) string {
	trimmed := strings.TrimSpace(line)
	switch {
	case trimmed == "READY":
		return EventTypeReady
	case trimmed == "TRIGGER" || strings.HasPrefix(trimmed, "TRIGGER:"):
		return EventTypeTrigger
	case trimmed == "DONE" || strings.HasPrefix(trimmed, "DONE:"):
		return EventTypeDone
	case strings.HasPrefix(trimmed, "ERR"):
		return EventTypeError
	case strings.HasPrefix(trimmed, "{"):
		return EventTypeStatus
	default:
		return EventTypeUnknown
	}
}

// EventPayload returns the text after the event token's colon, if any.
// "DONE:Metal" yields "Metal"; a bare "DONE" yields "".
func EventPayload(line string) string {
	trimmed := strings.TrimSpace(line)
	if i := strings.IndexByte(trimmed, ':'); i >= 0 {
		return strings.TrimSpace(trimmed[i+1:])
	}
	return ""
}
