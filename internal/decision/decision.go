// Package decision implements the classification aggregator for the sorting
// station: it turns a noisy stream of per-frame category labels into a single
// stable decision per sort cycle, while tracking cumulative per-category
// totals.
//
// Two finalisation predicates are evaluated on every observation, in order:
//
//  1. Consecutive match: the most recent ConsecutiveThreshold observations
//     are identical (fast path when the signal is unambiguous).
//  2. Window majority: the window is full and some category occurs at least
//     MajorityThreshold times within it (slow path when consensus builds
//     gradually).
//
// Both rules finalise with the most recently observed category. That is the
// documented behaviour even when it differs from the majority category near
// the window boundary; callers wanting the majority label instead should not
// assume it here.
package decision

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/refuseworks/binsort/internal/category"
	"github.com/refuseworks/binsort/internal/monitoring"
	"github.com/refuseworks/binsort/internal/timeutil"
)

// Rule identifies which predicate finalised a cycle.
type Rule string

const (
	RuleConsecutive Rule = "consecutive" // trailing observations identical
	RuleMajority    Rule = "majority"    // category reached threshold in a full window
)

// Constants for aggregator configuration
const (
	// DefaultWindowSize is the bounded length of the recent-observation window
	DefaultWindowSize = 10
	// DefaultConsecutiveThreshold is the run length of identical trailing
	// observations that finalises a cycle
	DefaultConsecutiveThreshold = 2
	// decisionBuffer is the capacity of the outbound decision channel
	decisionBuffer = 8
)

// Config holds the aggregator decision thresholds.
type Config struct {
	WindowSize           int // Bounded recent-observation window length
	ConsecutiveThreshold int // Identical trailing observations that finalise immediately
	MajorityThreshold    int // In-window occurrences that finalise once the window is full; 0 derives (WindowSize+1)/2
}

// DefaultConfig returns the station's production thresholds.
func DefaultConfig() Config {
	return Config{
		WindowSize:           DefaultWindowSize,
		ConsecutiveThreshold: DefaultConsecutiveThreshold,
		MajorityThreshold:    0, // derived from WindowSize
	}
}

// Normalize fills zero or negative fields with defaults and returns the result.
func (c Config) Normalize() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.ConsecutiveThreshold <= 0 {
		c.ConsecutiveThreshold = DefaultConsecutiveThreshold
	}
	if c.MajorityThreshold <= 0 {
		c.MajorityThreshold = (c.WindowSize + 1) / 2
	}
	return c
}

// Decision is a finalised classification for one sort cycle.
type Decision struct {
	ID         string            `json:"id"`
	CycleID    string            `json:"cycle_id"`
	Category   category.Category `json:"category"`
	CycleCount int64             `json:"cycle_count"` // category tally after this decision
	Rule       Rule              `json:"rule"`
	DecidedAt  time.Time         `json:"decided_at"`
}

// Snapshot is a point-in-time view of the aggregator for status reporting.
type Snapshot struct {
	CycleID   string                      `json:"cycle_id"`
	Window    []category.Category         `json:"window"`
	Finalized bool                        `json:"finalized"`
	Current   category.Category           `json:"current,omitempty"`
	Tally     map[category.Category]int64 `json:"tally"`
}

// Aggregator consumes a stream of category observations and emits at most one
// Decision per sort cycle. All methods are safe for concurrent use; delivery
// order within a cycle is the caller's interleaving under the internal lock.
type Aggregator struct {
	mu        sync.Mutex
	config    Config
	clock     timeutil.Clock
	window    []category.Category
	tally     map[category.Category]int64
	finalized bool
	current   category.Category
	cycleID   string
	decisions chan Decision
}

// New creates an Aggregator with the given configuration. Zero-valued config
// fields fall back to defaults. A nil clock uses the real time source.
func New(config Config, clock timeutil.Clock) *Aggregator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	config = config.Normalize()

	a := &Aggregator{
		config:    config,
		clock:     clock,
		window:    make([]category.Category, 0, config.WindowSize),
		tally:     newTally(),
		cycleID:   newCycleID(),
		decisions: make(chan Decision, decisionBuffer),
	}
	return a
}

// newTally builds a zeroed tally covering every known category, including
// the Unknown sentinel.
func newTally() map[category.Category]int64 {
	tally := make(map[category.Category]int64, len(category.Registered)+1)
	for _, c := range category.Registered {
		tally[c] = 0
	}
	tally[category.Unknown] = 0
	return tally
}

func newCycleID() string {
	return fmt.Sprintf("cyc_%s", uuid.NewString())
}

// Decisions returns the channel on which finalised decisions are delivered.
// Delivery is non-blocking from the aggregator's side: if the consumer falls
// behind the buffer, decisions are dropped with a log line rather than
// stalling Observe.
func (a *Aggregator) Decisions() <-chan Decision {
	return a.decisions
}

// Config returns the normalized configuration in effect.
func (a *Aggregator) Config() Config {
	return a.config
}

// CycleID returns the identifier of the aggregation cycle in progress.
func (a *Aggregator) CycleID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cycleID
}

// Observe records one classification result. The observation always enters
// the window (evicting the oldest entry at capacity); the finalisation
// predicates run only while the cycle is still undecided. Unknown is a valid
// observation and participates like any registered category.
func (a *Aggregator) Observe(c category.Category) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.window = append(a.window, c)
	if len(a.window) > a.config.WindowSize {
		a.window = a.window[1:]
	}

	if a.finalized {
		return
	}

	if rule, ok := a.checkFinalization(); ok {
		a.finalize(c, rule)
	}
}

// checkFinalization evaluates the consecutive rule then the majority rule
// against the current window. Caller must hold the lock.
func (a *Aggregator) checkFinalization() (Rule, bool) {
	size := len(a.window)

	// Consecutive match: trailing run of identical observations.
	if size >= a.config.ConsecutiveThreshold {
		last := a.window[size-1]
		run := true
		for i := size - a.config.ConsecutiveThreshold; i < size; i++ {
			if a.window[i] != last {
				run = false
				break
			}
		}
		if run {
			return RuleConsecutive, true
		}
	}

	// Window majority: any category at threshold once the window is full.
	if size >= a.config.WindowSize {
		counts := make(map[category.Category]int, size)
		for _, c := range a.window {
			counts[c]++
		}
		for _, n := range counts {
			if n >= a.config.MajorityThreshold {
				return RuleMajority, true
			}
		}
	}

	return "", false
}

// finalize commits the cycle to the triggering category, bumps its tally and
// dispatches the decision. Caller must hold the lock.
func (a *Aggregator) finalize(c category.Category, rule Rule) {
	a.finalized = true
	a.current = c
	a.tally[c]++

	d := Decision{
		ID:         fmt.Sprintf("dec_%s", uuid.NewString()),
		CycleID:    a.cycleID,
		Category:   c,
		CycleCount: a.tally[c],
		Rule:       rule,
		DecidedAt:  a.clock.Now(),
	}

	select {
	case a.decisions <- d:
	default:
		monitoring.Logf("decision: dropping %s for cycle %s (sink backlog)", d.Category, d.CycleID)
	}
}

// Reset clears the window and the finalisation flag, starting a fresh cycle.
// The tally is deliberately untouched. Idempotent.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.window = a.window[:0]
	a.finalized = false
	a.current = ""
	a.cycleID = newCycleID()
}

// Current reports the finalised category for this cycle, if any.
func (a *Aggregator) Current() (category.Category, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current, a.finalized
}

// Tally returns a defensive copy of the cumulative per-category counts.
// Every known category is present, at zero if never finalised.
func (a *Aggregator) Tally() map[category.Category]int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[category.Category]int64, len(a.tally))
	for c, n := range a.tally {
		out[c] = n
	}
	return out
}

// SeedTally loads historical counts, typically re-derived from the stats log
// at startup. Unrecognised keys and negative counts are ignored.
func (a *Aggregator) SeedTally(counts map[category.Category]int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for c, n := range counts {
		if n < 0 {
			continue
		}
		if _, known := a.tally[c]; !known {
			continue
		}
		a.tally[c] = n
	}
}

// Snapshot captures the aggregator state for status reporting. The returned
// window and tally are copies.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	window := make([]category.Category, len(a.window))
	copy(window, a.window)

	tally := make(map[category.Category]int64, len(a.tally))
	for c, n := range a.tally {
		tally[c] = n
	}

	return Snapshot{
		CycleID:   a.cycleID,
		Window:    window,
		Finalized: a.finalized,
		Current:   a.current,
		Tally:     tally,
	}
}
