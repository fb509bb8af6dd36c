// Package station runs the sorting loop: controller events and spooled
// camera frames in, finalized decisions out to the stats log, the database
// and the sorter controller.
//
// The loop is deliberately sequential where it matters: spool frames are
// classified one at a time on the poll goroutine, so observations reach the
// aggregator in capture order. Decision side effects (CSV row, database row,
// result frame) are all best-effort; a failing sink is logged and the loop
// keeps running.
package station

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/refuseworks/binsort/internal/category"
	"github.com/refuseworks/binsort/internal/classify"
	"github.com/refuseworks/binsort/internal/db"
	"github.com/refuseworks/binsort/internal/decision"
	"github.com/refuseworks/binsort/internal/fsutil"
	"github.com/refuseworks/binsort/internal/monitoring"
	"github.com/refuseworks/binsort/internal/serialmux"
	"github.com/refuseworks/binsort/internal/sorter"
	"github.com/refuseworks/binsort/internal/statslog"
	"github.com/refuseworks/binsort/internal/timeutil"
)

// DefaultPollInterval is how often the spool directory is scanned when the
// configuration does not say otherwise.
const DefaultPollInterval = 500 * time.Millisecond

// Config carries the station loop settings plus the injectable filesystem
// and clock used by tests.
type Config struct {
	// SpoolDir is where the capture process drops frames to classify.
	SpoolDir string

	// ProcessedDir is where classified frames are archived. Created on Run
	// if missing.
	ProcessedDir string

	// PollInterval is the spool scan period. Zero means DefaultPollInterval.
	PollInterval time.Duration

	// FileSystem defaults to the OS filesystem.
	FileSystem fsutil.FileSystem

	// Clock defaults to the real clock.
	Clock timeutil.Clock
}

// Station couples the serial mux, the classifier and the decision aggregator
// and pumps data between them until its context is cancelled.
type Station struct {
	mux        serialmux.SerialMuxInterface
	classifier classify.Classifier
	agg        *decision.Aggregator
	stats      *statslog.StatsLog
	db         *db.DB
	comm       *sorter.Communicator

	fs           fsutil.FileSystem
	clock        timeutil.Clock
	spoolDir     string
	processedDir string
	pollInterval time.Duration

	mu    sync.Mutex
	armed bool // controller reported TRIGGER; cleared on DONE
}

// New builds a Station. database may be nil when running without the event
// store; every other dependency is required.
func New(mux serialmux.SerialMuxInterface, classifier classify.Classifier, agg *decision.Aggregator, stats *statslog.StatsLog, database *db.DB, cfg Config) *Station {
	fs := cfg.FileSystem
	if fs == nil {
		fs = fsutil.NewOSFileSystem()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	processed := cfg.ProcessedDir
	if processed == "" {
		processed = filepath.Join(cfg.SpoolDir, "processed")
	}

	return &Station{
		mux:          mux,
		classifier:   classifier,
		agg:          agg,
		stats:        stats,
		db:           database,
		comm:         sorter.NewCommunicator(mux),
		fs:           fs,
		clock:        clock,
		spoolDir:     cfg.SpoolDir,
		processedDir: processed,
		pollInterval: interval,
	}
}

// Armed reports whether the controller has announced an item (TRIGGER) whose
// sort cycle has not completed (DONE) yet.
func (s *Station) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

func (s *Station) setArmed(armed bool) {
	s.mu.Lock()
	s.armed = armed
	s.mu.Unlock()
}

// Run starts the monitor, event, spool, and decision goroutines and blocks
// until ctx is cancelled and all of them have drained.
func (s *Station) Run(ctx context.Context) error {
	if err := s.fs.MkdirAll(s.spoolDir, 0755); err != nil {
		return err
	}
	if err := s.fs.MkdirAll(s.processedDir, 0755); err != nil {
		return err
	}

	var wg sync.WaitGroup

	// Serial IO pump. The mux reads controller lines and fans them out to
	// subscribers for as long as the context lives.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Logf("station: serial monitor terminated: %v", err)
		}
	}()

	// Controller event loop.
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runEventLoop(ctx)
	}()

	// Spool scanner.
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runSpoolLoop(ctx)
	}()

	// Decision sink.
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runDecisionLoop(ctx)
	}()

	wg.Wait()
	return nil
}

// handlers routes controller events into the station. TRIGGER arms the
// capture cycle; DONE means the arm finished sorting, so the aggregator
// starts a fresh cycle for the next item.
func (s *Station) handlers() sorter.Handlers {
	return sorter.Handlers{
		OnTrigger: func(payload string) {
			s.setArmed(true)
			if payload != "" {
				monitoring.Logf("station: capture triggered (%s)", payload)
			} else {
				monitoring.Logf("station: capture triggered")
			}
		},
		OnDone: func(payload string) {
			s.setArmed(false)
			s.agg.Reset()
			monitoring.Logf("station: sort cycle complete, new cycle %s", s.agg.CycleID())
		},
		OnError: func(message string) {
			s.setArmed(false)
		},
	}
}

func (s *Station) runEventLoop(ctx context.Context) {
	id, lines := s.mux.Subscribe()
	defer s.mux.Unsubscribe(id)

	h := s.handlers()
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := sorter.HandleLine(h, line); err != nil {
				monitoring.Logf("station: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *Station) runSpoolLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			s.scanSpool(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// scanSpool classifies every image currently in the spool, oldest name
// first, and archives each one afterwards. Frames that fail classification
// are archived too; leaving them behind would retry them on every tick.
func (s *Station) scanSpool(ctx context.Context) {
	entries, err := s.fs.ReadDir(s.spoolDir)
	if err != nil {
		monitoring.Logf("station: failed to read spool: %v", err)
		return
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() || !isImageName(entry.Name()) {
			continue
		}
		s.processFrame(ctx, filepath.Join(s.spoolDir, entry.Name()))
	}
}

// processFrame runs one spooled frame through the classifier, delivers the
// verdict to the aggregator, and archives the file.
func (s *Station) processFrame(ctx context.Context, path string) {
	result, err := s.classifier.Classify(ctx, path)
	if err != nil {
		// Classifier failures never reach the aggregator.
		monitoring.Logf("station: classification failed for %s: %v", path, err)
		s.archive(path)
		return
	}

	cat, registered := category.Parse(result.Category)
	if !registered {
		monitoring.Logf("station: unregistered label %q for %s", result.Category, path)
	}

	s.agg.Observe(cat)
	if s.db != nil {
		if err := s.db.RecordObservation(s.agg.CycleID(), cat, result.Confidence, path); err != nil {
			monitoring.Logf("station: failed to record observation: %v", err)
		}
	}

	s.archive(path)
}

func (s *Station) archive(path string) {
	dest := filepath.Join(s.processedDir, filepath.Base(path))
	if err := s.fs.Rename(path, dest); err != nil {
		monitoring.Logf("station: failed to archive %s: %v", path, err)
	}
}

// runDecisionLoop applies each finalized decision to the sinks: the CSV
// tally log, the database, and the controller's result frame. Every sink is
// best-effort.
func (s *Station) runDecisionLoop(ctx context.Context) {
	for {
		select {
		case d := <-s.agg.Decisions():
			s.handleDecision(d)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Station) handleDecision(d decision.Decision) {
	monitoring.Logf("station: cycle %s finalized as %s (rule %s, total %d)",
		d.CycleID, d.Category, d.Rule, d.CycleCount)

	if s.stats != nil {
		if err := s.stats.Record(d.Category, d.CycleCount); err != nil {
			monitoring.Logf("station: failed to append stats log: %v", err)
		}
	}
	if s.db != nil {
		if err := s.db.RecordDecision(d.CycleID, d.Category, d.CycleCount); err != nil {
			monitoring.Logf("station: failed to record decision: %v", err)
		}
	}
	if err := s.comm.SendResult(d.Category); err != nil {
		monitoring.Logf("station: failed to send result frame: %v", err)
	}
}

// isImageName reports whether a spool entry looks like a captured frame.
// Hidden files are skipped so partially written captures (dotfile rename
// pattern) are never picked up.
func isImageName(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}
