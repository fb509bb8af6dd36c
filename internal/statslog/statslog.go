// Package statslog maintains the append-only CSV tally log that survives
// station restarts. Each finalized decision appends one row; on startup the
// log is replayed to re-derive per-category totals.
package statslog

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"sync"

	"github.com/refuseworks/binsort/internal/category"
	"github.com/refuseworks/binsort/internal/fsutil"
	"github.com/refuseworks/binsort/internal/monitoring"
	"github.com/refuseworks/binsort/internal/timeutil"
)

// timestampLayout matches the format historical logs were written with, so
// old files keep reloading after upgrades.
const timestampLayout = "2006-01-02 15:04:05"

var header = []string{"Timestamp", "Category", "Count"}

// StatsLog appends decision rows to a CSV file and replays them on startup.
type StatsLog struct {
	mu    sync.Mutex
	fs    fsutil.FileSystem
	path  string
	clock timeutil.Clock
}

// New creates a StatsLog writing to path on the given filesystem. A nil
// clock falls back to the real clock.
func New(filesystem fsutil.FileSystem, path string, clock timeutil.Clock) *StatsLog {
	if filesystem == nil {
		filesystem = fsutil.NewOSFileSystem()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &StatsLog{fs: filesystem, path: path, clock: clock}
}

// Path returns the log file location.
func (s *StatsLog) Path() string {
	return s.path
}

// Record appends one row for a finalized decision. count is the cumulative
// total for the category at the time of the decision; it is stored for
// operators reading the raw file but ignored on reload.
func (s *StatsLog) Record(c category.Category, count int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := !s.fs.Exists(s.path)

	w, err := s.fs.Append(s.path)
	if err != nil {
		return fmt.Errorf("failed to open stats log: %w", err)
	}
	defer w.Close()

	cw := csv.NewWriter(w)
	if fresh {
		if err := cw.Write(header); err != nil {
			return fmt.Errorf("failed to write stats log header: %w", err)
		}
	}

	row := []string{
		s.clock.Now().Format(timestampLayout),
		string(c),
		strconv.FormatInt(count, 10),
	}
	if err := cw.Write(row); err != nil {
		return fmt.Errorf("failed to write stats log row: %w", err)
	}

	cw.Flush()
	return cw.Error()
}

// Reload replays the log and returns per-category totals derived by counting
// rows. The stored Count column is deliberately ignored: counting rows keeps
// the totals correct even if a crash left a stale cumulative value behind.
// A missing file yields an empty map.
func (s *StatsLog) Reload() (map[category.Category]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[category.Category]int64)

	if !s.fs.Exists(s.path) {
		return counts, nil
	}

	data, err := s.fs.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats log: %w", err)
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1 // tolerate short rows from interrupted writes

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse stats log: %w", err)
	}

	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == header[0] {
			continue
		}
		if len(row) < 2 {
			monitoring.Logf("stats log: skipping malformed row %d: %v", i+1, row)
			continue
		}

		c, ok := category.Parse(row[1])
		if !ok {
			// Rows written before a category was retired still count,
			// just under Unknown.
			monitoring.Logf("stats log: row %d has unregistered category %q", i+1, row[1])
		}
		counts[c]++
	}

	return counts, nil
}
