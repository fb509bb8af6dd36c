// Package db is the sqlite store for the sorting station: one row per
// classifier observation, one row per finalized decision, plus the serial
// port configuration for the controller. Schema is managed through embedded
// migrations (see migrations/README.md).
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/refuseworks/binsort/internal/category"
)

type DB struct {
	*sql.DB
}

// openDSN appends the session pragmas to the sqlite DSN. Pragmas set through
// the DSN apply to every pooled connection, which Exec-based pragmas do not.
func openDSN(path string) string {
	return "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=temp_store(MEMORY)"
}

// OpenDB opens the database without touching the schema. The migrate CLI
// uses this so migrations stay the only code path that alters tables.
func OpenDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", openDSN(path))
	if err != nil {
		return nil, err
	}
	return &DB{sqlDB}, nil
}

// NewDB opens the database and applies any pending embedded migrations.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	migrations, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := db.MigrateUp(migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// NewDBWithMigrationCheck opens the database and verifies the schema version
// against the newest embedded migration. With autoMigrate set, pending
// migrations are applied; otherwise an out-of-date schema is an error telling
// the operator to run `binsort migrate up`.
func NewDBWithMigrationCheck(path string, autoMigrate bool) (*DB, error) {
	if autoMigrate {
		return NewDB(path)
	}

	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	migrations, err := getMigrationsFS()
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := db.CheckMigrations(migrations); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Observation is one classifier result for one captured frame.
type Observation struct {
	ID         int64   `json:"id"`
	CycleID    string  `json:"cycle_id"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	ImagePath  string  `json:"image_path"`
	ObservedAt int64   `json:"observed_at"`
}

func (o *Observation) String() string {
	return fmt.Sprintf(
		"CycleID: %s, Category: %s, Confidence: %.3f, ImagePath: %s",
		o.CycleID, o.Category, o.Confidence, o.ImagePath,
	)
}

// RecordObservation stores a single classifier result. observed_at is filled
// in by the database.
func (db *DB) RecordObservation(cycleID string, c category.Category, confidence float64, imagePath string) error {
	_, err := db.Exec(
		`INSERT INTO observations (cycle_id, category, confidence, image_path)
		 VALUES (?, ?, ?, ?)`,
		cycleID, string(c), confidence, imagePath,
	)
	if err != nil {
		return fmt.Errorf("failed to record observation: %w", err)
	}
	return nil
}

// RecentObservations returns the newest observations, newest first. A limit
// of zero or less falls back to 100; the cap keeps the API responses bounded.
func (db *DB) RecentObservations(limit int) ([]Observation, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := db.Query(
		`SELECT id, cycle_id, category, confidence, image_path, observed_at
		 FROM observations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	var observations []Observation
	for rows.Next() {
		var o Observation
		if err := rows.Scan(&o.ID, &o.CycleID, &o.Category, &o.Confidence, &o.ImagePath, &o.ObservedAt); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		observations = append(observations, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return observations, nil
}

// Decision is one finalized sort decision for one item cycle.
type Decision struct {
	ID         int64  `json:"id"`
	CycleID    string `json:"cycle_id"`
	Category   string `json:"category"`
	CycleCount int64  `json:"cycle_count"`
	DecidedAt  int64  `json:"decided_at"`
}

func (d *Decision) String() string {
	return fmt.Sprintf(
		"CycleID: %s, Category: %s, CycleCount: %d",
		d.CycleID, d.Category, d.CycleCount,
	)
}

// RecordDecision stores a finalized decision. cycleCount is the running
// number of items sorted into the decided category.
func (db *DB) RecordDecision(cycleID string, c category.Category, cycleCount int64) error {
	_, err := db.Exec(
		`INSERT INTO decisions (cycle_id, category, cycle_count)
		 VALUES (?, ?, ?)`,
		cycleID, string(c), cycleCount,
	)
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}
	return nil
}

// RecentDecisions returns the newest decisions, newest first.
func (db *DB) RecentDecisions(limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := db.Query(
		`SELECT id, cycle_id, category, cycle_count, decided_at
		 FROM decisions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []Decision
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.ID, &d.CycleID, &d.Category, &d.CycleCount, &d.DecidedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return decisions, nil
}

// CategoryRollup summarizes finalized decisions for one category, with the
// classifier confidence aggregated from the observations of the same period.
type CategoryRollup struct {
	Category      string  `json:"category"`
	Decisions     int64   `json:"decisions"`
	AvgConfidence float64 `json:"avg_confidence"`
	MaxConfidence float64 `json:"max_confidence"`
}

// DecisionRollup groups decisions of the last N days by category. days of
// zero or less means all time. Categories with no decisions are absent;
// callers wanting zero rows merge against the registry themselves.
func (db *DB) DecisionRollup(days int) ([]CategoryRollup, error) {
	var cutoff int64
	if days > 0 {
		cutoff = time.Now().AddDate(0, 0, -days).Unix()
	}

	rows, err := db.Query(`
		SELECT d.category,
		       d.decisions,
		       COALESCE(o.avg_confidence, 0),
		       COALESCE(o.max_confidence, 0)
		FROM (
		    SELECT category, COUNT(*) AS decisions
		    FROM decisions
		    WHERE decided_at >= ?
		    GROUP BY category
		) d
		LEFT JOIN (
		    SELECT category,
		           AVG(confidence) AS avg_confidence,
		           MAX(confidence) AS max_confidence
		    FROM observations
		    WHERE observed_at >= ?
		    GROUP BY category
		) o ON o.category = d.category
		ORDER BY d.decisions DESC, d.category ASC`,
		cutoff, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query decision rollup: %w", err)
	}
	defer rows.Close()

	var rollups []CategoryRollup
	for rows.Next() {
		var r CategoryRollup
		if err := rows.Scan(&r.Category, &r.Decisions, &r.AvgConfidence, &r.MaxConfidence); err != nil {
			return nil, fmt.Errorf("failed to scan rollup row: %w", err)
		}
		rollups = append(rollups, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return rollups, nil
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://binsort.db", db.DB, &tailsql.DBOptions{
		Label: "Sorter DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("binsort-backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		// Send the backup file to the client
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()

		// Copy the backup file content to the gzip writer
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
