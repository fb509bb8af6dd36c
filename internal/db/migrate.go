package db

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrateUp applies every pending migration. Running it against an
// up-to-date schema is a no-op.
func (db *DB) MigrateUp(migrations fs.FS) error {
	err := db.step(migrations, func(m *migrate.Migrate) error { return m.Up() })
	if err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (db *DB) MigrateDown(migrations fs.FS) error {
	err := db.step(migrations, func(m *migrate.Migrate) error { return m.Steps(-1) })
	if err != nil {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// MigrateTo migrates up or down until the schema sits at version.
func (db *DB) MigrateTo(migrations fs.FS, version uint) error {
	err := db.step(migrations, func(m *migrate.Migrate) error { return m.Migrate(version) })
	if err != nil {
		return fmt.Errorf("migration to version %d failed: %w", version, err)
	}
	return nil
}

// MigrateForce overwrites the recorded schema version without running any
// migration and clears the dirty flag. Recovery tool only.
func (db *DB) MigrateForce(migrations fs.FS, version int) error {
	err := db.step(migrations, func(m *migrate.Migrate) error { return m.Force(version) })
	if err != nil {
		return fmt.Errorf("force to version %d failed: %w", version, err)
	}
	return nil
}

// MigrateVersion reports the applied schema version and the dirty flag.
// A database no migration has touched yet reports version 0, clean.
func (db *DB) MigrateVersion(migrations fs.FS) (version uint, dirty bool, err error) {
	m, err := db.newMigrate(migrations)
	if err != nil {
		return 0, false, err
	}

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// MigrationStatus describes where the schema stands relative to the
// available migrations.
type MigrationStatus struct {
	Version     uint // applied version, 0 if none
	Latest      uint // newest version in the migration source
	Dirty       bool
	TableExists bool // schema_migrations bookkeeping table present
}

// Pending reports how many migrations have not been applied yet.
func (s MigrationStatus) Pending() uint {
	if s.Latest <= s.Version {
		return 0
	}
	return s.Latest - s.Version
}

// GetMigrationStatus collects the applied schema version, the newest
// available migration, and whether the bookkeeping table exists.
func (db *DB) GetMigrationStatus(migrations fs.FS) (MigrationStatus, error) {
	var status MigrationStatus

	version, dirty, err := db.MigrateVersion(migrations)
	if err != nil {
		return status, fmt.Errorf("read schema version: %w", err)
	}
	status.Version = version
	status.Dirty = dirty

	status.Latest, err = GetLatestMigrationVersion(migrations)
	if err != nil {
		return status, err
	}

	err = db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='schema_migrations'
	`).Scan(&status.TableExists)
	if err != nil {
		return status, fmt.Errorf("check schema_migrations table: %w", err)
	}

	return status, nil
}

// GetLatestMigrationVersion scans the migration source for the highest
// versioned up migration. Filenames follow 000001_name.up.sql.
func GetLatestMigrationVersion(migrations fs.FS) (uint, error) {
	names, err := fs.Glob(migrations, "*.up.sql")
	if err != nil {
		return 0, fmt.Errorf("list migrations: %w", err)
	}

	var latest uint64
	for _, name := range names {
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			continue
		}
		if v > latest {
			latest = v
		}
	}
	if latest == 0 {
		return 0, fmt.Errorf("no migration files found")
	}
	return uint(latest), nil
}

// CheckMigrations verifies the schema is at the newest available migration.
// A nil return means the schema is current and clean.
func (db *DB) CheckMigrations(migrations fs.FS) error {
	status, err := db.GetMigrationStatus(migrations)
	if err != nil {
		return err
	}

	switch {
	case status.Dirty:
		return fmt.Errorf("database is in a dirty state (version %d); run 'binsort migrate status' to diagnose", status.Version)
	case status.Version > status.Latest:
		return fmt.Errorf("database version (%d) is ahead of latest migration (%d); this binary is older than the database", status.Version, status.Latest)
	case status.Version == status.Latest:
		return nil
	}

	log.Printf("Database schema is behind: version %d, latest %d (%d pending)", status.Version, status.Latest, status.Pending())
	log.Printf("Run 'binsort migrate up' to apply the outstanding migrations")
	return fmt.Errorf("database schema is out of date (version %d, need %d); please run migrations", status.Version, status.Latest)
}

// step builds a migrate instance and runs one operation against it, treating
// ErrNoChange as success so repeated runs are harmless.
func (db *DB) step(migrations fs.FS, op func(*migrate.Migrate) error) error {
	m, err := db.newMigrate(migrations)
	if err != nil {
		return err
	}
	if err := op(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// newMigrate wires a migrate instance to db's live connection, reading from
// the given migration source (embedded in production, a temp directory in
// tests). The instance is never closed: golang-migrate's Close also closes
// the shared *sql.DB out from under the rest of the process.
func (db *DB) newMigrate(migrations fs.FS) (*migrate.Migrate, error) {
	src, err := iofs.New(migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("open migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("wrap sqlite connection: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, err
	}
	m.Log = migrateLogger{}
	return m, nil
}

// migrateLogger routes golang-migrate's progress output through the standard
// logger so it lands in the journal with everything else.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) { log.Printf("[migrate] "+format, v...) }
func (migrateLogger) Verbose() bool                  { return false }
