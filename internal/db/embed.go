package db

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
)

//go:embed migrations
var migrationsFS embed.FS

// DevMode switches getMigrationsFS to the on-disk migration files so that a
// new migration can be iterated on without rebuilding the binary.
var DevMode = false

// localMigrationsDir is where the migration files live relative to the
// repository root. Only consulted in dev mode.
const localMigrationsDir = "internal/db/migrations"

// getMigrationsFS returns the migration source: the embedded copy in
// production, the working-tree copy in dev mode.
func getMigrationsFS() (fs.FS, error) {
	if DevMode {
		if _, err := os.Stat(localMigrationsDir); err != nil {
			return nil, fmt.Errorf("dev mode: cannot read %s: %w", localMigrationsDir, err)
		}
		return os.DirFS(localMigrationsDir), nil
	}
	return fs.Sub(migrationsFS, "migrations")
}
