package db

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
)

// RunMigrateCommand dispatches the 'migrate' subcommand against the station
// database. The connection is opened without schema initialization so the
// migration machinery stays the only code path that alters tables.
func RunMigrateCommand(args []string, dbPath string) {
	if len(args) == 0 {
		PrintMigrateHelp()
		os.Exit(1)
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp()
		return
	}

	migrations, err := getMigrationsFS()
	if err != nil {
		log.Fatalf("Failed to load migrations: %v", err)
	}

	database, err := OpenDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to open %s: %v", dbPath, err)
	}
	defer database.Close()

	switch action {
	case "up":
		err = migrateUp(database, migrations)
	case "down":
		err = migrateDown(database, migrations)
	case "status":
		err = reportMigrateStatus(database, migrations)
	case "version":
		var target uint
		if target, err = migrateVersionArg(args); err == nil {
			err = migrateToVersion(database, migrations, target)
		}
	case "force":
		var target uint
		if target, err = migrateVersionArg(args); err == nil {
			err = forceMigrateVersion(database, migrations, target, os.Stdin)
		}
	default:
		fmt.Printf("Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", action, err)
	}
}

// migrateVersionArg reads the numeric argument for the version and force
// actions.
func migrateVersionArg(args []string) (uint, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("missing version number (usage: binsort migrate %s <N>)", args[0])
	}
	n, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid version number %q", args[1])
	}
	return uint(n), nil
}

func migrateUp(database *DB, migrations fs.FS) error {
	log.Printf("Applying pending migrations...")
	if err := database.MigrateUp(migrations); err != nil {
		return err
	}
	log.Printf("All migrations applied")
	logSchemaVersion(database, migrations)
	return nil
}

func migrateDown(database *DB, migrations fs.FS) error {
	log.Printf("Rolling back one migration...")
	if err := database.MigrateDown(migrations); err != nil {
		return err
	}
	log.Printf("Migration rolled back")
	logSchemaVersion(database, migrations)
	return nil
}

// logSchemaVersion echoes where the schema landed after an up or down.
func logSchemaVersion(database *DB, migrations fs.FS) {
	version, dirty, err := database.MigrateVersion(migrations)
	switch {
	case err != nil:
		log.Printf("Schema version unknown: %v", err)
	case dirty:
		log.Printf("Schema version: %d (dirty)", version)
	default:
		log.Printf("Schema version: %d", version)
	}
}

func reportMigrateStatus(database *DB, migrations fs.FS) error {
	status, err := database.GetMigrationStatus(migrations)
	if err != nil {
		return err
	}

	fmt.Printf("Schema version:    %d (latest available: %d)\n", status.Version, status.Latest)
	fmt.Printf("Dirty:             %v\n", status.Dirty)
	fmt.Printf("Migrations table:  %v\n", status.TableExists)

	switch {
	case status.Dirty:
		fmt.Println()
		fmt.Println("A migration failed partway through. Inspect the database, repair the")
		fmt.Println("schema by hand, then run: binsort migrate force <version>")
	case status.Pending() > 0:
		fmt.Printf("\n%d migration(s) pending. Run 'binsort migrate up' to apply them.\n", status.Pending())
	default:
		fmt.Println("\nSchema is up to date.")
	}
	return nil
}

func migrateToVersion(database *DB, migrations fs.FS, version uint) error {
	log.Printf("Migrating to version %d...", version)
	if err := database.MigrateTo(migrations, version); err != nil {
		return err
	}
	log.Printf("Schema now at version %d", version)
	return nil
}

// forceMigrateVersion rewrites the recorded schema version after asking for
// confirmation on the given reader (stdin outside of tests).
func forceMigrateVersion(database *DB, migrations fs.FS, version uint, confirm io.Reader) error {
	fmt.Printf("Forcing the recorded schema version to %d without running migrations.\n", version)
	fmt.Println("Only do this to recover from a dirty state.")
	fmt.Print("Continue? [y/N]: ")

	answer, _ := bufio.NewReader(confirm).ReadString('\n')
	if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
		fmt.Println("Aborted.")
		return nil
	}

	if err := database.MigrateForce(migrations, int(version)); err != nil {
		return err
	}
	log.Printf("Schema version forced to %d", version)
	return nil
}

const migrateHelp = `Database migrations for the station database.

Usage: binsort migrate <command> [options]

Commands:
  up              Apply all pending migrations
  down            Roll back the most recent migration
  status          Show the schema version and pending migrations
  version <N>     Migrate up or down until the schema is at version N
  force <N>       Overwrite the recorded version without running migrations
                  (recovery from a dirty state only)
  help            Show this help message

Options:
  -db-path <path>    Path to the sqlite database (default: binsort.db)

Migration files are embedded in the binary; see internal/db/migrations/README.md.
`

// PrintMigrateHelp writes the usage text for the migrate subcommand.
func PrintMigrateHelp() {
	fmt.Print(migrateHelp)
}
