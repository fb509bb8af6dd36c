package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/refuseworks/binsort/internal/deploy"
)

const (
	// serviceStopGracePeriod is how long to wait after stopping the service
	// for systemd to fully terminate the process.
	serviceStopGracePeriod = 2 * time.Second
	// serviceStartGracePeriod is how long to wait after starting the service
	// before running health checks against it.
	serviceStartGracePeriod = 3 * time.Second
)

// Upgrader swaps the installed binsort binary for a new one, backing up the
// old installation and running schema migrations on the way.
type Upgrader struct {
	Target        string
	SSHUser       string
	SSHKey        string
	IdentityAgent string
	BinaryPath    string
	DryRun        bool
	NoBackup      bool
	NoMigrate     bool

	// Exec overrides the command executor. Nil means a real one for Target.
	Exec *deploy.Executor
}

func (u *Upgrader) executor() *deploy.Executor {
	if u.Exec != nil {
		return u.Exec
	}
	return newExecutor(u.Target, u.SSHUser, u.SSHKey, u.IdentityAgent, u.DryRun)
}

// Upgrade performs the upgrade.
func (u *Upgrader) Upgrade() error {
	exec := u.executor()

	fmt.Println("Starting upgrade of binsort...")

	// Step 1: Check if service is installed
	if installed, err := u.checkInstalled(exec); err != nil {
		return fmt.Errorf("failed to check installation: %w", err)
	} else if !installed && !u.DryRun {
		return fmt.Errorf("binsort is not installed. Use 'install' command first")
	}

	// Step 2: Get current version info
	currentVersion, err := u.getCurrentVersion(exec)
	if err != nil {
		fmt.Printf("Warning: could not determine current version: %v\n", err)
		currentVersion = "unknown"
	}
	fmt.Printf("Current version: %s\n", currentVersion)

	// Step 3: Backup current installation
	if !u.NoBackup {
		if err := u.backupCurrent(exec); err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}
	} else {
		fmt.Println("Skipping backup (--no-backup flag set)")
	}

	// Step 4: Stop service
	if err := u.stopService(exec); err != nil {
		return fmt.Errorf("failed to stop service: %w", err)
	}

	// Step 5: Install new binary
	if err := u.installNewBinary(exec); err != nil {
		return fmt.Errorf("failed to install new binary: %w", err)
	}

	// Step 6: Run schema migrations
	if !u.NoMigrate {
		if err := u.runMigrations(exec); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
	} else {
		fmt.Println("Skipping migrations (--no-migrate flag set)")
	}

	// Step 7: Start service
	if err := u.startService(exec); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	// Step 8: Verify service is healthy
	if err := u.verifyHealth(exec); err != nil {
		fmt.Println("\n⚠ Warning: Service health check failed!")
		fmt.Println("You may want to rollback using: binsort-deploy rollback")
		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Println("\n✓ Upgrade completed successfully!")
	return nil
}

func (u *Upgrader) checkInstalled(exec *deploy.Executor) (bool, error) {
	output, err := exec.Run(fmt.Sprintf("test -f %s && echo 'exists' || echo 'not found'", servicePath))
	if err != nil {
		return false, err
	}

	return strings.TrimSpace(output) == "exists", nil
}

// getCurrentVersion reports the install time of the current binary. The
// daemon carries no version flag, so the file modification time is the best
// available marker.
func (u *Upgrader) getCurrentVersion(exec *deploy.Executor) (string, error) {
	if exec.DryRun {
		return "unknown", nil
	}

	output, err := exec.Run(fmt.Sprintf("stat -c %%Y %s 2>/dev/null || echo '0'", installPath))
	if err != nil {
		return "unknown", err
	}

	mtime := strings.TrimSpace(output)
	if mtime == "" || mtime == "0" {
		return "unknown", nil
	}

	return fmt.Sprintf("installed-%s", mtime), nil
}

func (u *Upgrader) backupCurrent(exec *deploy.Executor) error {
	fmt.Println("Backing up current installation...")

	timestamp := time.Now().Format("20060102-150405")
	backupDir := fmt.Sprintf("%s/%s", backupsDir, timestamp)

	_, err := exec.RunSudo(fmt.Sprintf("mkdir -p %s", backupDir))
	if err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	debugLog("Backing up binary from %s to %s/binsort", installPath, backupDir)
	output, err := exec.RunSudo(fmt.Sprintf("cp %s %s/binsort", installPath, backupDir))
	if err != nil {
		return fmt.Errorf("failed to backup binary to %s: %w (output: %s)", backupDir, err, output)
	}

	debugLog("Checking for database at %s", stationDBPath)
	output, err = exec.RunSudo(fmt.Sprintf("test -f %s && cp %s %s/binsort.db || true", stationDBPath, stationDBPath, backupDir))
	if err != nil {
		fmt.Printf("Warning: could not backup database: %v (output: %s)\n", err, output)
	}

	// The tally log rides along with the database so a rollback restores a
	// consistent pair.
	output, err = exec.RunSudo(fmt.Sprintf("test -f %s && cp %s %s/ || true", statsCSVPath, statsCSVPath, backupDir))
	if err != nil {
		fmt.Printf("Warning: could not backup tally log: %v (output: %s)\n", err, output)
	}

	// The backup directory is root-owned, so the version file detours
	// through /tmp.
	versionInfo := fmt.Sprintf("Backup created: %s\nBinary: %s\n", timestamp, installPath)
	tempVersion := fmt.Sprintf("/tmp/binsort-version-%s.txt", timestamp)
	if err := exec.WriteFile(tempVersion, versionInfo); err != nil {
		fmt.Printf("Warning: could not write version info: %v\n", err)
	} else if _, err := exec.RunSudo(fmt.Sprintf("mv %s %s/version.txt", tempVersion, backupDir)); err != nil {
		fmt.Printf("Warning: could not write version info: %v\n", err)
	}

	fmt.Printf("  ✓ Backup saved to: %s\n", backupDir)
	return nil
}

func (u *Upgrader) stopService(exec *deploy.Executor) error {
	fmt.Println("Stopping service...")

	_, err := exec.RunSudo(fmt.Sprintf("systemctl stop %s", serviceName))
	if err != nil {
		return err
	}

	exec.Run(fmt.Sprintf("sleep %d", int(serviceStopGracePeriod.Seconds())))

	fmt.Println("  ✓ Service stopped")
	return nil
}

func (u *Upgrader) installNewBinary(exec *deploy.Executor) error {
	fmt.Printf("Installing new binary from: %s\n", u.BinaryPath)

	tempPath := "/tmp/binsort-new"
	if err := exec.CopyFile(u.BinaryPath, tempPath); err != nil {
		return fmt.Errorf("failed to copy binary: %w", err)
	}

	_, err := exec.RunSudo(fmt.Sprintf("mv %s %s", tempPath, installPath))
	if err != nil {
		return fmt.Errorf("failed to move binary: %w", err)
	}

	_, err = exec.RunSudo(fmt.Sprintf("chown root:root %s", installPath))
	if err != nil {
		return fmt.Errorf("failed to set ownership: %w", err)
	}

	_, err = exec.RunSudo(fmt.Sprintf("chmod 0755 %s", installPath))
	if err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	fmt.Println("  ✓ New binary installed")
	return nil
}

// runMigrations applies pending schema migrations with the daemon's own
// migrate subcommand, as the service user so file ownership stays intact.
func (u *Upgrader) runMigrations(exec *deploy.Executor) error {
	fmt.Println("Running database migrations...")

	output, err := exec.RunSudo(fmt.Sprintf("-u %s %s --db-path %s migrate up", serviceUser, installPath, stationDBPath))
	if err != nil {
		return fmt.Errorf("migrate up failed: %w (output: %s)", err, output)
	}

	fmt.Println("  ✓ Migrations applied")
	return nil
}

func (u *Upgrader) startService(exec *deploy.Executor) error {
	fmt.Println("Starting service...")

	_, err := exec.RunSudo(fmt.Sprintf("systemctl start %s", serviceName))
	if err != nil {
		return err
	}

	exec.Run(fmt.Sprintf("sleep %d", int(serviceStartGracePeriod.Seconds())))

	fmt.Println("  ✓ Service started")
	return nil
}

func (u *Upgrader) verifyHealth(exec *deploy.Executor) error {
	fmt.Println("Verifying service health...")

	if u.DryRun {
		fmt.Println("  ✓ Service is running")
		return nil
	}

	output, err := exec.RunSudo(fmt.Sprintf("systemctl is-active %s", serviceName))
	if err != nil || strings.TrimSpace(output) != "active" {
		return fmt.Errorf("service is not active")
	}

	fmt.Println("  ✓ Service is running")
	return nil
}
