package main

import (
	"fmt"
	"strings"

	"github.com/refuseworks/binsort/internal/deploy"
)

// Rollback restores the most recent backup taken by the upgrade command.
type Rollback struct {
	Target        string
	SSHUser       string
	SSHKey        string
	IdentityAgent string
	DryRun        bool

	// Exec overrides the command executor. Nil means a real one for Target.
	Exec *deploy.Executor
}

func (r *Rollback) executor() *deploy.Executor {
	if r.Exec != nil {
		return r.Exec
	}
	return newExecutor(r.Target, r.SSHUser, r.SSHKey, r.IdentityAgent, r.DryRun)
}

// Execute performs the rollback.
func (r *Rollback) Execute() error {
	exec := r.executor()

	fmt.Println("Starting rollback to previous version...")

	// Step 1: Find most recent backup
	backupDir, err := r.findLatestBackup(exec)
	if err != nil {
		return fmt.Errorf("failed to find backup: %w", err)
	}

	fmt.Printf("Found backup: %s\n", backupDir)

	// Step 2: Confirm rollback
	if !r.DryRun {
		fmt.Print("Are you sure you want to rollback? This will stop the service and restore the backup. [y/N]: ")
		var confirm string
		fmt.Scanln(&confirm)
		if strings.ToLower(confirm) != "y" {
			fmt.Println("Rollback cancelled")
			return nil
		}
	}

	// Step 3: Stop service
	if err := r.stopService(exec); err != nil {
		return fmt.Errorf("failed to stop service: %w", err)
	}

	// Step 4: Restore binary
	if err := r.restoreBinary(exec, backupDir); err != nil {
		return fmt.Errorf("failed to restore binary: %w", err)
	}

	// Step 5: Optionally restore station data
	if err := r.restoreData(exec, backupDir); err != nil {
		fmt.Printf("Warning: could not restore station data: %v\n", err)
	}

	// Step 6: Start service
	if err := r.startService(exec); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	// Step 7: Verify service is healthy
	if err := r.verifyHealth(exec); err != nil {
		return fmt.Errorf("health check failed after rollback: %w", err)
	}

	fmt.Println("\n✓ Rollback completed successfully!")
	return nil
}

func (r *Rollback) findLatestBackup(exec *deploy.Executor) (string, error) {
	fmt.Println("Looking for backups...")

	if r.DryRun {
		// Listing the real backups would mean running commands.
		return backupsDir + "/<latest>", nil
	}

	// Backup directories are named by timestamp, so newest sorts first.
	output, err := exec.RunSudo(fmt.Sprintf("ls -1t %s/ 2>/dev/null | head -1", backupsDir))
	if err != nil {
		return "", fmt.Errorf("no backups found")
	}

	backupName := strings.TrimSpace(output)
	if backupName == "" {
		return "", fmt.Errorf("no backups found in %s/", backupsDir)
	}

	backupDir := fmt.Sprintf("%s/%s", backupsDir, backupName)

	// Verify backup contains a binary
	checkOutput, err := exec.RunSudo(fmt.Sprintf("test -f %s/%s && echo 'exists' || echo 'missing'", backupDir, serviceName))
	if err != nil || strings.TrimSpace(checkOutput) != "exists" {
		return "", fmt.Errorf("backup directory exists but binary not found: %s", backupDir)
	}

	return backupDir, nil
}

func (r *Rollback) stopService(exec *deploy.Executor) error {
	fmt.Println("Stopping service...")

	_, err := exec.RunSudo(fmt.Sprintf("systemctl stop %s", serviceName))
	if err != nil {
		return err
	}

	exec.Run(fmt.Sprintf("sleep %d", int(serviceStopGracePeriod.Seconds())))

	fmt.Println("  ✓ Service stopped")
	return nil
}

func (r *Rollback) restoreBinary(exec *deploy.Executor, backupDir string) error {
	fmt.Printf("Restoring binary from: %s\n", backupDir)

	binaryPath := fmt.Sprintf("%s/%s", backupDir, serviceName)

	_, err := exec.RunSudo(fmt.Sprintf("cp %s %s", binaryPath, installPath))
	if err != nil {
		return fmt.Errorf("failed to restore binary: %w", err)
	}

	_, err = exec.RunSudo(fmt.Sprintf("chown root:root %s && chmod 0755 %s", installPath, installPath))
	if err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	fmt.Println("  ✓ Binary restored")
	return nil
}

// restoreData restores the database and stats CSV from the backup, behind a
// second prompt since it replaces whatever the station collected since the
// backup was taken.
func (r *Rollback) restoreData(exec *deploy.Executor, backupDir string) error {
	dbBackup := fmt.Sprintf("%s/binsort.db", backupDir)

	checkOutput, err := exec.RunSudo(fmt.Sprintf("test -f %s && echo 'exists' || echo 'missing'", dbBackup))
	if err != nil || strings.TrimSpace(checkOutput) != "exists" {
		fmt.Println("  ⊘ No database backup found, keeping current data")
		return nil
	}

	fmt.Print("Database backup found. Restore it? This will replace current data. [y/N]: ")
	var confirm string
	if !r.DryRun {
		fmt.Scanln(&confirm)
	} else {
		confirm = "n"
	}

	if strings.ToLower(confirm) != "y" {
		fmt.Println("  ⊘ Keeping current data")
		return nil
	}

	fmt.Println("  Restoring database...")

	_, err = exec.RunSudo(fmt.Sprintf("cp %s %s", dbBackup, stationDBPath))
	if err != nil {
		return err
	}

	_, err = exec.RunSudo(fmt.Sprintf("chown %s:%s %s", serviceUser, serviceUser, stationDBPath))
	if err != nil {
		return err
	}

	// The stats CSV was backed up alongside the database; restore the pair so
	// tallies and rows agree.
	csvBackup := fmt.Sprintf("%s/waste_classification_stats.csv", backupDir)
	checkOutput, err = exec.RunSudo(fmt.Sprintf("test -f %s && echo 'exists' || echo 'missing'", csvBackup))
	if err == nil && strings.TrimSpace(checkOutput) == "exists" {
		if _, err := exec.RunSudo(fmt.Sprintf("cp %s %s && chown %s:%s %s", csvBackup, statsCSVPath, serviceUser, serviceUser, statsCSVPath)); err != nil {
			return fmt.Errorf("failed to restore stats CSV: %w", err)
		}
	}

	fmt.Println("  ✓ Station data restored")
	return nil
}

func (r *Rollback) startService(exec *deploy.Executor) error {
	fmt.Println("Starting service...")

	_, err := exec.RunSudo(fmt.Sprintf("systemctl start %s", serviceName))
	if err != nil {
		return err
	}

	exec.Run(fmt.Sprintf("sleep %d", int(serviceStartGracePeriod.Seconds())))

	fmt.Println("  ✓ Service started")
	return nil
}

func (r *Rollback) verifyHealth(exec *deploy.Executor) error {
	fmt.Println("Verifying service health...")

	if r.DryRun {
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
