package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/refuseworks/binsort/internal/deploy"
)

// Backup copies a station's binary, database, stats CSV, and service file
// into a timestamped directory on the machine running the tool.
type Backup struct {
	Target        string
	SSHUser       string
	SSHKey        string
	IdentityAgent string
	OutputDir     string

	// Exec overrides the command executor. Nil means a real one for Target.
	Exec *deploy.Executor
}

func (b *Backup) executor() *deploy.Executor {
	if b.Exec != nil {
		return b.Exec
	}
	return newExecutor(b.Target, b.SSHUser, b.SSHKey, b.IdentityAgent, false)
}

// Execute performs the backup.
func (b *Backup) Execute() error {
	exec := b.executor()

	fmt.Println("Starting backup of binsort station...")

	timestamp := time.Now().Format("20060102-150405")
	backupName := fmt.Sprintf("binsort-backup-%s", timestamp)

	// Step 1: Create local backup directory
	localBackupDir := filepath.Join(b.OutputDir, backupName)
	if err := os.MkdirAll(localBackupDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	fmt.Printf("Backup directory: %s\n", localBackupDir)

	// Step 2: Backup binary
	if err := b.backupBinary(exec, localBackupDir); err != nil {
		return fmt.Errorf("failed to backup binary: %w", err)
	}

	// Step 3: Backup database
	if err := b.backupDatabase(exec, localBackupDir); err != nil {
		fmt.Printf("Warning: could not backup database: %v\n", err)
	}

	// Step 4: Backup stats CSV
	if err := b.backupStatsCSV(exec, localBackupDir); err != nil {
		fmt.Printf("Warning: could not backup stats CSV: %v\n", err)
	}

	// Step 5: Backup service file
	if err := b.backupServiceFile(exec, localBackupDir); err != nil {
		fmt.Printf("Warning: could not backup service file: %v\n", err)
	}

	// Step 6: Create metadata file
	if err := b.createMetadata(exec, localBackupDir, timestamp); err != nil {
		fmt.Printf("Warning: could not create metadata: %v\n", err)
	}

	fmt.Printf("\n✓ Backup completed successfully!\n")
	fmt.Printf("Backup saved to: %s\n", localBackupDir)

	return nil
}

// fetchOffTarget copies a root-owned file from the target into the local
// backup directory. Remote files are staged under /tmp with relaxed
// permissions first, because the SSH user cannot read them in place.
func (b *Backup) fetchOffTarget(exec *deploy.Executor, src, dst string) error {
	if exec.IsLocal() {
		if _, err := exec.RunSudo(fmt.Sprintf("cp %s %s", src, dst)); err != nil {
			return err
		}
		// Make it readable by the current user
		_, err := exec.RunSudo(fmt.Sprintf("chmod 644 %s", dst))
		return err
	}

	stage := fmt.Sprintf("/tmp/binsort-backup-%s", filepath.Base(src))
	if _, err := exec.RunSudo(fmt.Sprintf("cp %s %s && chmod 644 %s", src, stage, stage)); err != nil {
		return err
	}
	defer exec.Run(fmt.Sprintf("rm -f %s", stage))

	return exec.FetchFile(stage, dst)
}

func (b *Backup) backupBinary(exec *deploy.Executor, backupDir string) error {
	fmt.Println("Backing up binary...")

	if err := b.fetchOffTarget(exec, installPath, filepath.Join(backupDir, serviceName)); err != nil {
		return err
	}

	fmt.Println("  ✓ Binary backed up")
	return nil
}

func (b *Backup) backupDatabase(exec *deploy.Executor, backupDir string) error {
	fmt.Println("Backing up database...")

	checkOutput, err := exec.RunSudo(fmt.Sprintf("test -f %s && echo 'exists' || echo 'missing'", stationDBPath))
	if err != nil || strings.TrimSpace(checkOutput) != "exists" {
		fmt.Println("  ⊘ No database found")
		return nil
	}

	dbDest := filepath.Join(backupDir, "binsort.db")
	if err := b.fetchOffTarget(exec, stationDBPath, dbDest); err != nil {
		return err
	}

	if info, err := os.Stat(dbDest); err == nil {
		fmt.Printf("  ✓ Database backed up (%s)\n", humanSize(info.Size()))
	} else {
		fmt.Println("  ✓ Database backed up")
	}
	return nil
}

func (b *Backup) backupStatsCSV(exec *deploy.Executor, backupDir string) error {
	fmt.Println("Backing up stats CSV...")

	checkOutput, err := exec.RunSudo(fmt.Sprintf("test -f %s && echo 'exists' || echo 'missing'", statsCSVPath))
	if err != nil || strings.TrimSpace(checkOutput) != "exists" {
		fmt.Println("  ⊘ No stats CSV found")
		return nil
	}

	if err := b.fetchOffTarget(exec, statsCSVPath, filepath.Join(backupDir, "waste_classification_stats.csv")); err != nil {
		return err
	}

	fmt.Println("  ✓ Stats CSV backed up")
	return nil
}

func (b *Backup) backupServiceFile(exec *deploy.Executor, backupDir string) error {
	fmt.Println("Backing up service file...")

	if err := b.fetchOffTarget(exec, servicePath, filepath.Join(backupDir, serviceFile)); err != nil {
		return err
	}

	fmt.Println("  ✓ Service file backed up")
	return nil
}

func (b *Backup) createMetadata(exec *deploy.Executor, backupDir, timestamp string) error {
	fmt.Println("Creating backup metadata...")

	// The daemon carries no version flag; the binary mtime is the closest
	// thing to a version marker.
	installedOutput, _ := exec.Run(fmt.Sprintf("stat -c %%y %s 2>/dev/null || echo 'unknown'", installPath))
	statusOutput, _ := exec.RunSudo(fmt.Sprintf("systemctl is-active %s 2>&1 || echo 'unknown'", serviceName))

	metadata := fmt.Sprintf(`Binsort Station Backup
======================
Timestamp: %s
Target: %s
Binary installed: %s
Service status: %s

Files included:
- binsort (binary)
- binsort.db (station database)
- waste_classification_stats.csv (tally log)
- binsort.service (systemd service file)

To restore this backup:
1. Stop the service: sudo systemctl stop binsort
2. Restore binary: sudo cp binsort /usr/local/bin/binsort
3. Restore database: sudo cp binsort.db /var/lib/binsort/binsort.db
4. Restore stats: sudo cp waste_classification_stats.csv /var/lib/binsort/
5. Fix ownership: sudo chown binsort:binsort /var/lib/binsort/binsort.db /var/lib/binsort/waste_classification_stats.csv
6. Restore service: sudo cp binsort.service /etc/systemd/system/
7. Reload systemd: sudo systemctl daemon-reload
8. Start service: sudo systemctl start binsort
`, timestamp, b.Target, strings.TrimSpace(installedOutput), strings.TrimSpace(statusOutput))

	metadataFile := filepath.Join(backupDir, "README.txt")
	if err := os.WriteFile(metadataFile, []byte(metadata), 0644); err != nil {
		return err
	}

	fmt.Println("  ✓ Metadata created")
	return nil
}

// humanSize renders a byte count the way du -h does.
func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%c", float64(n)/float64(div), "KMGTPE"[exp])
}
