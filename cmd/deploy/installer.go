package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/refuseworks/binsort/internal/deploy"
)

// Installation layout shared by all subcommands. The station daemon runs as
// an unprivileged service user with everything it owns under one directory.
const (
	serviceName    = "binsort"
	serviceFile    = "binsort.service"
	servicePath    = "/etc/systemd/system/binsort.service"
	serviceUser    = "binsort"
	installPath    = "/usr/local/bin/binsort"
	dataDir        = "/var/lib/binsort"
	stationDBPath  = dataDir + "/binsort.db"
	statsCSVPath   = dataDir + "/waste_classification_stats.csv"
	modelDestPath  = dataDir + "/models/waste_model.h5"
	scriptDestPath = dataDir + "/scripts/waste_classifier.py"
	backupsDir     = dataDir + "/backups"

	serviceContent = `[Unit]
Description=Binsort waste sorting station
After=network.target

[Service]
User=binsort
Group=binsort
Type=simple
ExecStart=/usr/local/bin/binsort --db-path /var/lib/binsort/binsort.db
WorkingDirectory=/var/lib/binsort
Restart=on-failure
RestartSec=5
StandardOutput=journal
StandardError=journal
SyslogIdentifier=binsort

[Install]
WantedBy=multi-user.target
`
)

// Installer performs a first-time install of the binsort service on a host.
type Installer struct {
	Target        string
	SSHUser       string
	SSHKey        string
	IdentityAgent string
	BinaryPath    string
	ModelPath     string
	ScriptPath    string
	DBPath        string
	DryRun        bool

	// Exec overrides the command executor. Nil means a real one for Target.
	Exec *deploy.Executor
}

func (i *Installer) executor() *deploy.Executor {
	if i.Exec != nil {
		return i.Exec
	}
	return newExecutor(i.Target, i.SSHUser, i.SSHKey, i.IdentityAgent, i.DryRun)
}

// Install performs the installation.
func (i *Installer) Install() error {
	exec := i.executor()

	fmt.Println("Starting installation of binsort...")

	// Step 1: Validate local artifacts before touching the host
	if err := i.validateArtifacts(); err != nil {
		return fmt.Errorf("artifact validation failed: %w", err)
	}

	// Step 2: Check if already installed
	if installed, err := i.checkExisting(exec); err != nil {
		return fmt.Errorf("failed to check existing installation: %w", err)
	} else if installed {
		fmt.Println("binsort is already installed. Use 'upgrade' command to update.")
		return nil
	}

	// Step 3: Create service user
	if err := i.createServiceUser(exec); err != nil {
		return fmt.Errorf("failed to create service user: %w", err)
	}

	// Step 4: Create data directory tree
	if err := i.createDataDirectory(exec); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// Step 5: Install binary
	if err := i.installBinary(exec); err != nil {
		return fmt.Errorf("failed to install binary: %w", err)
	}

	// Step 6: Install classifier model and script
	if err := i.installClassifierAssets(exec); err != nil {
		return fmt.Errorf("failed to install classifier assets: %w", err)
	}

	// Step 7: Install systemd service
	if err := i.installService(exec); err != nil {
		return fmt.Errorf("failed to install service: %w", err)
	}

	// Step 8: Carry over an existing database if provided
	if i.DBPath != "" {
		if err := i.seedDatabase(exec); err != nil {
			return fmt.Errorf("failed to seed database: %w", err)
		}
	}

	// Step 9: Start service
	if err := i.startService(exec); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	fmt.Println("\n✓ Installation completed successfully!")
	fmt.Println("\nUseful commands:")
	fmt.Println("  Check status:  binsort-deploy status")
	fmt.Println("  Health check:  binsort-deploy health")
	fmt.Println("  View logs:     sudo journalctl -u binsort.service -f")

	return nil
}

// validateArtifacts checks the binary, model, and classifier script on the
// local machine before any remote work starts.
func (i *Installer) validateArtifacts() error {
	fmt.Printf("Validating binary: %s\n", i.BinaryPath)

	info, err := os.Stat(i.BinaryPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("binary not found: %s", i.BinaryPath)
	}
	if err != nil {
		return err
	}
	if info.Mode()&0111 == 0 {
		return fmt.Errorf("binary is not executable: %s", i.BinaryPath)
	}

	fmt.Printf("Validating classifier model: %s\n", i.ModelPath)
	if _, err := os.Stat(i.ModelPath); err != nil {
		return fmt.Errorf("classifier model not found: %s", i.ModelPath)
	}

	if i.ScriptPath != "" {
		fmt.Printf("Validating classifier script: %s\n", i.ScriptPath)
		if _, err := os.Stat(i.ScriptPath); err != nil {
			return fmt.Errorf("classifier script not found: %s", i.ScriptPath)
		}
	}

	fmt.Println("  ✓ Artifacts validated")
	return nil
}

func (i *Installer) checkExisting(exec *deploy.Executor) (bool, error) {
	fmt.Println("Checking for existing installation...")

	output, err := exec.Run(fmt.Sprintf("test -f %s && echo 'exists' || echo 'not found'", servicePath))
	if err != nil {
		return false, err
	}

	if strings.TrimSpace(output) == "exists" {
		return true, nil
	}

	fmt.Println("  ✓ No existing installation found")
	return false, nil
}

func (i *Installer) createServiceUser(exec *deploy.Executor) error {
	fmt.Printf("Creating service user '%s'...\n", serviceUser)

	output, err := exec.Run(fmt.Sprintf("id -u %s >/dev/null 2>&1 && echo 'exists' || echo 'not found'", serviceUser))
	if err != nil {
		return err
	}

	if strings.TrimSpace(output) == "exists" {
		fmt.Printf("  ✓ User '%s' already exists\n", serviceUser)
		return nil
	}

	_, err = exec.RunSudo(fmt.Sprintf("useradd --system --no-create-home --shell /usr/sbin/nologin %s", serviceUser))
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("  ✓ User '%s' created\n", serviceUser)
	return nil
}

func (i *Installer) createDataDirectory(exec *deploy.Executor) error {
	fmt.Printf("Creating data directory: %s\n", dataDir)

	// The daemon resolves its relative defaults against WorkingDirectory, so
	// the spool, model, and script paths all live under dataDir.
	subdirs := strings.Join([]string{
		dataDir,
		dataDir + "/spool",
		dataDir + "/spool/processed",
		dataDir + "/models",
		dataDir + "/scripts",
		backupsDir,
	}, " ")

	_, err := exec.RunSudo(fmt.Sprintf("mkdir -p %s && chown -R %s:%s %s", subdirs, serviceUser, serviceUser, dataDir))
	if err != nil {
		return err
	}

	fmt.Println("  ✓ Data directory created")
	return nil
}

func (i *Installer) installBinary(exec *deploy.Executor) error {
	fmt.Printf("Installing binary to %s...\n", installPath)

	if err := exec.CopyFile(i.BinaryPath, installPath); err != nil {
		return fmt.Errorf("failed to copy binary: %w", err)
	}

	_, err := exec.RunSudo(fmt.Sprintf("chown root:root %s && chmod 0755 %s", installPath, installPath))
	if err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	fmt.Println("  ✓ Binary installed")
	return nil
}

func (i *Installer) installClassifierAssets(exec *deploy.Executor) error {
	fmt.Println("Installing classifier assets...")

	if err := exec.CopyFile(i.ModelPath, modelDestPath); err != nil {
		return fmt.Errorf("failed to copy model: %w", err)
	}
	if _, err := exec.RunSudo(fmt.Sprintf("chown %s:%s %s", serviceUser, serviceUser, modelDestPath)); err != nil {
		return fmt.Errorf("failed to set model ownership: %w", err)
	}

	if i.ScriptPath != "" {
		if err := exec.CopyFile(i.ScriptPath, scriptDestPath); err != nil {
			return fmt.Errorf("failed to copy classifier script: %w", err)
		}
		if _, err := exec.RunSudo(fmt.Sprintf("chown %s:%s %s", serviceUser, serviceUser, scriptDestPath)); err != nil {
			return fmt.Errorf("failed to set script ownership: %w", err)
		}
	}

	fmt.Println("  ✓ Classifier assets installed")
	return nil
}

func (i *Installer) installService(exec *deploy.Executor) error {
	fmt.Println("Installing systemd service...")

	// Write service file to a temp location, then move it into place.
	tempFile := "/tmp/" + serviceFile
	if err := exec.WriteFile(tempFile, serviceContent); err != nil {
		return fmt.Errorf("failed to write service file: %w", err)
	}

	_, err := exec.RunSudo(fmt.Sprintf("mv %s %s", tempFile, servicePath))
	if err != nil {
		return fmt.Errorf("failed to install service file: %w", err)
	}

	_, err = exec.RunSudo("systemctl daemon-reload")
	if err != nil {
		return fmt.Errorf("failed to reload systemd: %w", err)
	}

	_, err = exec.RunSudo(fmt.Sprintf("systemctl enable %s", serviceName))
	if err != nil {
		return fmt.Errorf("failed to enable service: %w", err)
	}

	fmt.Println("  ✓ Service installed and enabled")
	return nil
}

func (i *Installer) seedDatabase(exec *deploy.Executor) error {
	fmt.Printf("Carrying over database from: %s\n", i.DBPath)

	if err := exec.CopyFile(i.DBPath, stationDBPath); err != nil {
		return fmt.Errorf("failed to copy database: %w", err)
	}

	_, err := exec.RunSudo(fmt.Sprintf("chown %s:%s %s", serviceUser, serviceUser, stationDBPath))
	if err != nil {
		return fmt.Errorf("failed to set database ownership: %w", err)
	}

	fmt.Println("  ✓ Database carried over")
	return nil
}

func (i *Installer) startService(exec *deploy.Executor) error {
	fmt.Printf("Starting %s service...\n", serviceName)

	_, err := exec.RunSudo(fmt.Sprintf("systemctl start %s", serviceName))
	if err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	exec.Run(fmt.Sprintf("sleep %d", int(serviceStartGracePeriod.Seconds())))

	if i.DryRun {
		fmt.Println("  ✓ Service started successfully")
		return nil
	}

	output, err := exec.RunSudo(fmt.Sprintf("systemctl is-active %s", serviceName))
	if err != nil || strings.TrimSpace(output) != "active" {
		return fmt.Errorf("service failed to start properly, check: sudo journalctl -u %s -n 50", serviceName)
	}

	fmt.Println("  ✓ Service started successfully")
	return nil
}
