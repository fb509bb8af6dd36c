// Command deploy installs and manages binsort stations over SSH.
//
// It wraps the handful of systemd and scp invocations an operator would
// otherwise type by hand: install a binary plus classifier assets onto a
// host, upgrade it in place with an automatic backup, check its health
// through the station API, and pull backups off the box.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/refuseworks/binsort/internal/deploy"
)

const version = "0.3.0"

// DebugMode mirrors the --debug flag of whichever subcommand is running.
var DebugMode bool

// debugLog prints a debug line when --debug is set.
func debugLog(format string, args ...interface{}) {
	if DebugMode {
		fmt.Printf("[debug] "+format+"\n", args...)
	}
}

// cliLogger adapts debugLog to the executor's Logger interface.
type cliLogger struct{}

func (cliLogger) Debugf(format string, args ...interface{}) {
	debugLog(format, args...)
}

// newExecutor builds an executor wired to the --debug flag.
func newExecutor(target, sshUser, sshKey, identityAgent string, dryRun bool) *deploy.Executor {
	e := deploy.NewExecutor(target, sshUser, sshKey, identityAgent, dryRun)
	if DebugMode {
		e.SetLogger(cliLogger{})
	}
	return e
}

func main() {
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "install":
		handleInstall(args)
	case "upgrade":
		handleUpgrade(args)
	case "status":
		handleStatus(args)
	case "health":
		handleHealth(args)
	case "rollback":
		handleRollback(args)
	case "backup":
		handleBackup(args)
	case "version":
		fmt.Printf("binsort-deploy version %s\n", version)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`binsort-deploy - Deployment manager for binsort sorting stations

Usage: binsort-deploy <command> [options]

Commands:
  install    Install the binsort service on a host
  upgrade    Upgrade binsort to a new binary
  status     Check service status (use --scan for disk usage detail)
  health     Run a health check against a running station
  rollback   Roll back to the most recent backup
  backup     Copy the station database and configuration off the host
  version    Show binsort-deploy version
  help       Show this help message

Common Flags:
  --target <host>      Target host (default: localhost)
                       Can be a hostname, IP, or SSH config host alias
  --ssh-user <user>    SSH user for remote deployment
                       Defaults to ~/.ssh/config or current user
  --ssh-key <path>     SSH private key path
                       Defaults to ~/.ssh/config
  --dry-run            Show what would be done without executing
  --debug              Enable debug logging

SSH Config Support:
  binsort-deploy automatically reads ~/.ssh/config for host configuration.
  If a host is defined in your SSH config, the tool will use:
    - HostName (IP or domain)
    - User
    - IdentityFile (SSH key)
    - IdentityAgent

  Command-line flags override SSH config values.

Examples:
  # Install on a station using an SSH config host alias
  binsort-deploy install --target station1 --binary ./binsort-linux-arm64 --model ./waste_model.h5

  # Install with explicit credentials
  binsort-deploy install --target pi@192.168.1.100 --ssh-key ~/.ssh/id_rsa --binary ./binsort-linux-arm64 --model ./waste_model.h5

  # Check status using SSH config
  binsort-deploy status --target station1

  # Upgrade a station to a new binary
  binsort-deploy upgrade --target station1 --binary ./binsort-linux-arm64

  # Health check on a remote station
  binsort-deploy health --target station1

  # Pull a backup of the station database
  binsort-deploy backup --target station1 --output ./backups

For more information, see: https://github.com/refuseworks/binsort`)
}

func handleInstall(args []string) {
	fs := flag.NewFlagSet("install", flag.ExitOnError)
	target := fs.String("target", "localhost", "Target host for installation")
	sshUser := fs.String("ssh-user", "", "SSH user (defaults to ~/.ssh/config or current user)")
	sshKey := fs.String("ssh-key", "", "SSH private key path (defaults to ~/.ssh/config)")
	binaryPath := fs.String("binary", "", "Path to binsort binary (required)")
	modelPath := fs.String("model", "", "Path to the trained classifier model (required)")
	scriptPath := fs.String("script", "scripts/waste_classifier.py", "Path to the classifier script")
	dbPath := fs.String("db-path", "", "Path to an existing station database to carry over")
	dryRun := fs.Bool("dry-run", false, "Show what would be done")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	DebugMode = *debug

	if *binaryPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --binary flag is required. Specify the path to the binsort binary (e.g., --binary ./binsort-linux-arm64)")
		fs.Usage()
		os.Exit(1)
	}
	if *modelPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --model flag is required. The station daemon refuses to start without a classifier model (e.g., --model ./waste_model.h5)")
		fs.Usage()
		os.Exit(1)
	}

	resolvedHost, resolvedUser, resolvedKey, identityAgent := resolveTarget(*target, *sshUser, *sshKey)

	installer := &Installer{
		Target:        resolvedHost,
		SSHUser:       resolvedUser,
		SSHKey:        resolvedKey,
		IdentityAgent: identityAgent,
		BinaryPath:    *binaryPath,
		ModelPath:     *modelPath,
		ScriptPath:    *scriptPath,
		DBPath:        *dbPath,
		DryRun:        *dryRun,
	}

	if err := installer.Install(); err != nil {
		fmt.Fprintf(os.Stderr, "Installation failed: %v\n", err)
		os.Exit(1)
	}
}

func handleUpgrade(args []string) {
	fs := flag.NewFlagSet("upgrade", flag.ExitOnError)
	target := fs.String("target", "localhost", "Target host")
	sshUser := fs.String("ssh-user", "", "SSH user (defaults to ~/.ssh/config or current user)")
	sshKey := fs.String("ssh-key", "", "SSH private key path (defaults to ~/.ssh/config)")
	binaryPath := fs.String("binary", "", "Path to new binsort binary (required)")
	dryRun := fs.Bool("dry-run", false, "Show what would be done")
	noBackup := fs.Bool("no-backup", false, "Skip backup before upgrade")
	noMigrate := fs.Bool("no-migrate", false, "Skip database migrations (migrations run by default)")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	DebugMode = *debug

	if *binaryPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --binary flag is required. Specify the path to the binsort binary (e.g., --binary ./binsort-linux-arm64)")
		fs.Usage()
		os.Exit(1)
	}

	resolvedHost, resolvedUser, resolvedKey, identityAgent := resolveTarget(*target, *sshUser, *sshKey)

	upgrader := &Upgrader{
		Target:        resolvedHost,
		SSHUser:       resolvedUser,
		SSHKey:        resolvedKey,
		IdentityAgent: identityAgent,
		BinaryPath:    *binaryPath,
		DryRun:        *dryRun,
		NoBackup:      *noBackup,
		NoMigrate:     *noMigrate,
	}

	if err := upgrader.Upgrade(); err != nil {
		fmt.Fprintf(os.Stderr, "Upgrade failed: %v\n", err)
		os.Exit(1)
	}
}

func handleStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	target := fs.String("target", "localhost", "Target host")
	sshUser := fs.String("ssh-user", "", "SSH user (defaults to ~/.ssh/config or current user)")
	sshKey := fs.String("ssh-key", "", "SSH private key path (defaults to ~/.ssh/config)")
	apiPort := fs.Int("api-port", 8080, "Station API port")
	timeout := fs.Int("timeout", 30, "Timeout in seconds")
	scan := fs.Bool("scan", false, "Scan the data directory for the largest files")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	DebugMode = *debug

	resolvedHost, resolvedUser, resolvedKey, identityAgent := resolveTarget(*target, *sshUser, *sshKey)

	monitor := &Monitor{
		Target:        resolvedHost,
		SSHUser:       resolvedUser,
		SSHKey:        resolvedKey,
		IdentityAgent: identityAgent,
		APIPort:       *apiPort,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeout)*time.Second)
	defer cancel()

	status, err := withSpinner("Gathering station status...", func() (*SystemStatus, error) {
		return monitor.GetStatus(ctx)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get status: %v\n", err)
		os.Exit(1)
	}

	fmt.Print(status.FormatStatus())

	if *scan {
		fmt.Println("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		fmt.Println("Data directory scan")
		fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

		report, err := withSpinner("Scanning disk usage...", monitor.ScanDiskUsage)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Disk scan failed: %v\n", err)
		} else {
			fmt.Print(report)
		}
	}
}

// withSpinner runs fn while animating a progress spinner on stdout.
func withSpinner[T any](message string, fn func() (T, error)) (T, error) {
	spinner := NewSpinner(message)
	done := make(chan bool)
	go func() {
		for {
			select {
			case <-done:
				fmt.Print("\r\033[K")
				return
			default:
				fmt.Print(spinner.Next())
				time.Sleep(100 * time.Millisecond)
			}
		}
	}()

	result, err := fn()
	done <- true
	time.Sleep(100 * time.Millisecond)
	return result, err
}

func handleHealth(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	target := fs.String("target", "localhost", "Target host")
	sshUser := fs.String("ssh-user", "", "SSH user (defaults to ~/.ssh/config or current user)")
	sshKey := fs.String("ssh-key", "", "SSH private key path (defaults to ~/.ssh/config)")
	apiPort := fs.Int("api-port", 8080, "Station API port")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	DebugMode = *debug

	resolvedHost, resolvedUser, resolvedKey, identityAgent := resolveTarget(*target, *sshUser, *sshKey)

	monitor := &Monitor{
		Target:        resolvedHost,
		SSHUser:       resolvedUser,
		SSHKey:        resolvedKey,
		IdentityAgent: identityAgent,
		APIPort:       *apiPort,
	}

	health, err := monitor.CheckHealth()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}

	if !health.Healthy {
		fmt.Printf("Station is UNHEALTHY: %s\n%s\n", health.Message, health.Details)
		os.Exit(1)
	}

	fmt.Printf("Station is HEALTHY\n%s\n", health.Details)
}

func handleRollback(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	target := fs.String("target", "localhost", "Target host")
	sshUser := fs.String("ssh-user", "", "SSH user (defaults to ~/.ssh/config or current user)")
	sshKey := fs.String("ssh-key", "", "SSH private key path (defaults to ~/.ssh/config)")
	dryRun := fs.Bool("dry-run", false, "Show what would be done")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	DebugMode = *debug

	resolvedHost, resolvedUser, resolvedKey, identityAgent := resolveTarget(*target, *sshUser, *sshKey)

	rollback := &Rollback{
		Target:        resolvedHost,
		SSHUser:       resolvedUser,
		SSHKey:        resolvedKey,
		IdentityAgent: identityAgent,
		DryRun:        *dryRun,
	}

	if err := rollback.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Rollback failed: %v\n", err)
		os.Exit(1)
	}
}

func handleBackup(args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	target := fs.String("target", "localhost", "Target host")
	sshUser := fs.String("ssh-user", "", "SSH user (defaults to ~/.ssh/config or current user)")
	sshKey := fs.String("ssh-key", "", "SSH private key path (defaults to ~/.ssh/config)")
	outputDir := fs.String("output", ".", "Output directory for the backup")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Parse(args)

	DebugMode = *debug

	resolvedHost, resolvedUser, resolvedKey, identityAgent := resolveTarget(*target, *sshUser, *sshKey)

	backup := &Backup{
		Target:        resolvedHost,
		SSHUser:       resolvedUser,
		SSHKey:        resolvedKey,
		IdentityAgent: identityAgent,
		OutputDir:     *outputDir,
	}

	if err := backup.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Backup failed: %v\n", err)
		os.Exit(1)
	}
}

// resolveTarget layers ~/.ssh/config under the command-line connection flags
// and falls back to the current user when no SSH user is known.
func resolveTarget(target, sshUser, sshKey string) (host, user, key, identityAgent string) {
	host, user, key, identityAgent, err := deploy.ResolveSSHTarget(target, sshUser, sshKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to resolve SSH config: %v\n", err)
		os.Exit(1)
	}
	if user == "" {
		user = os.Getenv("USER")
	}
	return host, user, key, identityAgent
}
