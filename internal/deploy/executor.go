package deploy

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Logger receives debug lines from the executor. cmd/deploy wires this up to
// its --debug flag.
type Logger interface {
	Debugf(format string, args ...interface{})
}

// nopLogger discards all debug output.
type nopLogger struct{}

func (nopLogger) Debugf(format string, args ...interface{}) {}

// Executor runs commands on a deployment target. An empty, "localhost", or
// "127.0.0.1" target runs commands directly; anything else goes over ssh.
type Executor struct {
	Target        string
	SSHUser       string
	SSHKey        string
	IdentityAgent string
	DryRun        bool
	Logger        Logger

	// Builder constructs the underlying processes. Tests replace it with a
	// MockCommandBuilder to capture the exact invocations.
	Builder CommandBuilder
}

// NewExecutor creates an executor for the given target.
func NewExecutor(target, sshUser, sshKey, identityAgent string, dryRun bool) *Executor {
	return &Executor{
		Target:        target,
		SSHUser:       sshUser,
		SSHKey:        sshKey,
		IdentityAgent: identityAgent,
		DryRun:        dryRun,
		Logger:        nopLogger{},
		Builder:       NewRealCommandBuilder(),
	}
}

// SetLogger sets the debug logger for the executor.
func (e *Executor) SetLogger(logger Logger) {
	if logger != nil {
		e.Logger = logger
	}
}

// IsLocal returns true if target is localhost.
func (e *Executor) IsLocal() bool {
	return e.Target == "localhost" || e.Target == "127.0.0.1" || e.Target == ""
}

// Run executes a command on the target.
func (e *Executor) Run(command string) (string, error) {
	if e.DryRun {
		msg := fmt.Sprintf("[DRY-RUN] Would execute: %s", command)
		fmt.Println(msg)
		return msg, nil
	}

	e.Logger.Debugf("Executing: %s (target=%s, local=%v)", command, e.Target, e.IsLocal())

	var output string
	var err error
	if e.IsLocal() {
		output, err = e.runLocal(command)
	} else {
		output, err = e.runSSH(command)
	}
	if err != nil {
		e.Logger.Debugf("Command failed: %v, output: %s", err, output)
	}
	return output, err
}

// RunSudo executes a command with sudo on the target.
func (e *Executor) RunSudo(command string) (string, error) {
	if e.DryRun {
		msg := fmt.Sprintf("[DRY-RUN] Would execute (sudo): %s", command)
		fmt.Println(msg)
		return msg, nil
	}

	sudoCmd := fmt.Sprintf("sudo %s", command)
	e.Logger.Debugf("Executing (sudo): %s (target=%s, local=%v)", command, e.Target, e.IsLocal())

	var output string
	var err error
	if e.IsLocal() {
		output, err = e.runLocal(sudoCmd)
	} else {
		output, err = e.runSSH(sudoCmd)
	}
	if err != nil {
		e.Logger.Debugf("Sudo command failed: %v, output: %s", err, output)
	}
	return output, err
}

// CopyFile copies a local file onto the target. Remote copies are staged
// under /tmp and then moved, because scp cannot write system paths directly.
func (e *Executor) CopyFile(src, dst string) error {
	if e.DryRun {
		fmt.Printf("[DRY-RUN] Would copy: %s -> %s\n", src, dst)
		return nil
	}

	e.Logger.Debugf("Copying file: %s -> %s (target=%s, local=%v)", src, dst, e.Target, e.IsLocal())

	var err error
	if e.IsLocal() {
		err = e.copyLocal(src, dst)
	} else {
		err = e.copySSH(src, dst)
	}

	if err != nil {
		e.Logger.Debugf("Copy failed: %v", err)
	}
	return err
}

// FetchFile copies a file from the target back onto the machine running the
// tool. The source must already be readable by the SSH user; callers stage
// root-owned files under /tmp with relaxed permissions first.
func (e *Executor) FetchFile(src, dst string) error {
	if e.DryRun {
		fmt.Printf("[DRY-RUN] Would fetch: %s -> %s\n", src, dst)
		return nil
	}

	e.Logger.Debugf("Fetching file: %s -> %s (target=%s, local=%v)", src, dst, e.Target, e.IsLocal())

	if e.IsLocal() {
		return e.copyLocal(src, dst)
	}

	args := append(e.scpArgs(), fmt.Sprintf("%s:%s", e.sshTarget(), src), dst)
	if output, err := e.Builder.BuildCommand("scp", args...).Run(); err != nil {
		return fmt.Errorf("scp fetch failed: %w, output: %s", err, output)
	}
	return nil
}

// WriteFile writes content to a file on the target.
func (e *Executor) WriteFile(path, content string) error {
	if e.DryRun {
		fmt.Printf("[DRY-RUN] Would write %d bytes to: %s\n", len(content), path)
		return nil
	}

	if e.IsLocal() {
		return os.WriteFile(path, []byte(content), 0644)
	}

	// Remote writes stream the content over ssh stdin.
	cmd := e.Builder.BuildCommand("ssh", e.sshArgs(fmt.Sprintf("cat > %s", path))...)
	cmd.SetStdin([]byte(content))
	if output, err := cmd.Run(); err != nil {
		return fmt.Errorf("ssh write failed: %w, output: %s", err, output)
	}
	return nil
}

func (e *Executor) runLocal(command string) (string, error) {
	output, err := e.Builder.BuildShellCommand(command).Run()
	return string(output), err
}

func (e *Executor) runSSH(command string) (string, error) {
	output, err := e.Builder.BuildCommand("ssh", e.sshArgs(command)...).Run()
	return string(output), err
}

// sshArgs assembles the argument list for an ssh invocation running command
// on the target.
func (e *Executor) sshArgs(command string) []string {
	args := e.scpArgs()
	args = append(args, e.sshTarget(), command)
	return args
}

// scpArgs assembles the option arguments shared by ssh and scp invocations.
//
// WARNING: strict host key checking and known_hosts verification are disabled
// so fresh stations can be provisioned without a prior known_hosts entry.
// That leaves connections open to MITM; pin host keys before pointing this
// tool at anything outside a trusted network.
func (e *Executor) scpArgs() []string {
	args := []string{}

	if e.SSHKey != "" {
		args = append(args, "-i", e.SSHKey)
	}
	if e.IdentityAgent != "" {
		args = append(args, "-o", fmt.Sprintf("IdentityAgent=%s", e.IdentityAgent))
	}

	args = append(args, "-o", "StrictHostKeyChecking=no")
	args = append(args, "-o", "UserKnownHostsFile=/dev/null")
	args = append(args, "-o", "LogLevel=ERROR")
	return args
}

// sshTarget returns the user@host form of the target, leaving targets that
// already carry a user untouched.
func (e *Executor) sshTarget() string {
	target := e.Target
	if e.SSHUser != "" && !strings.Contains(target, "@") {
		target = fmt.Sprintf("%s@%s", e.SSHUser, target)
	}
	return target
}

func (e *Executor) copyLocal(src, dst string) error {
	// Writes into system paths need sudo. /var/folders is the macOS per-user
	// temp root, not a system directory.
	needsSudo := strings.HasPrefix(dst, "/usr") ||
		strings.HasPrefix(dst, "/etc") ||
		(strings.HasPrefix(dst, "/var") && !strings.HasPrefix(dst, "/var/folders"))

	if needsSudo {
		if output, err := e.Builder.BuildCommand("sudo", "cp", src, dst).Run(); err != nil {
			return fmt.Errorf("sudo cp failed: %w, output: %s", err, output)
		}
		return nil
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	_, err = io.Copy(dstFile, srcFile)
	return err
}

func (e *Executor) copySSH(src, dst string) error {
	tempPath := fmt.Sprintf("/tmp/binsort-copy-%d", time.Now().Unix())
	args := append(e.scpArgs(), src, fmt.Sprintf("%s:%s", e.sshTarget(), tempPath))

	e.Logger.Debugf("SCP push: scp %v", args)
	if output, err := e.Builder.BuildCommand("scp", args...).Run(); err != nil {
		return fmt.Errorf("scp failed: %w, output: %s", err, output)
	}

	// Move into place, with sudo for system paths.
	if strings.HasPrefix(dst, "/usr") || strings.HasPrefix(dst, "/etc") || strings.HasPrefix(dst, "/var") {
		_, err := e.RunSudo(fmt.Sprintf("mv %s %s", tempPath, dst))
		return err
	}

	_, err := e.Run(fmt.Sprintf("mv %s %s", tempPath, dst))
	return err
}
