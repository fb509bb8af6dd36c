package deploy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type testLogger struct {
	logs []string
}

func (l *testLogger) Debugf(format string, args ...interface{}) {
	l.logs = append(l.logs, fmt.Sprintf(format, args...))
}

func TestNewExecutor(t *testing.T) {
	e := NewExecutor("station.example.com", "deployer", "/path/to/key", "/path/to/agent", false)

	if e.Target != "station.example.com" {
		t.Errorf("Expected target station.example.com, got %s", e.Target)
	}
	if e.SSHUser != "deployer" {
		t.Errorf("Expected deployer, got %s", e.SSHUser)
	}
	if e.SSHKey != "/path/to/key" {
		t.Errorf("Expected /path/to/key, got %s", e.SSHKey)
	}
	if e.IdentityAgent != "/path/to/agent" {
		t.Errorf("Expected /path/to/agent, got %s", e.IdentityAgent)
	}
	if e.DryRun {
		t.Error("Expected DryRun false")
	}
	if e.Builder == nil {
		t.Error("Expected a default command builder")
	}
}

func TestExecutor_IsLocal(t *testing.T) {
	tests := []struct {
		target   string
		expected bool
	}{
		{"localhost", true},
		{"127.0.0.1", true},
		{"", true},
		{"station.example.com", false},
		{"192.168.1.100", false},
	}

	for _, tc := range tests {
		t.Run(tc.target, func(t *testing.T) {
			e := NewExecutor(tc.target, "", "", "", false)
			if e.IsLocal() != tc.expected {
				t.Errorf("IsLocal(%s) = %v, want %v", tc.target, e.IsLocal(), tc.expected)
			}
		})
	}
}

func TestExecutor_SetLogger(t *testing.T) {
	e := NewExecutor("localhost", "", "", "", false)
	logger := &testLogger{}
	e.SetLogger(logger)

	e.Builder = NewMockCommandBuilder()
	e.Run("echo test")

	if len(logger.logs) == 0 {
		t.Error("Expected debug output after SetLogger")
	}

	// SetLogger with nil should keep the previous logger and not panic.
	e.SetLogger(nil)
	e.Run("echo again")
}

func TestExecutor_Run_DryRun(t *testing.T) {
	e := NewExecutor("localhost", "", "", "", true)
	output, err := e.Run("echo hello")

	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if !strings.Contains(output, "[DRY-RUN]") {
		t.Errorf("Expected dry-run output, got: %s", output)
	}
	if !strings.Contains(output, "echo hello") {
		t.Errorf("Expected command in output, got: %s", output)
	}
}

func TestExecutor_Run_Local(t *testing.T) {
	e := NewExecutor("localhost", "", "", "", false)
	output, err := e.Run("echo hello")

	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if strings.TrimSpace(output) != "hello" {
		t.Errorf("Expected 'hello', got: %s", output)
	}
}

func TestExecutor_Run_LocalError(t *testing.T) {
	e := NewExecutor("localhost", "", "", "", false)
	_, err := e.Run("exit 1")

	if err == nil {
		t.Error("Expected error for failed command")
	}
}

func TestExecutor_Run_LocalUsesShell(t *testing.T) {
	builder := NewMockCommandBuilder()
	e := NewExecutor("localhost", "", "", "", false)
	e.Builder = builder

	e.Run("systemctl status binsort")

	last := builder.LastCommand()
	if last == nil {
		t.Fatal("Expected a built command")
	}
	if !last.IsShell {
		t.Error("Expected local commands to run through the shell")
	}
	if last.Args[1] != "systemctl status binsort" {
		t.Errorf("Unexpected shell command: %v", last.Args)
	}
}

func TestExecutor_Run_RemoteBuildsSSH(t *testing.T) {
	builder := NewMockCommandBuilder()
	e := NewExecutor("station.example.com", "deployer", "/path/to/key", "", false)
	e.Builder = builder

	e.Run("uptime")

	last := builder.LastCommand()
	if last == nil {
		t.Fatal("Expected a built command")
	}
	if last.Name != "ssh" {
		t.Errorf("Expected ssh, got %s", last.Name)
	}

	joined := strings.Join(last.Args, " ")
	if !strings.Contains(joined, "-i /path/to/key") {
		t.Errorf("Expected key flag in args: %v", last.Args)
	}
	if !strings.Contains(joined, "deployer@station.example.com") {
		t.Errorf("Expected user@host target in args: %v", last.Args)
	}
	if last.Args[len(last.Args)-1] != "uptime" {
		t.Errorf("Expected command as final arg, got: %v", last.Args)
	}
}

func TestExecutor_RunSudo_PrependsSudo(t *testing.T) {
	builder := NewMockCommandBuilder()
	e := NewExecutor("station.example.com", "", "", "", false)
	e.Builder = builder

	e.RunSudo("systemctl restart binsort")

	last := builder.LastCommand()
	if last == nil {
		t.Fatal("Expected a built command")
	}
	if last.Args[len(last.Args)-1] != "sudo systemctl restart binsort" {
		t.Errorf("Expected sudo-prefixed command, got: %v", last.Args)
	}
}

func TestExecutor_RunSudo_DryRun(t *testing.T) {
	e := NewExecutor("localhost", "", "", "", true)
	output, err := e.RunSudo("cat /etc/passwd")

	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if !strings.Contains(output, "[DRY-RUN]") {
		t.Errorf("Expected dry-run output, got: %s", output)
	}
	if !strings.Contains(output, "sudo") {
		t.Errorf("Expected sudo in output, got: %s", output)
	}
}

func TestExecutor_CopyFile_DryRun(t *testing.T) {
	e := NewExecutor("localhost", "", "", "", true)
	err := e.CopyFile("/source/file", "/dest/file")

	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestExecutor_CopyFile_Local(t *testing.T) {
	tmpDir := t.TempDir()
	srcPath := filepath.Join(tmpDir, "source.txt")
	dstPath := filepath.Join(tmpDir, "dest.txt")

	if err := os.WriteFile(srcPath, []byte("test content"), 0644); err != nil {
		t.Fatalf("Failed to create source file: %v", err)
	}

	e := NewExecutor("localhost", "", "", "", false)
	err := e.CopyFile(srcPath, dstPath)

	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	content, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("Failed to read destination file: %v", err)
	}
	if string(content) != "test content" {
		t.Errorf("Expected 'test content', got: %s", string(content))
	}
}

func TestExecutor_CopyFile_LocalMissingSrc(t *testing.T) {
	tmpDir := t.TempDir()
	e := NewExecutor("localhost", "", "", "", false)
	err := e.CopyFile(filepath.Join(tmpDir, "nonexistent.txt"), filepath.Join(tmpDir, "dest.txt"))

	if err == nil {
		t.Error("Expected error for missing source file")
	}
}

func TestExecutor_CopyFile_LocalSystemPathUsesSudo(t *testing.T) {
	builder := NewMockCommandBuilder()
	e := NewExecutor("localhost", "", "", "", false)
	e.Builder = builder

	if err := e.CopyFile("/tmp/binsort", "/usr/local/bin/binsort"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	last := builder.LastCommand()
	if last == nil {
		t.Fatal("Expected a built command")
	}
	if last.Name != "sudo" {
		t.Errorf("Expected sudo cp for system path, got: %s %v", last.Name, last.Args)
	}
	if len(last.Args) != 3 || last.Args[0] != "cp" {
		t.Errorf("Expected cp src dst args, got: %v", last.Args)
	}
}

func TestExecutor_CopyFile_RemoteStagesUnderTmp(t *testing.T) {
	builder := NewMockCommandBuilder()
	e := NewExecutor("station.example.com", "deployer", "", "", false)
	e.Builder = builder

	if err := e.CopyFile("./binsort", "/usr/local/bin/binsort"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if len(builder.Commands) != 2 {
		t.Fatalf("Expected scp then ssh mv, got %d commands", len(builder.Commands))
	}

	scp := builder.Commands[0]
	if scp.Name != "scp" {
		t.Errorf("Expected scp first, got %s", scp.Name)
	}
	dest := scp.Args[len(scp.Args)-1]
	if !strings.Contains(dest, ":/tmp/binsort-copy-") {
		t.Errorf("Expected staging path under /tmp, got: %s", dest)
	}

	mv := builder.Commands[1]
	if mv.Name != "ssh" {
		t.Errorf("Expected ssh mv second, got %s", mv.Name)
	}
	moved := mv.Args[len(mv.Args)-1]
	if !strings.Contains(moved, "sudo mv /tmp/binsort-copy-") || !strings.Contains(moved, "/usr/local/bin/binsort") {
		t.Errorf("Expected sudo mv into place, got: %s", moved)
	}
}

func TestExecutor_FetchFile_Remote(t *testing.T) {
	builder := NewMockCommandBuilder()
	e := NewExecutor("station.example.com", "deployer", "/path/to/key", "", false)
	e.Builder = builder

	if err := e.FetchFile("/tmp/binsort.db", "./backups/binsort.db"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	last := builder.LastCommand()
	if last == nil {
		t.Fatal("Expected a built command")
	}
	if last.Name != "scp" {
		t.Errorf("Expected scp, got %s", last.Name)
	}
	src := last.Args[len(last.Args)-2]
	if src != "deployer@station.example.com:/tmp/binsort.db" {
		t.Errorf("Expected remote source, got: %s", src)
	}
	if last.Args[len(last.Args)-1] != "./backups/binsort.db" {
		t.Errorf("Expected local destination, got: %v", last.Args)
	}
}

func TestExecutor_FetchFile_Error(t *testing.T) {
	builder := NewMockCommandBuilder()
	builder.SetNextExecutor(&MockCommandExecutor{
		Output: []byte("lost connection"),
		Err:    fmt.Errorf("exit status 1"),
	})
	e := NewExecutor("station.example.com", "", "", "", false)
	e.Builder = builder

	err := e.FetchFile("/tmp/binsort.db", "./binsort.db")
	if err == nil {
		t.Fatal("Expected error from failed scp")
	}
	if !strings.Contains(err.Error(), "lost connection") {
		t.Errorf("Expected scp output in error, got: %v", err)
	}
}

func TestExecutor_WriteFile_DryRun(t *testing.T) {
	e := NewExecutor("localhost", "", "", "", true)
	err := e.WriteFile("/tmp/test.txt", "content")

	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestExecutor_WriteFile_Local(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "test.txt")

	e := NewExecutor("localhost", "", "", "", false)
	err := e.WriteFile(filePath, "test content")

	if err != nil {
		t.Errorf("Unexpected error: %v", err)
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != "test content" {
		t.Errorf("Expected 'test content', got: %s", string(content))
	}
}

func TestExecutor_WriteFile_RemoteStreamsStdin(t *testing.T) {
	builder := NewMockCommandBuilder()
	executor := &MockCommandExecutor{}
	builder.SetNextExecutor(executor)

	e := NewExecutor("station.example.com", "", "", "", false)
	e.Builder = builder

	if err := e.WriteFile("/tmp/binsort.service", "unit content"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	last := builder.LastCommand()
	if last == nil || last.Name != "ssh" {
		t.Fatalf("Expected ssh command, got: %+v", last)
	}
	if last.Args[len(last.Args)-1] != "cat > /tmp/binsort.service" {
		t.Errorf("Expected cat redirect, got: %v", last.Args)
	}
	if string(executor.Stdin) != "unit content" {
		t.Errorf("Expected content on stdin, got: %s", executor.Stdin)
	}
}

func TestExecutor_sshArgs(t *testing.T) {
	e := NewExecutor("station.example.com", "deployer", "/path/to/key", "/path/to/agent", false)
	args := e.sshArgs("echo hello")

	keyFound := false
	for i, arg := range args {
		if arg == "-i" && i+1 < len(args) && args[i+1] == "/path/to/key" {
			keyFound = true
			break
		}
	}
	if !keyFound {
		t.Errorf("Expected -i /path/to/key in args: %v", args)
	}

	agentFound := false
	for _, arg := range args {
		if strings.Contains(arg, "IdentityAgent=/path/to/agent") {
			agentFound = true
			break
		}
	}
	if !agentFound {
		t.Errorf("Expected IdentityAgent=/path/to/agent in args: %v", args)
	}

	if args[len(args)-2] != "deployer@station.example.com" {
		t.Errorf("Expected user@host before command in args: %v", args)
	}
	if args[len(args)-1] != "echo hello" {
		t.Errorf("Expected command as final arg: %v", args)
	}
}

func TestExecutor_sshTarget(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		user     string
		expected string
	}{
		{"no user", "station.example.com", "", "station.example.com"},
		{"with user", "station.example.com", "deployer", "deployer@station.example.com"},
		{"target already has user", "existing@station.example.com", "ignored", "existing@station.example.com"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := NewExecutor(tc.target, tc.user, "", "", false)
			if got := e.sshTarget(); got != tc.expected {
				t.Errorf("sshTarget() = %s, want %s", got, tc.expected)
			}
		})
	}
}

func TestLogger_NopLogger(t *testing.T) {
	logger := nopLogger{}
	logger.Debugf("test %s", "message")
}
