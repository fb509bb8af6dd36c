package deploy

import (
	"errors"
	"strings"
	"testing"
)

func TestRealCommandBuilder_RunsCommands(t *testing.T) {
	builder := NewRealCommandBuilder()

	out, err := builder.BuildCommand("echo", "station1").Run()
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if strings.TrimSpace(string(out)) != "station1" {
		t.Errorf("output = %q, want station1", out)
	}
}

func TestRealCommandBuilder_ShellPipeline(t *testing.T) {
	builder := NewRealCommandBuilder()

	out, err := builder.BuildShellCommand("echo up | tr a-z A-Z").Run()
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if strings.TrimSpace(string(out)) != "UP" {
		t.Errorf("output = %q, want UP", out)
	}
}

func TestRealCommandBuilder_FailureSurfacesError(t *testing.T) {
	builder := NewRealCommandBuilder()

	if _, err := builder.BuildShellCommand("exit 3").Run(); err == nil {
		t.Error("failing command should return an error")
	}
}

func TestRealCommandExecutor_StdinReachesCommand(t *testing.T) {
	builder := NewRealCommandBuilder()

	cmd := builder.BuildShellCommand("cat")
	cmd.SetStdin([]byte("api_port=8080\n"))
	out, err := cmd.Run()
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if string(out) != "api_port=8080\n" {
		t.Errorf("output = %q", out)
	}
}

func TestMockCommandExecutor_CannedResult(t *testing.T) {
	wantErr := errors.New("connection refused")
	mock := &MockCommandExecutor{Output: []byte("ssh: connect to host station1"), Err: wantErr}

	out, err := mock.Run()
	if !errors.Is(err, wantErr) {
		t.Errorf("Run error = %v, want the canned error", err)
	}
	if string(out) != "ssh: connect to host station1" {
		t.Errorf("Run output = %q", out)
	}
	if !mock.RunCalled {
		t.Error("RunCalled should flip after Run")
	}

	mock.SetStdin([]byte("payload"))
	if string(mock.Stdin) != "payload" {
		t.Errorf("Stdin = %q, want payload", mock.Stdin)
	}
}

func TestMockCommandBuilder_RecordsInvocations(t *testing.T) {
	builder := NewMockCommandBuilder()

	builder.BuildCommand("ssh", "binsort@station1", "systemctl is-active binsort")
	builder.BuildShellCommand("journalctl -u binsort -n 50")

	if len(builder.Commands) != 2 {
		t.Fatalf("recorded %d commands, want 2", len(builder.Commands))
	}

	direct := builder.Commands[0]
	if direct.Name != "ssh" || direct.IsShell {
		t.Errorf("first command = %+v, want a direct ssh invocation", direct)
	}
	if len(direct.Args) != 2 {
		t.Errorf("ssh args = %v", direct.Args)
	}

	shell := builder.Commands[1]
	if shell.Name != "sh" || !shell.IsShell {
		t.Errorf("second command = %+v, want sh -c", shell)
	}
	if len(shell.Args) != 2 || shell.Args[0] != "-c" {
		t.Errorf("shell args = %v", shell.Args)
	}
}

func TestMockCommandBuilder_NextExecutorIsOneShot(t *testing.T) {
	builder := NewMockCommandBuilder()
	builder.SetNextExecutor(&MockCommandExecutor{Output: []byte("active")})

	out, _ := builder.BuildCommand("ssh", "station1", "systemctl is-active binsort").Run()
	if string(out) != "active" {
		t.Errorf("queued executor output = %q, want active", out)
	}

	out, _ = builder.BuildCommand("ssh", "station1", "uptime").Run()
	if out != nil {
		t.Errorf("second build should get a default executor, got %q", out)
	}
}

func TestMockCommandBuilder_FactoryWinsOverQueued(t *testing.T) {
	builder := NewMockCommandBuilder()
	builder.SetNextExecutor(&MockCommandExecutor{Output: []byte("queued")})
	builder.ExecutorFactory = func(name string, args []string) *MockCommandExecutor {
		if name == "scp" {
			return &MockCommandExecutor{Output: []byte("copied")}
		}
		return &MockCommandExecutor{Output: []byte("ran " + name)}
	}

	out, _ := builder.BuildCommand("scp", "binsort", "station1:/tmp/").Run()
	if string(out) != "copied" {
		t.Errorf("factory output = %q, want copied", out)
	}
	out, _ = builder.BuildCommand("ssh", "station1").Run()
	if string(out) != "ran ssh" {
		t.Errorf("factory output = %q, want ran ssh", out)
	}
}

func TestMockCommandBuilder_LastCommand(t *testing.T) {
	builder := NewMockCommandBuilder()

	if builder.LastCommand() != nil {
		t.Error("LastCommand should be nil before any builds")
	}

	builder.BuildCommand("ssh", "station1", "true")
	builder.BuildShellCommand("systemctl restart binsort")

	last := builder.LastCommand()
	if last == nil || !last.IsShell {
		t.Fatalf("LastCommand = %+v, want the shell invocation", last)
	}
	if last.Args[1] != "systemctl restart binsort" {
		t.Errorf("LastCommand args = %v", last.Args)
	}
}

func TestMockCommandBuilder_Reset(t *testing.T) {
	builder := NewMockCommandBuilder()
	builder.BuildCommand("ssh", "station1", "true")
	builder.SetNextExecutor(&MockCommandExecutor{})

	builder.Reset()

	if len(builder.Commands) != 0 || builder.NextExecutor != nil {
		t.Error("Reset should clear recorded commands and the queued executor")
	}
}
