// Package deploy runs shell commands against a deployment target, either the
// local machine or a sorting station reached over SSH. The station tooling in
// cmd/deploy drives installs, upgrades, and backups through this package.
package deploy

import (
	"bytes"
	"os/exec"
)

// CommandExecutor is a single runnable command. The indirection lets tests
// substitute canned output for ssh and scp invocations instead of spawning
// real processes.
type CommandExecutor interface {
	// Run executes the command and returns combined stdout and stderr.
	Run() ([]byte, error)

	// SetStdin supplies stdin for the command.
	SetStdin(stdin []byte)
}

// CommandBuilder constructs the commands an Executor runs. Production code
// uses RealCommandBuilder; tests swap in a MockCommandBuilder to inspect the
// exact ssh/scp invocations an operation would perform.
type CommandBuilder interface {
	// BuildCommand prepares a command invoked directly with its arguments.
	BuildCommand(name string, args ...string) CommandExecutor

	// BuildShellCommand prepares a command run through sh -c.
	BuildShellCommand(command string) CommandExecutor
}

// RealCommandBuilder builds commands on top of os/exec.
type RealCommandBuilder struct{}

func NewRealCommandBuilder() *RealCommandBuilder {
	return &RealCommandBuilder{}
}

func (b *RealCommandBuilder) BuildCommand(name string, args ...string) CommandExecutor {
	return &RealCommandExecutor{cmd: exec.Command(name, args...)}
}

func (b *RealCommandBuilder) BuildShellCommand(command string) CommandExecutor {
	return b.BuildCommand("sh", "-c", command)
}

// RealCommandExecutor wraps an exec.Cmd.
type RealCommandExecutor struct {
	cmd *exec.Cmd
}

func (r *RealCommandExecutor) Run() ([]byte, error) {
	return r.cmd.CombinedOutput()
}

func (r *RealCommandExecutor) SetStdin(stdin []byte) {
	r.cmd.Stdin = bytes.NewReader(stdin)
}

// MockCommandExecutor implements CommandExecutor for testing.
type MockCommandExecutor struct {
	// Output and Err are returned from Run.
	Output []byte
	Err    error

	// Stdin holds whatever SetStdin delivered.
	Stdin []byte

	// RunCalled flips to true once Run executes.
	RunCalled bool
}

func (m *MockCommandExecutor) Run() ([]byte, error) {
	m.RunCalled = true
	return m.Output, m.Err
}

func (m *MockCommandExecutor) SetStdin(stdin []byte) {
	m.Stdin = stdin
}

// MockCommandBuilder implements CommandBuilder for testing. It records every
// command an Executor asks for so tests can assert on the invocations.
type MockCommandBuilder struct {
	// Commands records all commands that were built.
	Commands []MockBuiltCommand

	// NextExecutor is returned by the next Build* call. If nil, a default
	// MockCommandExecutor is created.
	NextExecutor *MockCommandExecutor

	// ExecutorFactory creates executors dynamically based on the command.
	// Takes priority over NextExecutor when set.
	ExecutorFactory func(name string, args []string) *MockCommandExecutor
}

// MockBuiltCommand records details of a built command.
type MockBuiltCommand struct {
	Name    string
	Args    []string
	IsShell bool
}

func NewMockCommandBuilder() *MockCommandBuilder {
	return &MockCommandBuilder{}
}

func (b *MockCommandBuilder) BuildCommand(name string, args ...string) CommandExecutor {
	return b.record(name, args, false)
}

func (b *MockCommandBuilder) BuildShellCommand(command string) CommandExecutor {
	return b.record("sh", []string{"-c", command}, true)
}

// record appends the invocation and picks the executor to hand back:
// the factory if one is installed, otherwise the pending NextExecutor,
// otherwise a fresh default.
func (b *MockCommandBuilder) record(name string, args []string, shell bool) *MockCommandExecutor {
	b.Commands = append(b.Commands, MockBuiltCommand{
		Name:    name,
		Args:    args,
		IsShell: shell,
	})

	if b.ExecutorFactory != nil {
		return b.ExecutorFactory(name, args)
	}
	if next := b.NextExecutor; next != nil {
		b.NextExecutor = nil
		return next
	}
	return &MockCommandExecutor{}
}

// SetNextExecutor queues an executor for the next Build* call.
func (b *MockCommandBuilder) SetNextExecutor(executor *MockCommandExecutor) {
	b.NextExecutor = executor
}

// LastCommand returns the most recently built command, or nil if none.
func (b *MockCommandBuilder) LastCommand() *MockBuiltCommand {
	if len(b.Commands) == 0 {
		return nil
	}
	return &b.Commands[len(b.Commands)-1]
}

// Reset clears recorded commands and any queued executor.
func (b *MockCommandBuilder) Reset() {
	b.Commands = nil
	b.NextExecutor = nil
}
