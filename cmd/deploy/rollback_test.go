package main

import (
	"os"
	"strings"
	"testing"

	"github.com/refuseworks/binsort/internal/deploy"
)

// feedStdin replaces os.Stdin with the given input for the duration of the
// test, so code using fmt.Scanln for confirmation prompts can run.
func feedStdin(t *testing.T, input string) {
	t.Helper()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}

	old := os.Stdin
	os.Stdin = r
	t.Cleanup(func() {
		os.Stdin = old
		r.Close()
	})

	go func() {
		w.WriteString(input)
		w.Close()
	}()
}

func newTestRollback(outputs map[string]string) (*Rollback, *deploy.MockCommandBuilder) {
	builder := deploy.NewMockCommandBuilder()
	builder.ExecutorFactory = stationResponder(outputs)

	exec := deploy.NewExecutor("station.example.com", "deployer", "", "", false)
	exec.Builder = builder

	return &Rollback{
		Target:  "station.example.com",
		SSHUser: "deployer",
		Exec:    exec,
	}, builder
}

func rollbackStationOutputs() map[string]string {
	return map[string]string{
		"ls -1t":    "20250602-081509\n",
		"test -f":   "exists\n",
		"is-active": "active\n",
	}
}

func TestRollback_findLatestBackup(t *testing.T) {
	r, _ := newTestRollback(rollbackStationOutputs())

	backupDir, err := r.findLatestBackup(r.Exec)
	if err != nil {
		t.Fatalf("findLatestBackup() error = %v", err)
	}

	want := "/var/lib/binsort/backups/20250602-081509"
	if backupDir != want {
		t.Errorf("findLatestBackup() = %q, want %q", backupDir, want)
	}
}

func TestRollback_findLatestBackup_NoBackups(t *testing.T) {
	r, _ := newTestRollback(map[string]string{
		"ls -1t": "\n",
	})

	_, err := r.findLatestBackup(r.Exec)
	if err == nil || !strings.Contains(err.Error(), "no backups found") {
		t.Errorf("findLatestBackup() error = %v, want 'no backups found'", err)
	}
}

func TestRollback_findLatestBackup_MissingBinary(t *testing.T) {
	r, _ := newTestRollback(map[string]string{
		"ls -1t":  "20250602-081509\n",
		"test -f": "missing\n",
	})

	_, err := r.findLatestBackup(r.Exec)
	if err == nil || !strings.Contains(err.Error(), "binary not found") {
		t.Errorf("findLatestBackup() error = %v, want 'binary not found'", err)
	}
}

func TestRollback_Execute_FullFlow(t *testing.T) {
	// Confirm the rollback, confirm the data restore.
	feedStdin(t, "y\ny\n")

	r, builder := newTestRollback(rollbackStationOutputs())

	if err := r.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	requireCommand(t, builder, "systemctl stop binsort")
	requireCommand(t, builder, "cp /var/lib/binsort/backups/20250602-081509/binsort /usr/local/bin/binsort")
	requireCommand(t, builder, "chown root:root /usr/local/bin/binsort")
	requireCommand(t, builder, "cp /var/lib/binsort/backups/20250602-081509/binsort.db /var/lib/binsort/binsort.db")
	requireCommand(t, builder, "chown binsort:binsort /var/lib/binsort/binsort.db")
	requireCommand(t, builder, "systemctl start binsort")
	requireCommand(t, builder, "systemctl is-active binsort")
}

func TestRollback_Execute_Cancelled(t *testing.T) {
	feedStdin(t, "n\n")

	r, builder := newTestRollback(rollbackStationOutputs())

	if err := r.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	// Declining the prompt must leave the station untouched.
	for _, line := range commandLines(builder) {
		if strings.Contains(line, "systemctl stop") || strings.Contains(line, "cp ") {
			t.Errorf("cancelled rollback still ran: %s", line)
		}
	}
}

func TestRollback_Execute_KeepCurrentData(t *testing.T) {
	// Confirm the rollback, decline the data restore.
	feedStdin(t, "y\nn\n")

	r, builder := newTestRollback(rollbackStationOutputs())

	if err := r.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	requireCommand(t, builder, "cp /var/lib/binsort/backups/20250602-081509/binsort /usr/local/bin/binsort")
	for _, line := range commandLines(builder) {
		if strings.Contains(line, "cp /var/lib/binsort/backups/20250602-081509/binsort.db") {
			t.Errorf("database restored despite declined prompt: %s", line)
		}
	}
}

func TestRollback_Execute_DryRun(t *testing.T) {
	r := &Rollback{
		Target: "localhost",
		DryRun: true,
	}

	// Dry-run needs no prompt and runs no commands.
	if err := r.Execute(); err != nil {
		t.Errorf("Execute() dry-run error = %v, want nil", err)
	}
}

func TestRollback_Execute_UnhealthyAfterRestore(t *testing.T) {
	feedStdin(t, "y\nn\n")

	outputs := rollbackStationOutputs()
	outputs["is-active"] = "failed\n"

	r, _ := newTestRollback(outputs)

	err := r.Execute()
	if err == nil || !strings.Contains(err.Error(), "health check failed") {
		t.Errorf("Execute() error = %v, want 'health check failed'", err)
	}
}
