package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/refuseworks/binsort/internal/deploy"
	"github.com/refuseworks/binsort/internal/httputil"
)

// Monitor inspects a station from the outside: service state over SSH,
// sorting activity through the station API.
type Monitor struct {
	Target        string
	SSHUser       string
	SSHKey        string
	IdentityAgent string
	APIPort       int

	// Client overrides the HTTP client used for API probes. Nil means a
	// real client with a short timeout.
	Client httputil.HTTPClient
	// Exec overrides the command executor. Nil means a real one for Target.
	Exec *deploy.Executor
}

// HealthStatus represents the health check result
type HealthStatus struct {
	Healthy bool
	Message string
	Details string
}

// SystemStatus is a point-in-time view of a station for the status command.
type SystemStatus struct {
	ServiceState string
	Since        string
	LogErrors    int
	APIReachable bool
	CycleID      string
	CurrentLoad  string
	DBSize       string
	DiskFree     string
}

// stationStatus mirrors the slice of the station's /api/status payload that
// the monitor reads.
type stationStatus struct {
	Cycle struct {
		CycleID   string `json:"cycle_id"`
		Finalized bool   `json:"finalized"`
		Current   string `json:"current"`
	} `json:"cycle"`
}

func (m *Monitor) executor() *deploy.Executor {
	if m.Exec != nil {
		return m.Exec
	}
	return newExecutor(m.Target, m.SSHUser, m.SSHKey, m.IdentityAgent, false)
}

func (m *Monitor) client() httputil.HTTPClient {
	if m.Client != nil {
		return m.Client
	}
	return httputil.NewStandardClient(&http.Client{Timeout: 5 * time.Second})
}

// apiHost is the host the API probe connects to. The SSH target may carry a
// user@ prefix; an empty target means localhost.
func (m *Monitor) apiHost() string {
	host := m.Target
	if at := strings.Index(host, "@"); at >= 0 {
		host = host[at+1:]
	}
	if host == "" {
		host = "localhost"
	}
	return host
}

func (m *Monitor) statusURL() string {
	port := m.APIPort
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("http://%s:%d/api/status", m.apiHost(), port)
}

// probeAPI fetches and decodes the station's /api/status endpoint.
func (m *Monitor) probeAPI(ctx context.Context) (*stationStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.statusURL(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := m.client().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var status stationStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode API response: %w", err)
	}
	return &status, nil
}

// countLogErrors counts occurrences of "error" in the last 20 journal lines
// for the service.
func (m *Monitor) countLogErrors(exec *deploy.Executor) (int, error) {
	output, err := exec.RunSudo(fmt.Sprintf("journalctl -u %s -n 20 --no-pager", serviceName))
	if err != nil {
		return 0, err
	}
	return strings.Count(strings.ToLower(output), "error"), nil
}

// GetStatus gathers service, log, API, and disk state for the status
// command. Individual probes that fail leave their fields zero rather than
// aborting the whole status.
func (m *Monitor) GetStatus(ctx context.Context) (*SystemStatus, error) {
	exec := m.executor()
	status := &SystemStatus{ServiceState: "unknown"}

	output, err := exec.RunSudo(fmt.Sprintf("systemctl is-active %s", serviceName))
	if state := strings.TrimSpace(output); state != "" {
		// is-active exits non-zero for inactive/failed but still prints the state.
		status.ServiceState = state
	} else if err != nil {
		debugLog("is-active failed: %v", err)
	}

	if output, err := exec.RunSudo(fmt.Sprintf("systemctl show %s --property=ActiveEnterTimestamp --value", serviceName)); err == nil {
		status.Since = strings.TrimSpace(output)
	}

	if count, err := m.countLogErrors(exec); err == nil {
		status.LogErrors = count
	}

	if api, err := m.probeAPI(ctx); err == nil {
		status.APIReachable = true
		status.CycleID = api.Cycle.CycleID
		status.CurrentLoad = api.Cycle.Current
	} else {
		debugLog("API probe failed: %v", err)
	}

	if output, err := exec.RunSudo(fmt.Sprintf("du -h %s 2>/dev/null | cut -f1", stationDBPath)); err == nil {
		status.DBSize = strings.TrimSpace(output)
	}

	if output, err = exec.Run(fmt.Sprintf("df -h %s 2>/dev/null | tail -1 | awk '{print $4}'", dataDir)); err == nil {
		status.DiskFree = strings.TrimSpace(output)
	}

	return status, nil
}

// FormatStatus renders the status for the terminal.
func (s *SystemStatus) FormatStatus() string {
	var b strings.Builder

	b.WriteString("Station Status\n")
	b.WriteString("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")

	mark := "✗"
	if s.ServiceState == "active" {
		mark = "✓"
	}
	fmt.Fprintf(&b, "%s Service:   %s\n", mark, s.ServiceState)
	if s.Since != "" {
		fmt.Fprintf(&b, "  Since:     %s\n", s.Since)
	}

	mark = "✓"
	if s.LogErrors > 5 {
		mark = "⚠"
	}
	fmt.Fprintf(&b, "%s Logs:      %d errors in last 20 lines\n", mark, s.LogErrors)

	if s.APIReachable {
		b.WriteString("✓ API:       responding")
		if s.CycleID != "" {
			fmt.Fprintf(&b, " (cycle %s", s.CycleID)
			if s.CurrentLoad != "" {
				fmt.Fprintf(&b, ", classifying %s", s.CurrentLoad)
			}
			b.WriteString(")")
		}
		b.WriteString("\n")
	} else {
		b.WriteString("✗ API:       NOT RESPONDING\n")
	}

	if s.DBSize != "" {
		fmt.Fprintf(&b, "  Database:  %s\n", s.DBSize)
	}
	if s.DiskFree != "" {
		fmt.Fprintf(&b, "  Disk free: %s\n", s.DiskFree)
	}

	return b.String()
}

// CheckHealth performs comprehensive health check
func (m *Monitor) CheckHealth() (*HealthStatus, error) {
	exec := m.executor()

	health := &HealthStatus{
		Healthy: true,
		Details: "",
	}

	var checks []string

	// Check 1: Service is running
	output, err := exec.RunSudo(fmt.Sprintf("systemctl is-active %s", serviceName))
	if err != nil || strings.TrimSpace(output) != "active" {
		health.Healthy = false
		health.Message = "Service is not running"
		checks = append(checks, "✗ Service: NOT RUNNING")
	} else {
		checks = append(checks, "✓ Service: RUNNING")
	}

	// Check 2: Service has been up for some time (not crash-looping)
	uptimeOutput, err := exec.RunSudo(fmt.Sprintf("systemctl show %s --property=ActiveEnterTimestamp --value", serviceName))
	if err == nil {
		checks = append(checks, fmt.Sprintf("✓ Started: %s", strings.TrimSpace(uptimeOutput)))
	}

	// Check 3: Check for recent errors in logs
	if errorCount, err := m.countLogErrors(exec); err == nil {
		if errorCount > 5 {
			health.Healthy = false
			if health.Message == "" {
				health.Message = fmt.Sprintf("Too many errors in logs (%d)", errorCount)
			}
			checks = append(checks, fmt.Sprintf("✗ Logs: %d errors found", errorCount))
		} else {
			checks = append(checks, fmt.Sprintf("✓ Logs: %d errors (acceptable)", errorCount))
		}
	}

	// Check 4: API endpoint is responding
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if api, probeErr := m.probeAPI(ctx); probeErr != nil {
		health.Healthy = false
		if health.Message == "" {
			health.Message = "API endpoint not responding"
		}
		checks = append(checks, fmt.Sprintf("✗ API: %v", probeErr))
	} else {
		checks = append(checks, fmt.Sprintf("✓ API: RESPONDING (cycle %s)", api.Cycle.CycleID))
	}

	// Check 5: Database file exists
	dbCheck, err := exec.RunSudo(fmt.Sprintf("test -f %s && echo 'exists' || echo 'missing'", stationDBPath))
	if err == nil && strings.TrimSpace(dbCheck) == "exists" {
		sizeOutput, err := exec.RunSudo(fmt.Sprintf("du -h %s | cut -f1", stationDBPath))
		if err == nil {
			checks = append(checks, fmt.Sprintf("✓ Database: %s", strings.TrimSpace(sizeOutput)))
		} else {
			checks = append(checks, "✓ Database: EXISTS")
		}
	} else {
		health.Healthy = false
		if health.Message == "" {
			health.Message = "Database file not found"
		}
		checks = append(checks, "✗ Database: MISSING")
	}

	health.Details = strings.Join(checks, "\n")

	if health.Healthy {
		health.Message = "All checks passed"
	}

	return health, nil
}

// ScanDiskUsage lists the largest entries under the station data directory.
func (m *Monitor) ScanDiskUsage() (string, error) {
	exec := m.executor()

	output, err := exec.RunSudo(fmt.Sprintf("du -ah %s 2>/dev/null | sort -rh | head -15", dataDir))
	if err != nil {
		return "", fmt.Errorf("disk scan failed: %w", err)
	}
	return output, nil
}

// Spinner animates progress on stdout for the slower commands.
type Spinner struct {
	frames  []string
	message string
	idx     int
}

// NewSpinner creates a spinner with the given message.
func NewSpinner(message string) *Spinner {
	return &Spinner{
		frames:  []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		message: message,
	}
}

// Next returns the next animation frame. The leading carriage return makes
// successive frames overwrite each other.
func (s *Spinner) Next() string {
	frame := s.frames[s.idx%len(s.frames)]
	s.idx++
	return fmt.Sprintf("\r%s %s", frame, s.message)
}
