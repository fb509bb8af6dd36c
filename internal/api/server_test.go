package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/refuseworks/binsort/internal/category"
	"github.com/refuseworks/binsort/internal/classify"
	"github.com/refuseworks/binsort/internal/db"
	"github.com/refuseworks/binsort/internal/decision"
	"github.com/refuseworks/binsort/internal/serialmux"
)

func setupTestServer(t *testing.T) (*Server, *db.DB) {
	t.Helper()

	dbInst, err := db.NewDB(cloneAPITestDB(t))
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { dbInst.Close() })

	mux := serialmux.NewDisabledSerialMux()
	agg := decision.New(decision.DefaultConfig(), nil)
	server := NewServer(mux, dbInst, agg, nil, t.TempDir())

	return server, dbInst
}

func TestShowStatus(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	server.showStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp statusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if resp.Cycle.Finalized {
		t.Error("Expected fresh cycle to be unfinalized")
	}
	if resp.Cycle.CycleID == "" {
		t.Error("Expected a cycle ID")
	}
	if len(resp.Cycle.Window) != 0 {
		t.Errorf("Expected empty window, got %v", resp.Cycle.Window)
	}
	if resp.Serial != nil {
		t.Error("Expected no serial snapshot for a plain mux")
	}
}

func TestShowStatus_Finalized(t *testing.T) {
	server, _ := setupTestServer(t)

	server.agg.Observe(category.Metal)
	server.agg.Observe(category.Metal)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	server.showStatus(w, req)

	var resp statusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if !resp.Cycle.Finalized {
		t.Fatal("Expected cycle to be finalized after two matching observations")
	}
	if resp.Cycle.Current != category.Metal {
		t.Errorf("Expected current category Metal, got %q", resp.Cycle.Current)
	}
}

func TestShowStatus_MethodNotAllowed(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/status", nil)
	w := httptest.NewRecorder()
	server.showStatus(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestShowTally_ZerosForRegistered(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tally", nil)
	w := httptest.NewRecorder()
	server.showTally(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var tally map[string]int64
	if err := json.NewDecoder(w.Body).Decode(&tally); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	for _, c := range category.Registered {
		n, ok := tally[string(c)]
		if !ok {
			t.Errorf("Expected %s in tally", c)
			continue
		}
		if n != 0 {
			t.Errorf("Expected zero count for %s, got %d", c, n)
		}
	}
}

func TestShowTally_CountsDecisions(t *testing.T) {
	server, _ := setupTestServer(t)

	// Two consecutive Plastic observations finalize the cycle.
	server.agg.Observe(category.Plastic)
	server.agg.Observe(category.Plastic)

	req := httptest.NewRequest(http.MethodGet, "/api/tally", nil)
	w := httptest.NewRecorder()
	server.showTally(w, req)

	var tally map[string]int64
	if err := json.NewDecoder(w.Body).Decode(&tally); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if tally["Plastic"] != 1 {
		t.Errorf("Expected Plastic count 1, got %d", tally["Plastic"])
	}
}

func TestResetCycle(t *testing.T) {
	server, _ := setupTestServer(t)

	server.agg.Observe(category.Glass)
	server.agg.Observe(category.Glass)
	before := server.agg.CycleID()

	req := httptest.NewRequest(http.MethodPost, "/api/reset", nil)
	w := httptest.NewRecorder()
	server.resetCycle(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp["status"] != "reset" {
		t.Errorf("Expected status 'reset', got %q", resp["status"])
	}
	if resp["cycle_id"] == before {
		t.Error("Expected a new cycle ID after reset")
	}

	if _, finalized := server.agg.Current(); finalized {
		t.Error("Expected cycle to be unfinalized after reset")
	}
	// Tally survives the reset.
	if server.agg.Tally()[category.Glass] != 1 {
		t.Error("Expected Glass tally to survive reset")
	}
}

func TestResetCycle_MethodNotAllowed(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/reset", nil)
	w := httptest.NewRecorder()
	server.resetCycle(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestShowDecisionStats(t *testing.T) {
	server, dbInst := setupTestServer(t)

	if err := dbInst.RecordDecision("cyc_a", category.Paper, 1); err != nil {
		t.Fatalf("Failed to record decision: %v", err)
	}
	if err := dbInst.RecordDecision("cyc_b", category.Paper, 2); err != nil {
		t.Fatalf("Failed to record decision: %v", err)
	}
	if err := dbInst.RecordObservation("cyc_a", category.Paper, 0.91, "spool/a.jpg"); err != nil {
		t.Fatalf("Failed to record observation: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/decisions?days=7", nil)
	w := httptest.NewRecorder()
	server.showDecisionStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var stats []db.CategoryRollup
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("Expected 1 rollup row, got %d", len(stats))
	}
	if stats[0].Category != "Paper" || stats[0].Decisions != 2 {
		t.Errorf("Unexpected rollup: %+v", stats[0])
	}
}

func TestShowDecisionStats_InvalidDays(t *testing.T) {
	server, _ := setupTestServer(t)

	for _, days := range []string{"0", "-3", "soon"} {
		req := httptest.NewRequest(http.MethodGet, "/api/decisions?days="+days, nil)
		w := httptest.NewRecorder()
		server.showDecisionStats(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("days=%s: expected status 400, got %d", days, w.Code)
		}
	}
}

func TestShowDecisionStats_EmptyIsArray(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/decisions", nil)
	w := httptest.NewRecorder()
	server.showDecisionStats(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("Expected empty JSON array, got %q", body)
	}
}

func TestListObservations(t *testing.T) {
	server, dbInst := setupTestServer(t)

	for i := 0; i < 3; i++ {
		if err := dbInst.RecordObservation("cyc_x", category.Trash, 0.5, "spool/x.jpg"); err != nil {
			t.Fatalf("Failed to record observation: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/observations?limit=2", nil)
	w := httptest.NewRecorder()
	server.listObservations(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var rows []db.Observation
	if err := json.NewDecoder(w.Body).Decode(&rows); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("Expected 2 observations, got %d", len(rows))
	}
}

func TestListObservations_InvalidLimit(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/observations?limit=zero", nil)
	w := httptest.NewRecorder()
	server.listObservations(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestSendCommandHandler(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader("command=STATUS"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	server.sendCommandHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestServeMuxRoutes(t *testing.T) {
	server, _ := setupTestServer(t)
	mux := server.ServeMux()

	// Spot-check that the main routes are wired.
	for _, path := range []string{"/api/status", "/api/tally", "/api/observations", "/api/serial-configs"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code == http.StatusNotFound {
			t.Errorf("Expected %s to be routed, got 404", path)
		}
	}
}

func TestStatusCodeColor(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, colorBoldGreen + "200" + colorReset},
		{302, colorYellow + "302" + colorReset},
		{404, colorBoldRed + "404" + colorReset},
		{500, colorBoldRed + "500" + colorReset},
		{199, "199"},
	}
	for _, tt := range tests {
		if got := statusCodeColor(tt.code); got != tt.want {
			t.Errorf("statusCodeColor(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestLoggingMiddleware_PreservesStatus(t *testing.T) {
	handler := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTeapot {
		t.Errorf("Expected status 418, got %d", w.Code)
	}
}

// newScriptedServer swaps in a scripted classifier for the classify endpoint
// tests.
func newScriptedServer(t *testing.T, verdicts ...classify.ScriptedVerdict) (*Server, string) {
	t.Helper()

	server, _ := setupTestServer(t)
	server.classifier = classify.NewScriptedClassifier(verdicts...)
	return server, server.spoolDir
}
