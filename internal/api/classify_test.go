package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/refuseworks/binsort/internal/category"
	"github.com/refuseworks/binsort/internal/classify"
)

func postClassify(t *testing.T, server *Server, imagePath string) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(ClassifyRequest{ImagePath: imagePath})
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/classify", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.classifyImage(w, req)
	return w
}

func TestClassifyImage(t *testing.T) {
	server, spool := newScriptedServer(t, classify.Verdict("Metal", 0.93))

	imagePath := filepath.Join(spool, "item_001.jpg")
	if err := os.WriteFile(imagePath, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("Failed to write test image: %v", err)
	}

	w := postClassify(t, server, imagePath)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ClassifyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Category != "Metal" {
		t.Errorf("Expected category Metal, got %q", resp.Category)
	}
	if !resp.Registered {
		t.Error("Expected Metal to be a registered category")
	}
	if resp.Confidence != 0.93 {
		t.Errorf("Expected confidence 0.93, got %v", resp.Confidence)
	}
	if resp.Finalized {
		t.Error("Expected cycle to stay open after a single observation")
	}
	if resp.CycleID != server.agg.CycleID() {
		t.Errorf("Expected cycle ID %q, got %q", server.agg.CycleID(), resp.CycleID)
	}

	// The verdict counts as a regular observation.
	observations, err := server.db.RecentObservations(10)
	if err != nil {
		t.Fatalf("Failed to list observations: %v", err)
	}
	if len(observations) != 1 {
		t.Fatalf("Expected 1 recorded observation, got %d", len(observations))
	}
	if observations[0].Category != "Metal" || observations[0].ImagePath != imagePath {
		t.Errorf("Unexpected observation: %+v", observations[0])
	}
}

func TestClassifyImage_FinalizesCycle(t *testing.T) {
	server, spool := newScriptedServer(t,
		classify.Verdict("Glass", 0.8),
		classify.Verdict("Glass", 0.85),
	)

	postClassify(t, server, filepath.Join(spool, "a.jpg"))
	w := postClassify(t, server, filepath.Join(spool, "b.jpg"))

	var resp ClassifyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.Finalized {
		t.Fatal("Expected second matching verdict to finalize the cycle")
	}
	if resp.Decision != "Glass" {
		t.Errorf("Expected decision Glass, got %q", resp.Decision)
	}
}

func TestClassifyImage_UnregisteredLabel(t *testing.T) {
	server, spool := newScriptedServer(t, classify.Verdict("Styrofoam", 0.7))

	w := postClassify(t, server, filepath.Join(spool, "weird.jpg"))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp ClassifyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Registered {
		t.Error("Expected Styrofoam to be unregistered")
	}
	if resp.Category != string(category.Unknown) {
		t.Errorf("Expected Unknown category, got %q", resp.Category)
	}
}

func TestClassifyImage_PathOutsideSpool(t *testing.T) {
	server, _ := newScriptedServer(t, classify.Verdict("Paper", 0.9))

	w := postClassify(t, server, "/etc/passwd")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected status 400, got %d", w.Code)
	}
	// The classifier must never see a path that failed validation.
	if calls := server.classifier.(*classify.ScriptedClassifier).Calls(); len(calls) != 0 {
		t.Errorf("Expected no classifier calls, got %v", calls)
	}
}

func TestClassifyImage_TraversalRejected(t *testing.T) {
	server, spool := newScriptedServer(t, classify.Verdict("Paper", 0.9))

	w := postClassify(t, server, filepath.Join(spool, "..", "escape.jpg"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestClassifyImage_ClassifierError(t *testing.T) {
	server, spool := newScriptedServer(t, classify.VerdictErr(errors.New("model crashed")))

	w := postClassify(t, server, filepath.Join(spool, "item.jpg"))
	if w.Code != http.StatusBadGateway {
		t.Fatalf("Expected status 502, got %d", w.Code)
	}

	// A failed classification is not an observation.
	if len(server.agg.Snapshot().Window) != 0 {
		t.Error("Expected window to stay empty after classifier failure")
	}
	observations, err := server.db.RecentObservations(10)
	if err != nil {
		t.Fatalf("Failed to list observations: %v", err)
	}
	if len(observations) != 0 {
		t.Errorf("Expected no recorded observations, got %d", len(observations))
	}
}

func TestClassifyImage_NoClassifier(t *testing.T) {
	server, _ := setupTestServer(t) // classifier stays nil

	body := strings.NewReader(`{"image_path":"/spool/item.jpg"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/classify", body)
	w := httptest.NewRecorder()
	server.classifyImage(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestClassifyImage_BadRequests(t *testing.T) {
	server, _ := newScriptedServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid JSON", "{nope"},
		{"missing path", `{}`},
		{"empty path", `{"image_path":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/classify", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			server.classifyImage(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}
}

func TestClassifyImage_MethodNotAllowed(t *testing.T) {
	server, _ := newScriptedServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/classify", nil)
	w := httptest.NewRecorder()
	server.classifyImage(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}
