package api

import (
	"fmt"
	"net/http"

	"github.com/refuseworks/binsort/internal/category"
	"github.com/refuseworks/binsort/internal/httputil"
	"github.com/refuseworks/binsort/internal/monitoring"
	"github.com/refuseworks/binsort/internal/security"
)

// ClassifyRequest names an already-captured image to run through the
// classifier, bypassing the spool watcher. Used from the dashboard and the
// bench to replay frames.
type ClassifyRequest struct {
	ImagePath string `json:"image_path"`
}

// ClassifyResponse reports the verdict and what the aggregator did with it.
type ClassifyResponse struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Registered bool    `json:"registered"`
	CycleID    string  `json:"cycle_id"`
	Finalized  bool    `json:"finalized"`
	Decision   string  `json:"decision,omitempty"`
}

// classifyImage handles POST /api/classify. The image must live under the
// spool directory; everything else is rejected before touching the
// filesystem. The verdict flows through the same aggregator as spool
// observations, so a manual classification can finalize a cycle.
func (s *Server) classifyImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	if s.classifier == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "classifier not configured")
		return
	}

	var req ClassifyRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httputil.BadRequest(w, "Invalid request body")
		return
	}
	if req.ImagePath == "" {
		httputil.BadRequest(w, "image_path is required")
		return
	}
	if err := security.ValidatePathWithinDirectory(req.ImagePath, s.spoolDir); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("image_path must be under the spool directory: %v", err))
		return
	}

	result, err := s.classifier.Classify(r.Context(), req.ImagePath)
	if err != nil {
		// Classifier failures are not observations; the cycle is untouched.
		httputil.WriteJSONError(w, http.StatusBadGateway, fmt.Sprintf("classification failed: %v", err))
		return
	}

	cat, registered := category.Parse(result.Category)
	if !registered {
		monitoring.Logf("classify API: unregistered label %q from classifier", result.Category)
	}

	s.agg.Observe(cat)
	if s.db != nil {
		if err := s.db.RecordObservation(s.agg.CycleID(), cat, result.Confidence, req.ImagePath); err != nil {
			monitoring.Logf("classify API: failed to record observation: %v", err)
		}
	}

	resp := ClassifyResponse{
		Category:   string(cat),
		Confidence: result.Confidence,
		Registered: registered,
		CycleID:    s.agg.CycleID(),
	}
	if current, ok := s.agg.Current(); ok {
		resp.Finalized = true
		resp.Decision = string(current)
	}

	httputil.WriteJSONOK(w, resp)
}
