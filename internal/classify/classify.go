// Package classify provides the image classifier client for the sorting
// station. The production implementation shells out to the Python model
// runner and parses the JSON verdict it prints; tests and dev mode use the
// scripted classifier instead.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single classification call when the caller's
// context carries no deadline. Model load dominates the runtime.
const DefaultTimeout = 30 * time.Second

// Prediction is one category's score from the model.
type Prediction struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Result is a successful classification verdict for one frame. Category is
// the raw label as printed by the model runner; callers map it into the
// registry before feeding the aggregator.
type Result struct {
	Category       string       `json:"category"`
	Confidence     float64      `json:"confidence"`
	AllPredictions []Prediction `json:"all_predictions,omitempty"`
}

// Classifier produces a category verdict for an image file.
type Classifier interface {
	Classify(ctx context.Context, imagePath string) (*Result, error)
}

// PythonClassifier invokes the Keras model through its Python runner script:
//
//	<python> <script> <model> <image>
//
// The script prints a single JSON object on stdout:
//
//	{"success": true, "category": ..., "confidence": ..., "all_predictions": [...]}
//	{"success": false, "error": ...}
type PythonClassifier struct {
	pythonExec string
	scriptPath string
	modelPath  string
	timeout    time.Duration
}

// NewPythonClassifier validates the runner setup and returns the classifier.
// An empty pythonExec defaults to python3; a non-positive timeout defaults
// to DefaultTimeout.
func NewPythonClassifier(pythonExec, scriptPath, modelPath string, timeout time.Duration) (*PythonClassifier, error) {
	if pythonExec == "" {
		pythonExec = "python3"
	}
	if _, err := exec.LookPath(pythonExec); err != nil {
		return nil, fmt.Errorf("python executable not found: %w", err)
	}
	if _, err := os.Stat(scriptPath); err != nil {
		return nil, fmt.Errorf("classifier script not found: %w", err)
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &PythonClassifier{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		modelPath:  modelPath,
		timeout:    timeout,
	}, nil
}

// verdict mirrors the JSON printed by the runner script.
type verdict struct {
	Success        bool         `json:"success"`
	Category       string       `json:"category"`
	Confidence     float64      `json:"confidence"`
	AllPredictions []Prediction `json:"all_predictions"`
	Error          string       `json:"error"`
}

// Classify runs the Python script for one image and parses its verdict.
// Script failures, malformed output and timeouts all surface as errors;
// none of them are classifications.
func (p *PythonClassifier) Classify(ctx context.Context, imagePath string) (*Result, error) {
	cmdCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(cmdCtx, p.pythonExec, p.scriptPath, p.modelPath, imagePath)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("classifier script failed: %s", strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("classifier script failed: %w", err)
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil, fmt.Errorf("no output from classifier script")
	}

	var v verdict
	if err := json.Unmarshal(out, &v); err != nil {
		return nil, fmt.Errorf("malformed classifier output %q: %w", truncate(string(out), 120), err)
	}
	if !v.Success {
		if v.Error == "" {
			v.Error = "unspecified error"
		}
		return nil, fmt.Errorf("classifier reported failure: %s", v.Error)
	}
	if v.Category == "" {
		return nil, fmt.Errorf("classifier returned no category")
	}

	return &Result{
		Category:       v.Category,
		Confidence:     v.Confidence,
		AllPredictions: v.AllPredictions,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
