// Package api serves the sorting station HTTP surface: live cycle status,
// tallies, decision history, manual classification, serial port management
// and the go-echarts dashboards. Admin/debug routes live under /debug and are
// attached separately by main.
package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/refuseworks/binsort/internal/category"
	"github.com/refuseworks/binsort/internal/classify"
	"github.com/refuseworks/binsort/internal/db"
	"github.com/refuseworks/binsort/internal/decision"
	"github.com/refuseworks/binsort/internal/httputil"
	"github.com/refuseworks/binsort/internal/serialmux"
	"github.com/refuseworks/binsort/internal/sorter"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	m          serialmux.SerialMuxInterface
	db         *db.DB
	agg        *decision.Aggregator
	classifier classify.Classifier
	spoolDir   string
}

// NewServer builds the API server. classifier may be nil when the station
// runs without a model (the classify endpoint then reports 503); every other
// dependency is required.
func NewServer(m serialmux.SerialMuxInterface, database *db.DB, agg *decision.Aggregator, classifier classify.Classifier, spoolDir string) *Server {
	return &Server{
		m:          m,
		db:         database,
		agg:        agg,
		classifier: classifier,
		spoolDir:   spoolDir,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400 && statusCode < 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 500:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/command", s.sendCommandHandler)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/tally", s.showTally)
	mux.HandleFunc("/api/reset", s.resetCycle)
	mux.HandleFunc("/api/classify", s.classifyImage)
	mux.HandleFunc("/api/decisions", s.showDecisionStats)
	mux.HandleFunc("/api/observations", s.listObservations)
	mux.HandleFunc("/api/ports", s.listPorts)
	mux.HandleFunc("/api/serial-configs", s.handleSerialConfigsOrCreate)
	mux.HandleFunc("/api/serial-configs/", s.handleSerialConfigByID)
	mux.HandleFunc("/api/serial/models", s.handleControllerModels)
	mux.HandleFunc("/api/serial/test", s.handleSerialTest)
	mux.HandleFunc("/api/serial/devices", s.handleSerialDevices)
	mux.HandleFunc("/api/serial/reload", s.handleSerialReload)
	mux.HandleFunc("/api/charts/tally", s.chartTally)
	mux.HandleFunc("/api/charts/decisions", s.chartDecisions)
	return mux
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	command := r.FormValue("command")

	if err := s.m.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}

/// statusResponse is the /api/status payload: the aggregator view of the
// current sort cycle plus whatever the controller last reported about itself.
type statusResponse struct {
	Cycle      decision.Snapshot     `json:"cycle"`
	Controller map[string]any        `json:"controller,omitempty"`
	Serial     *SerialConfigSnapshot `json:"serial,omitempty"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	resp := statusResponse{
		Cycle:      s.agg.Snapshot(),
		Controller: sorter.StatusSnapshot(),
	}
	// The reloadable manager knows which port configuration is live; a plain
	// mux (mock or disabled mode) has nothing to report here.
	if mgr, ok := s.m.(*SerialPortManager); ok {
		snap := mgr.Snapshot()
		resp.Serial = &snap
	}

	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showTally(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	tally := s.agg.Tally()
	out := make(map[string]int64, len(tally))
	for c, n := range tally {
		out[string(c)] = n
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) resetCycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	s.agg.Reset()
	httputil.WriteJSONOK(w, map[string]string{
		"status":   "reset",
		"cycle_id": s.agg.CycleID(),
	})
}

// showDecisionStats returns the per-category decision rollup for the last N
// days (?days=N, default 1; days=0 means all time is not exposed here).
func (s *Server) showDecisionStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	days := 1
	if d := r.URL.Query().Get("days"); d != "" {
		parsedDays, err := strconv.Atoi(d)
		if err != nil || parsedDays < 1 {
			httputil.BadRequest(w, "Invalid 'days' parameter")
			return
		}
		days = parsedDays
	}

	stats, err := s.db.DecisionRollup(days)
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve decision stats")
		return
	}
	if stats == nil {
		stats = []db.CategoryRollup{}
	}

	httputil.WriteJSONOK(w, stats)
}

func (s *Server) listObservations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	observations, err := s.db.RecentObservations(limit)
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve observations")
		return
	}
	if observations == nil {
		observations = []db.Observation{}
	}

	httputil.WriteJSONOK(w, observations)
}

// listPorts enumerates the serial devices visible on the host so an operator
// can find the controller after a replug moved it to a different path.
func (s *Server) listPorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	ports, err := serialmux.ListPorts()
	if err != nil {
		httputil.InternalServerError(w, "Failed to enumerate serial ports")
		return
	}
	if ports == nil {
		ports = []string{}
	}

	httputil.WriteJSONOK(w, map[string][]string{"ports": ports})
}

// tallyByName returns the aggregator tally keyed by category name, with the
// registered categories first in registry order. Shared by the tally API and
// the chart handlers.
func (s *Server) tallyByName() ([]string, map[string]int64) {
	tally := s.agg.Tally()

	names := make([]string, 0, len(tally))
	counts := make(map[string]int64, len(tally))
	for _, c := range category.Registered {
		names = append(names, string(c))
		counts[string(c)] = tally[c]
	}
	if n, ok := tally[category.Unknown]; ok && n > 0 {
		names = append(names, string(category.Unknown))
		counts[string(category.Unknown)] = n
	}
	return names, counts
}

// decodeJSONBody decodes a request body into dst with a sane size cap.
func decodeJSONBody(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20)
	return json.NewDecoder(r.Body).Decode(dst)
}
