package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/refuseworks/binsort/internal/httputil"
)

// echartsAssetsPrefix pins the chart assets to a CDN the station kiosks can
// reach; the go-echarts default assets host is not reachable from the shop
// network.
const echartsAssetsPrefix = "https://cdn.jsdelivr.net/npm/echarts@5/dist/"

// chartTally renders a bar chart (HTML) of the cumulative per-category tally.
// Debugging/kiosk endpoint; the JSON equivalent is /api/tally.
func (s *Server) chartTally(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	names, counts := s.tallyByName()

	y := make([]opts.BarData, 0, len(names))
	var total int64
	for _, name := range names {
		y = append(y, opts.BarData{Value: counts[name]})
		total += counts[name]
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Items sorted by category",
			Subtitle: fmt.Sprintf("%d items total, as of %s", total, time.Now().Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).
		AddSeries("items", y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// chartDecisions renders a time-series line chart (HTML) of the running
// per-category counts, one point per finalized decision. ?limit=N bounds how
// many recent decisions are plotted (default 200).
func (s *Server) chartDecisions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}

	rows, err := s.db.RecentDecisions(limit)
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve decisions")
		return
	}

	// RecentDecisions is newest-first; plot oldest-first. Each decision row
	// carries the running count for its category, so the pairs form the
	// cumulative series directly.
	series := make(map[string][]opts.LineData)
	for i := len(rows) - 1; i >= 0; i-- {
		d := rows[i]
		ts := time.Unix(d.DecidedAt, 0).Format("2006-01-02 15:04:05")
		series[d.Category] = append(series[d.Category], opts.LineData{
			Value: []interface{}{ts, d.CycleCount},
		})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Sort decisions over time",
			Subtitle: fmt.Sprintf("last %d decisions", len(rows)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "time", Name: "decided at"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "running count"}),
	)

	names, _ := s.tallyByName()
	for _, name := range names {
		if points, ok := series[name]; ok {
			line.AddSeries(name, points)
		}
	}
	// Categories that fell out of the registry still show up if decisions
	// reference them.
	for name, points := range series {
		if !containsName(names, name) {
			line.AddSeries(name, points)
		}
	}

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
