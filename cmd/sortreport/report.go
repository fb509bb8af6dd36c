package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/refuseworks/binsort/internal/db"
)

// CategoryStats summarizes one category over the reporting range. Confidence
// statistics come from the classifier observations, not the decisions, so
// they reflect every frame the model saw rather than one value per item.
type CategoryStats struct {
	Category     string
	Decisions    int64
	Observations int
	MeanConf     float64
	StdDevConf   float64
	P50Conf      float64
	P90Conf      float64
}

// Report is the full offline summary for a time range.
type Report struct {
	Start      int64
	End        int64
	Total      int64
	Categories []CategoryStats
}

// buildReport rolls decisions and per-category confidences into a Report.
// Categories are ordered by decision count descending, then by name, matching
// the rollup ordering the API uses.
func buildReport(decisions []db.Decision, confidences map[string][]float64) Report {
	counts := make(map[string]int64)
	for _, d := range decisions {
		counts[d.Category]++
	}

	// Categories that were observed but never decided still show up with
	// zero decisions; a model that keeps flip-flopping on a category is
	// exactly what this report should surface.
	names := make(map[string]bool, len(counts))
	for name := range counts {
		names[name] = true
	}
	for name := range confidences {
		names[name] = true
	}

	var report Report
	for name := range names {
		cs := CategoryStats{
			Category:  name,
			Decisions: counts[name],
		}
		if vals := confidences[name]; len(vals) > 0 {
			sorted := append([]float64(nil), vals...)
			sort.Float64s(sorted)

			cs.Observations = len(sorted)
			cs.MeanConf = stat.Mean(sorted, nil)
			if len(sorted) > 1 {
				cs.StdDevConf = stat.StdDev(sorted, nil)
			}
			cs.P50Conf = stat.Quantile(0.5, stat.Empirical, sorted, nil)
			cs.P90Conf = stat.Quantile(0.9, stat.Empirical, sorted, nil)
		}
		report.Categories = append(report.Categories, cs)
		report.Total += cs.Decisions
	}

	sort.Slice(report.Categories, func(i, j int) bool {
		a, b := report.Categories[i], report.Categories[j]
		if a.Decisions != b.Decisions {
			return a.Decisions > b.Decisions
		}
		return a.Category < b.Category
	})

	return report
}

// rangeLabel formats the reporting range for headers.
func (r Report) rangeLabel() string {
	if r.Start == 0 && r.End == 0 {
		return "all time"
	}
	from := "beginning"
	if r.Start != 0 {
		from = time.Unix(r.Start, 0).UTC().Format(time.RFC3339)
	}
	to := "now"
	if r.End != 0 {
		to = time.Unix(r.End, 0).UTC().Format(time.RFC3339)
	}
	return from + " -> " + to
}

// Render returns the plain-text report table.
func (r Report) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "=== Sort Report ===\n")
	fmt.Fprintf(&b, "Range: %s\n", r.rangeLabel())
	fmt.Fprintf(&b, "Items sorted: %d\n\n", r.Total)

	if len(r.Categories) == 0 {
		fmt.Fprintf(&b, "No decisions or observations in range.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "%-10s %9s %6s %9s %8s %7s %7s\n",
		"Category", "Decisions", "Obs", "MeanConf", "StdDev", "P50", "P90")
	for _, cs := range r.Categories {
		fmt.Fprintf(&b, "%-10s %9d %6d %9.3f %8.3f %7.3f %7.3f\n",
			cs.Category, cs.Decisions, cs.Observations,
			cs.MeanConf, cs.StdDevConf, cs.P50Conf, cs.P90Conf)
	}
	fmt.Fprintf(&b, "\n")

	return b.String()
}
