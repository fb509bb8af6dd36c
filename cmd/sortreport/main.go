// Command sortreport summarizes a station database offline: per-category
// decision counts, classifier confidence statistics, and PNG/HTML charts.
// It opens the database read-only with no migration side effects, so it is
// safe to point at a copy pulled from a live station.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/refuseworks/binsort/internal/db"
)

func main() {
	var dbPath string
	var startStr string
	var endStr string
	var days int
	var outDir string
	var html bool

	flag.StringVar(&dbPath, "db", "binsort.db", "path to sqlite db")
	flag.StringVar(&startStr, "start", "", "start time (RFC3339), empty for no lower bound")
	flag.StringVar(&endStr, "end", "", "end time (RFC3339), empty for no upper bound")
	flag.IntVar(&days, "days", 0, "report on the last N days (ignored when -start is set)")
	flag.StringVar(&outDir, "out", "reports", "directory for chart output")
	flag.BoolVar(&html, "html", false, "also write an interactive HTML report")
	flag.Parse()

	var start, end int64
	if startStr != "" {
		startT, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			log.Fatalf("invalid start: %v", err)
		}
		start = startT.Unix()
	} else if days > 0 {
		start = time.Now().AddDate(0, 0, -days).Unix()
	}
	if endStr != "" {
		endT, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			log.Fatalf("invalid end: %v", err)
		}
		end = endT.Unix()
	}

	dbConn, err := db.OpenDB(dbPath)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer dbConn.Close()

	decisions, err := dbConn.DecisionsBetween(start, end)
	if err != nil {
		log.Fatalf("load decisions: %v", err)
	}
	confidences, err := dbConn.ConfidencesBetween(start, end)
	if err != nil {
		log.Fatalf("load observations: %v", err)
	}

	report := buildReport(decisions, confidences)
	report.Start = start
	report.End = end

	fmt.Print(report.Render())

	if len(report.Categories) == 0 {
		return
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		log.Fatalf("create output dir: %v", err)
	}

	barFile := filepath.Join(outDir, "decisions_by_category.png")
	if err := saveCategoryBars(report, barFile); err != nil {
		log.Fatalf("save bar chart: %v", err)
	}
	fmt.Printf("wrote %s\n", barFile)

	timelineFile := filepath.Join(outDir, "decisions_timeline.png")
	if err := saveTimeline(decisions, timelineFile); err != nil {
		log.Fatalf("save timeline: %v", err)
	}
	fmt.Printf("wrote %s\n", timelineFile)

	if html {
		htmlFile := filepath.Join(outDir, "report.html")
		if err := writeHTMLReport(report, htmlFile); err != nil {
			log.Fatalf("write html report: %v", err)
		}
		fmt.Printf("wrote %s\n", htmlFile)
	}
}
