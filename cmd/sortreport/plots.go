package main

import (
	"fmt"
	"image/color"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/refuseworks/binsort/internal/db"
)

// Chart assets come from a CDN so the HTML report opens anywhere.
const echartsAssetsPrefix = "https://cdn.jsdelivr.net/npm/echarts@5/dist/"

// seriesColors is a fixed palette for per-category lines; categories beyond
// the palette wrap around.
var seriesColors = []color.RGBA{
	{R: 0x1f, G: 0x77, B: 0xb4, A: 255},
	{R: 0xff, G: 0x7f, B: 0x0e, A: 255},
	{R: 0x2c, G: 0xa0, B: 0x2c, A: 255},
	{R: 0xd6, G: 0x27, B: 0x28, A: 255},
	{R: 0x94, G: 0x67, B: 0xbd, A: 255},
	{R: 0x8c, G: 0x56, B: 0x4b, A: 255},
}

// saveCategoryBars writes a PNG bar chart of decisions per category.
func saveCategoryBars(report Report, path string) error {
	p := plot.New()
	p.Title.Text = "Items sorted by category"
	p.Y.Label.Text = "Decisions"

	values := make(plotter.Values, 0, len(report.Categories))
	names := make([]string, 0, len(report.Categories))
	for _, cs := range report.Categories {
		values = append(values, float64(cs.Decisions))
		names = append(names, cs.Category)
	}

	bars, err := plotter.NewBarChart(values, vg.Points(40))
	if err != nil {
		return err
	}
	bars.LineStyle.Width = vg.Length(0)
	bars.Color = seriesColors[0]
	p.Add(bars)
	p.NominalX(names...)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save bar chart: %w", err)
	}
	return nil
}

// saveTimeline writes a PNG line chart of the per-category running counts
// over time. Each decision row carries the running count for its category, so
// the rows form the cumulative series directly.
func saveTimeline(decisions []db.Decision, path string) error {
	p := plot.New()
	p.Title.Text = "Sort decisions over time"
	p.X.Label.Text = "Decided at"
	p.Y.Label.Text = "Running count"
	p.X.Tick.Marker = plot.TimeTicks{Format: "01-02 15:04"}
	p.Legend.Top = true

	series := make(map[string]plotter.XYs)
	var order []string
	for _, d := range decisions {
		if _, seen := series[d.Category]; !seen {
			order = append(order, d.Category)
		}
		series[d.Category] = append(series[d.Category], plotter.XY{
			X: float64(d.DecidedAt),
			Y: float64(d.CycleCount),
		})
	}

	for i, name := range order {
		line, err := plotter.NewLine(series[name])
		if err != nil {
			return err
		}
		line.Color = seriesColors[i%len(seriesColors)]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(name, line)
	}

	if err := p.Save(10*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save timeline: %w", err)
	}
	return nil
}

// writeHTMLReport writes an interactive go-echarts page with the decision
// counts and the confidence statistics side by side.
func writeHTMLReport(report Report, path string) error {
	names := make([]string, 0, len(report.Categories))
	decisionData := make([]opts.BarData, 0, len(report.Categories))
	meanData := make([]opts.BarData, 0, len(report.Categories))
	p90Data := make([]opts.BarData, 0, len(report.Categories))
	for _, cs := range report.Categories {
		names = append(names, cs.Category)
		decisionData = append(decisionData, opts.BarData{Value: cs.Decisions})
		meanData = append(meanData, opts.BarData{Value: cs.MeanConf})
		p90Data = append(p90Data, opts.BarData{Value: cs.P90Conf})
	}

	countBar := charts.NewBar()
	countBar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Items sorted by category",
			Subtitle: fmt.Sprintf("%d items, %s, generated %s", report.Total, report.rangeLabel(), time.Now().Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	countBar.SetXAxis(names).
		AddSeries("items", decisionData,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	confBar := charts.NewBar()
	confBar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Classifier confidence by category",
			Subtitle: "mean and 90th percentile across all observations",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	confBar.SetXAxis(names).
		AddSeries("mean", meanData).
		AddSeries("p90", p90Data)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(countBar, confBar)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create html report: %w", err)
	}
	defer f.Close()

	if err := page.Render(f); err != nil {
		return fmt.Errorf("render html report: %w", err)
	}
	return nil
}
