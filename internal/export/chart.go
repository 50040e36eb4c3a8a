package export

import (
	"fmt"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/spf13/afero"

	"github.com/pattonfu/central-production-meeting/internal/report"
)

// chartLabelWidth truncates category labels on the chart axis.
const chartLabelWidth = 48

// ChartSink writes an HTML bar chart of the top categories.
type ChartSink struct {
	Fs    afero.Fs
	Path  string
	Top   int
	Title string
}

// WriteReport renders the chart file.
func (s *ChartSink) WriteReport(categories []*report.Category, _ []report.Row) error {
	top := s.Top
	if top <= 0 || top > len(categories) {
		top = len(categories)
	}

	title := s.Title
	if title == "" {
		title = "Exception categories"
	}

	labels := make([]string, 0, top)
	current := make([]opts.BarData, 0, top)
	baseline := make([]opts.BarData, 0, top)

	for _, category := range categories[:top] {
		labels = append(labels, truncateChartLabel(report.RenderLabel(category.Label)))
		current = append(current, opts.BarData{Value: category.CurrentWindowCount})
		baseline = append(baseline, opts.BarData{Value: category.BaselineWindowCount})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).
		AddSeries("current window", current).
		AddSeries("baseline window", baseline)

	err := s.Fs.MkdirAll(filepath.Dir(s.Path), 0o755)
	if err != nil {
		return fmt.Errorf("create chart dir: %w", err)
	}

	file, err := s.Fs.Create(s.Path)
	if err != nil {
		return fmt.Errorf("create %s: %w", s.Path, err)
	}
	defer file.Close()

	err = bar.Render(file)
	if err != nil {
		return fmt.Errorf("render chart: %w", err)
	}

	return nil
}

func truncateChartLabel(label string) string {
	runes := []rune(label)
	if len(runes) <= chartLabelWidth {
		return label
	}

	return string(runes[:chartLabelWidth-1]) + "…"
}
