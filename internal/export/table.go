package export

import (
	"io"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/pattonfu/central-production-meeting/internal/report"
)

// labelDisplayWidth truncates long category labels in the console view.
const labelDisplayWidth = 72

// TableSink prints a top-K category summary for operator eyeballing.
type TableSink struct {
	Writer io.Writer
	Top    int
}

// WriteReport renders the console summary table.
func (s *TableSink) WriteReport(categories []*report.Category, _ []report.Row) error {
	top := s.Top
	if top <= 0 || top > len(categories) {
		top = len(categories)
	}

	newMarker := color.New(color.FgRed, color.Bold).Sprint("NEW")

	tbl := table.NewWriter()
	tbl.SetOutputMirror(s.Writer)
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"#", "category", "7d", "prev 7d", "1d", "prev 1d", ""})

	for i, category := range categories[:top] {
		flag := ""
		if category.IsNew() {
			flag = newMarker
		}

		tbl.AppendRow(table.Row{
			i + 1,
			truncateLabel(report.RenderLabel(category.Label)),
			category.CurrentWindowCount,
			category.BaselineWindowCount,
			category.CurrentDayCount,
			category.BaselineDayCount,
			flag,
		})
	}

	tbl.Render()

	return nil
}

func truncateLabel(label string) string {
	runes := []rune(label)
	if len(runes) <= labelDisplayWidth {
		return label
	}

	return string(runes[:labelDisplayWidth-1]) + "…"
}
