// Package export renders the finished report to its sinks: a spreadsheet,
// a console summary table and an optional HTML chart.
package export

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/xuri/excelize/v2"

	"github.com/pattonfu/central-production-meeting/internal/report"
)

// sheetName is the single sheet the report is written to.
const sheetName = "Sheet1"

// XLSXSink writes the report as a spreadsheet file.
type XLSXSink struct {
	Fs   afero.Fs
	Path string
}

// WriteReport renders the ordered rows to the configured xlsx path.
func (s *XLSXSink) WriteReport(categories []*report.Category, rows []report.Row) error {
	err := s.Fs.MkdirAll(filepath.Dir(s.Path), 0o755)
	if err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	file, err := s.Fs.Create(s.Path)
	if err != nil {
		return fmt.Errorf("create %s: %w", s.Path, err)
	}
	defer file.Close()

	err = WriteXLSX(file, rows)
	if err != nil {
		return fmt.Errorf("write %s: %w", s.Path, err)
	}

	return nil
}

// WriteXLSX renders a header row plus one row per report row, columns in
// the fixed report order.
func WriteXLSX(w io.Writer, rows []report.Row) error {
	workbook := excelize.NewFile()
	defer workbook.Close()

	header := make([]any, len(report.Columns))
	for i, column := range report.Columns {
		header[i] = column
	}

	err := workbook.SetSheetRow(sheetName, "A1", &header)
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, row := range rows {
		cells := make([]any, len(report.Columns))
		for j, column := range report.Columns {
			cells[j] = row[column]
		}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}

		err = workbook.SetSheetRow(sheetName, cell, &cells)
		if err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	err = workbook.Write(w)
	if err != nil {
		return fmt.Errorf("flush workbook: %w", err)
	}

	return nil
}
