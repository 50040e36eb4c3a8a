// Package runctx carries the per-run context: the anchor dates, window
// length, run identity and logger. It replaces process-wide globals so a
// run is deterministic under injected dates.
package runctx

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/pattonfu/central-production-meeting/internal/window"
)

// DirFormat is the date layout used for per-anchor output directories.
const DirFormat = "20060102"

// Context is the immutable context of one report run.
type Context struct {
	// Today anchors the current window.
	Today time.Time

	// BaselineDay is the first non-weekend day strictly before Today;
	// it anchors the baseline window.
	BaselineDay time.Time

	// WindowDays is the length of both rolling windows.
	WindowDays int

	// RunID uniquely identifies this run in logs and summaries.
	RunID string

	// OutputDir is the root directory for persisted blobs and exports.
	OutputDir string

	// Logger receives structured progress and degradation events.
	Logger *slog.Logger
}

// New builds a run context anchored at today. The baseline anchor is
// derived by skipping backward over Saturday and Sunday.
func New(today time.Time, windowDays int, outputDir string, logger *slog.Logger) Context {
	if logger == nil {
		logger = slog.Default()
	}

	normalized := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())

	return Context{
		Today:       normalized,
		BaselineDay: PreviousWorkday(normalized),
		WindowDays:  windowDays,
		RunID:       uuid.NewString(),
		OutputDir:   outputDir,
		Logger:      logger,
	}
}

// PreviousWorkday returns the first day strictly before t that is neither
// Saturday nor Sunday.
func PreviousWorkday(t time.Time) time.Time {
	prev := t.AddDate(0, 0, -1)
	for prev.Weekday() == time.Saturday || prev.Weekday() == time.Sunday {
		prev = prev.AddDate(0, 0, -1)
	}

	return prev
}

// CurrentWindow returns the window of WindowDays dates ending yesterday.
func (c Context) CurrentWindow() window.Window {
	return window.New(window.Current, c.Today, c.WindowDays)
}

// BaselineWindow returns the comparable window anchored at the baseline day.
func (c Context) BaselineWindow() window.Window {
	return window.New(window.Baseline, c.BaselineDay, c.WindowDays)
}

// RunDir returns the directory holding this run's exports.
func (c Context) RunDir() string {
	return filepath.Join(c.OutputDir, c.Today.Format(DirFormat))
}
