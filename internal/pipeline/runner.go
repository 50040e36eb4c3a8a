// Package pipeline orchestrates one report run: plan unique dates, source
// each date once, aggregate both windows, diff against the baseline,
// classify, and hand the ordered rows to the export sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pattonfu/central-production-meeting/internal/report"
	"github.com/pattonfu/central-production-meeting/internal/runctx"
	"github.com/pattonfu/central-production-meeting/internal/store"
	"github.com/pattonfu/central-production-meeting/internal/window"
)

// ErrNoData indicates neither window produced a single record; the run is
// aborted before classification so an empty report is never emitted
// silently.
var ErrNoData = errors.New("no records for the full period")

// RecordSource fetches one day's raw records from the remote query job.
type RecordSource interface {
	FetchDay(ctx context.Context, query string, date time.Time) ([]report.RawRecord, error)
}

// RecordStore persists day batches and merged window snapshots.
type RecordStore interface {
	ReadDay(date time.Time) ([]report.RawRecord, error)
	WriteDay(date time.Time, records []report.RawRecord) error
	WriteWindow(anchor time.Time, records []report.RawRecord) error
	ReadBaselineWindow() ([]report.RawRecord, error)
	ReadBaselineLatestDay() ([]report.RawRecord, error)
}

// Sink receives the finished report.
type Sink interface {
	WriteReport(categories []*report.Category, rows []report.Row) error
}

// Runner wires one report run. A nil Source runs offline: days are read
// from the store only, which re-renders a report from cached data.
type Runner struct {
	Source RecordSource
	Store  RecordStore
	Rules  report.Matcher
	Sinks  []Sink
	Query  string
}

// Summary describes what a run did, for logs and the exit message.
type Summary struct {
	PlannedDates  int
	SavedFetches  int
	CachedDates   int
	FetchedDates  int
	DegradedDates int
	Categories    int
	NewCategories int
	Rows          int
}

// Run executes the full pipeline for the given run context.
func (r *Runner) Run(ctx context.Context, rc runctx.Context) (*Summary, error) {
	current := rc.CurrentWindow()
	baseline := rc.BaselineWindow()
	plan := window.PlanUniqueDates(current, baseline)

	summary := &Summary{
		PlannedDates: plan.Len(),
		SavedFetches: 2*rc.WindowDays - plan.Len(),
	}

	rc.Logger.Info("run planned",
		"run_id", rc.RunID,
		"today", rc.Today.Format(window.DateFormat),
		"baseline_day", rc.BaselineDay.Format(window.DateFormat),
		"unique_dates", summary.PlannedDates,
		"saved_fetches", summary.SavedFetches,
	)

	days, err := r.sourceDays(ctx, rc, plan, summary)
	if err != nil {
		return summary, err
	}

	currentWindow := flatten(days[window.Current])
	baselineWindow := flatten(days[window.Baseline])
	currentDay := days[window.Current][rc.WindowDays-1]
	baselineDay := days[window.Baseline][rc.WindowDays-1]

	baselineWindow, baselineDay = r.fallbackBaseline(rc, baselineWindow, baselineDay)

	if len(currentWindow) == 0 && len(baselineWindow) == 0 {
		return summary, fmt.Errorf("%s through %s: %w",
			baseline.Date(1).Format(window.DateFormat),
			current.LatestDay().Format(window.DateFormat),
			ErrNoData)
	}

	windowAggregates := r.aggregate(rc, "current window", currentWindow)
	dayAggregates := r.aggregate(rc, "current latest day", currentDay)

	results := report.Compare(windowAggregates, dayAggregates, baselineWindow, baselineDay)
	categories := report.Classify(results, r.Rules)
	sorted := report.SortCategories(categories)
	rows := report.BuildRows(sorted)

	summary.Categories = len(sorted)
	summary.Rows = len(rows)

	for _, category := range sorted {
		if category.IsNew() {
			summary.NewCategories++
		}
	}

	rc.Logger.Info("report built",
		"messages", len(results),
		"categories", summary.Categories,
		"new_categories", summary.NewCategories,
	)

	for _, sink := range r.Sinks {
		err = sink.WriteReport(sorted, rows)
		if err != nil {
			return summary, fmt.Errorf("export report: %w", err)
		}
	}

	err = r.persistWindows(current, baseline, currentWindow, baselineWindow)
	if err != nil {
		return summary, err
	}

	return summary, nil
}

// sourceDays loads every planned date exactly once and slots the records
// into each window position the date serves.
func (r *Runner) sourceDays(
	ctx context.Context,
	rc runctx.Context,
	plan *window.Plan,
	summary *Summary,
) (map[window.Name][][]report.RawRecord, error) {
	days := map[window.Name][][]report.RawRecord{
		window.Current:  make([][]report.RawRecord, rc.WindowDays),
		window.Baseline: make([][]report.RawRecord, rc.WindowDays),
	}

	for _, entry := range plan.Entries() {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("source days: %w", ctx.Err())
		}

		records := r.loadDay(ctx, rc, entry.Date, summary)
		for _, usage := range entry.Usages {
			days[usage.Window][usage.DayIndex-1] = records
		}
	}

	return days, nil
}

// loadDay returns the record batch for one date: the stored blob when
// present, otherwise a fresh fetch. A failed or impossible fetch degrades
// the date to an empty batch with a warning; the degraded batch is not
// persisted, so a later run can retry the date.
func (r *Runner) loadDay(ctx context.Context, rc runctx.Context, date time.Time, summary *Summary) []report.RawRecord {
	key := date.Format(window.DateFormat)

	cached, err := r.Store.ReadDay(date)
	if err == nil {
		summary.CachedDates++

		rc.Logger.Debug("day loaded from store", "date", key, "records", len(cached))

		return cached
	}

	if !errors.Is(err, store.ErrNotFound) {
		rc.Logger.Warn("unreadable day blob, refetching", "date", key, "error", err)
	}

	if r.Source == nil {
		summary.DegradedDates++

		rc.Logger.Warn("day missing from store in offline run, treating as empty", "date", key)

		return nil
	}

	records, err := r.Source.FetchDay(ctx, r.Query, date)
	if err != nil {
		summary.DegradedDates++

		rc.Logger.Warn("fetch failed, treating day as empty", "date", key, "error", err)

		return nil
	}

	summary.FetchedDates++

	err = r.Store.WriteDay(date, records)
	if err != nil {
		rc.Logger.Warn("persisting day failed", "date", key, "error", err)
	}

	rc.Logger.Info("day fetched", "date", key, "records", len(records))

	return records
}

// fallbackBaseline substitutes the persisted baseline snapshot when the
// planned baseline dates produced nothing. A missing snapshot degrades to
// first-run behavior: zero baseline counts, nothing marked disappeared.
func (r *Runner) fallbackBaseline(
	rc runctx.Context,
	baselineWindow, baselineDay []report.RawRecord,
) ([]report.RawRecord, []report.RawRecord) {
	if len(baselineWindow) == 0 {
		persisted, err := r.Store.ReadBaselineWindow()
		if err != nil {
			rc.Logger.Warn("no baseline snapshot, treating baseline counts as zero", "error", err)
		} else {
			baselineWindow = persisted
		}
	}

	if len(baselineDay) == 0 {
		persisted, err := r.Store.ReadBaselineLatestDay()
		if err == nil {
			baselineDay = persisted
		}
	}

	return baselineWindow, baselineDay
}

// aggregate wraps the aggregation stage so a corrupt batch degrades to its
// partial result with a data-integrity warning instead of failing the run.
func (r *Runner) aggregate(rc runctx.Context, dataset string, records []report.RawRecord) map[string]*report.MessageAggregate {
	aggregates, err := report.Aggregate(records)
	if err != nil {
		rc.Logger.Warn("data integrity: aggregation aborted mid-batch",
			"dataset", dataset,
			"aggregated_messages", len(aggregates),
			"error", err,
		)
	}

	return aggregates
}

func (r *Runner) persistWindows(current, baseline window.Window, currentRecords, baselineRecords []report.RawRecord) error {
	err := r.Store.WriteWindow(current.Anchor, currentRecords)
	if err != nil {
		return fmt.Errorf("persist current window: %w", err)
	}

	err = r.Store.WriteWindow(baseline.Anchor, baselineRecords)
	if err != nil {
		return fmt.Errorf("persist baseline window: %w", err)
	}

	return nil
}

func flatten(batches [][]report.RawRecord) []report.RawRecord {
	total := 0
	for _, batch := range batches {
		total += len(batch)
	}

	merged := make([]report.RawRecord, 0, total)
	for _, batch := range batches {
		merged = append(merged, batch...)
	}

	return merged
}
