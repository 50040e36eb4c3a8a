package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pattonfu/central-production-meeting/internal/report"
	"github.com/pattonfu/central-production-meeting/internal/rules"
	"github.com/pattonfu/central-production-meeting/internal/runctx"
	"github.com/pattonfu/central-production-meeting/internal/store"
	"github.com/pattonfu/central-production-meeting/internal/window"
)

var errFetchBroken = errors.New("connection reset")

// fakeSource serves canned records per date key and counts calls.
type fakeSource struct {
	records map[string][]report.RawRecord
	errs    map[string]error
	calls   map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		records: make(map[string][]report.RawRecord),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (f *fakeSource) FetchDay(_ context.Context, _ string, date time.Time) ([]report.RawRecord, error) {
	key := date.Format(window.DateFormat)
	f.calls[key]++

	if err := f.errs[key]; err != nil {
		return nil, err
	}

	return f.records[key], nil
}

func (f *fakeSource) totalCalls() int {
	total := 0
	for _, n := range f.calls {
		total += n
	}

	return total
}

// captureSink records what the runner exported.
type captureSink struct {
	categories []*report.Category
	rows       []report.Row
	calls      int
}

func (c *captureSink) WriteReport(categories []*report.Category, rows []report.Row) error {
	c.categories = categories
	c.rows = rows
	c.calls++

	return nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testContext anchors runs at Tue 2025-10-14: the baseline day is Mon
// 2025-10-13 and the two 7-day windows share 6 dates (8 unique dates).
func testContext(t *testing.T, outputDir string) runctx.Context {
	t.Helper()

	return runctx.New(day(2025, time.October, 14), 7, outputDir, quietLogger())
}

func testStore(rc runctx.Context) *store.Store {
	return store.New(afero.NewMemMapFs(), rc.OutputDir, store.NewLZ4Codec(), rc.BaselineWindow())
}

func mustRules(t *testing.T, patterns []string) *rules.Set {
	t.Helper()

	set, err := rules.New(patterns)
	require.NoError(t, err)

	return set
}

func TestRunner_FullRun(t *testing.T) {
	t.Parallel()

	rc := testContext(t, "output")
	source := newFakeSource()

	// 2025-10-13 serves only the current window; 2025-10-06 serves only
	// the baseline window. Both messages fold into one fuzzy rule.
	source.records["2025-10-13"] = []report.RawRecord{
		{App: "router", Message: "timeout after 3s", StackTrace: "t", Count: 5},
	}
	source.records["2025-10-06"] = []report.RawRecord{
		{App: "billing", Message: "timeout after 9s", StackTrace: "t", Count: 2},
	}

	sink := &captureSink{}
	runner := &Runner{
		Source: source,
		Store:  testStore(rc),
		Rules:  mustRules(t, []string{"timeout after .*"}),
		Sinks:  []Sink{sink},
		Query:  "fetch logs",
	}

	summary, err := runner.Run(context.Background(), rc)
	require.NoError(t, err)

	assert.Equal(t, 8, summary.PlannedDates)
	assert.Equal(t, 6, summary.SavedFetches)
	assert.Equal(t, 8, source.totalCalls(), "each unique date fetched exactly once")
	assert.Equal(t, 1, sink.calls)

	require.Equal(t, 1, summary.Categories, "both messages fold into the fuzzy rule")
	category := sink.categories[0]
	assert.Equal(t, "timeout after .*", category.Label)
	assert.Equal(t, 5, category.CurrentWindowCount)
	assert.Equal(t, 2, category.BaselineWindowCount)
	assert.False(t, category.IsNew())
}

func TestRunner_SecondRunHitsCache(t *testing.T) {
	t.Parallel()

	rc := testContext(t, "output")
	recordStore := testStore(rc)

	source := newFakeSource()
	source.records["2025-10-13"] = []report.RawRecord{
		{App: "a", Message: "boom", Count: 1},
	}

	runner := &Runner{Source: source, Store: recordStore, Sinks: nil}

	_, err := runner.Run(context.Background(), rc)
	require.NoError(t, err)
	require.Equal(t, 8, source.totalCalls())

	summary, err := runner.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, 8, source.totalCalls(), "second run must not refetch")
	assert.Equal(t, 8, summary.CachedDates)
}

func TestRunner_FetchFailureDegradesDate(t *testing.T) {
	t.Parallel()

	rc := testContext(t, "output")
	source := newFakeSource()
	source.records["2025-10-13"] = []report.RawRecord{
		{App: "a", Message: "boom", Count: 3},
	}
	source.errs["2025-10-12"] = errFetchBroken

	runner := &Runner{Source: source, Store: testStore(rc)}

	summary, err := runner.Run(context.Background(), rc)
	require.NoError(t, err, "one broken date must not abort the run")
	assert.Equal(t, 1, summary.DegradedDates)
	assert.Equal(t, 1, summary.Categories)
}

func TestRunner_DegradedDateNotPersisted(t *testing.T) {
	t.Parallel()

	rc := testContext(t, "output")
	recordStore := testStore(rc)

	source := newFakeSource()
	source.records["2025-10-13"] = []report.RawRecord{{App: "a", Message: "boom", Count: 1}}
	source.errs["2025-10-12"] = errFetchBroken

	runner := &Runner{Source: source, Store: recordStore}

	_, err := runner.Run(context.Background(), rc)
	require.NoError(t, err)

	_, err = recordStore.ReadDay(day(2025, time.October, 12))
	assert.ErrorIs(t, err, store.ErrNotFound, "a degraded day stays retryable")
}

func TestRunner_NoDataAborts(t *testing.T) {
	t.Parallel()

	rc := testContext(t, "output")
	runner := &Runner{Source: newFakeSource(), Store: testStore(rc)}

	_, err := runner.Run(context.Background(), rc)
	require.ErrorIs(t, err, ErrNoData)
}

func TestRunner_MissingBaselineMarksEverythingNew(t *testing.T) {
	t.Parallel()

	rc := testContext(t, "output")
	source := newFakeSource()
	source.records["2025-10-13"] = []report.RawRecord{
		{App: "a", Message: "brand new failure", Count: 4},
	}

	sink := &captureSink{}
	runner := &Runner{Source: source, Store: testStore(rc), Sinks: []Sink{sink}}

	summary, err := runner.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.NewCategories)
	assert.Equal(t, "YES", sink.rows[0][report.ColIsNew])
}

func TestRunner_BaselineFallbackToSnapshot(t *testing.T) {
	t.Parallel()

	rc := testContext(t, "output")
	recordStore := testStore(rc)

	// A prior run persisted the baseline window snapshot; this run's
	// baseline dates themselves yield nothing.
	require.NoError(t, recordStore.WriteBaselineWindow([]report.RawRecord{
		{App: "a", Message: "boom", Count: 9},
	}))

	source := newFakeSource()
	source.records["2025-10-13"] = []report.RawRecord{
		{App: "a", Message: "boom", Count: 2},
	}

	sink := &captureSink{}
	runner := &Runner{Source: source, Store: recordStore, Sinks: []Sink{sink}}

	_, err := runner.Run(context.Background(), rc)
	require.NoError(t, err)

	require.Len(t, sink.categories, 1)
	assert.Equal(t, 9, sink.categories[0].BaselineWindowCount)
	assert.False(t, sink.categories[0].IsNew())
}

func TestRunner_OfflineRerenderFromCache(t *testing.T) {
	t.Parallel()

	rc := testContext(t, "output")
	recordStore := testStore(rc)

	source := newFakeSource()
	source.records["2025-10-13"] = []report.RawRecord{
		{App: "a", Message: "boom", Count: 7},
	}

	_, err := (&Runner{Source: source, Store: recordStore}).Run(context.Background(), rc)
	require.NoError(t, err)

	sink := &captureSink{}
	offline := &Runner{Store: recordStore, Sinks: []Sink{sink}}

	summary, err := offline.Run(context.Background(), rc)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.FetchedDates)
	require.Len(t, sink.categories, 1)
	assert.Equal(t, 7, sink.categories[0].CurrentWindowCount)
}

func TestRunner_CorruptBatchDegradesToPartial(t *testing.T) {
	t.Parallel()

	rc := testContext(t, "output")
	source := newFakeSource()
	source.records["2025-10-13"] = []report.RawRecord{
		{App: "a", Message: "kept", Count: 2},
		{App: "b", Message: "", Count: 5},
		{App: "c", Message: "dropped", Count: 1},
	}

	sink := &captureSink{}
	runner := &Runner{Source: source, Store: testStore(rc), Sinks: []Sink{sink}}

	_, err := runner.Run(context.Background(), rc)
	require.NoError(t, err, "a corrupt batch degrades with a warning, not a failure")

	require.Len(t, sink.categories, 1)
	assert.Equal(t, "kept", sink.categories[0].Label)
}

func TestRunner_PersistsWindowSnapshots(t *testing.T) {
	t.Parallel()

	rc := testContext(t, "output")
	recordStore := testStore(rc)

	source := newFakeSource()
	source.records["2025-10-13"] = []report.RawRecord{
		{App: "a", Message: "boom", Count: 1},
	}

	_, err := (&Runner{Source: source, Store: recordStore}).Run(context.Background(), rc)
	require.NoError(t, err)

	persisted, err := recordStore.ReadWindow(rc.Today)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalCount(persisted))
}

func TestRunner_CancelledContext(t *testing.T) {
	t.Parallel()

	rc := testContext(t, "output")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	runner := &Runner{Source: newFakeSource(), Store: testStore(rc)}

	_, err := runner.Run(ctx, rc)
	require.ErrorIs(t, err, context.Canceled)
}
