// Package window models rolling calendar-date windows and plans the set of
// unique dates needed to source two overlapping windows exactly once.
package window

import (
	"sort"
	"time"
)

// Name identifies which reporting window a date serves.
type Name string

// Window names used by the report pipeline.
const (
	Current  Name = "current"
	Baseline Name = "baseline"
)

// DateFormat is the canonical key format for calendar dates.
const DateFormat = "2006-01-02"

// Window is a sequence of Days consecutive calendar dates ending the day
// before Anchor. Day indexes run from 1 (oldest) to Days (latest).
type Window struct {
	Name   Name
	Anchor time.Time
	Days   int
}

// New creates a window of the given length anchored at anchor.
// The anchor's time-of-day component is discarded.
func New(name Name, anchor time.Time, days int) Window {
	return Window{Name: name, Anchor: truncateToDay(anchor), Days: days}
}

// Date returns the calendar date for a 1-based day index.
func (w Window) Date(dayIndex int) time.Time {
	return w.Anchor.AddDate(0, 0, dayIndex-w.Days-1)
}

// LatestDay returns the most recent date covered by the window.
func (w Window) LatestDay() time.Time {
	return w.Date(w.Days)
}

// Dates returns every covered date in ascending order.
func (w Window) Dates() []time.Time {
	dates := make([]time.Time, 0, w.Days)
	for i := 1; i <= w.Days; i++ {
		dates = append(dates, w.Date(i))
	}

	return dates
}

// Usage records that a date serves one day slot of one window.
type Usage struct {
	Window   Name
	DayIndex int
}

// Entry is a planned date together with every window slot it serves.
type Entry struct {
	Date   time.Time
	Usages []Usage
}

// Plan maps each distinct calendar date referenced by a set of windows to
// its usages. Built once per run; read-only afterward.
type Plan struct {
	entries map[string]*Entry
}

// PlanUniqueDates computes the unique-date plan for the given windows.
// A date shared by several windows (or by coinciding windows) appears
// exactly once, carrying one usage per window slot it serves.
func PlanUniqueDates(windows ...Window) *Plan {
	plan := &Plan{entries: make(map[string]*Entry)}

	for _, w := range windows {
		for i := 1; i <= w.Days; i++ {
			date := w.Date(i)
			key := date.Format(DateFormat)

			entry, ok := plan.entries[key]
			if !ok {
				entry = &Entry{Date: date}
				plan.entries[key] = entry
			}

			entry.Usages = append(entry.Usages, Usage{Window: w.Name, DayIndex: i})
		}
	}

	return plan
}

// Len returns the number of distinct planned dates.
func (p *Plan) Len() int {
	return len(p.entries)
}

// Usages returns the window slots served by the given date.
func (p *Plan) Usages(date time.Time) []Usage {
	entry, ok := p.entries[truncateToDay(date).Format(DateFormat)]
	if !ok {
		return nil
	}

	return entry.Usages
}

// Entries returns all planned entries in ascending date order.
func (p *Plan) Entries() []Entry {
	out := make([]Entry, 0, len(p.entries))
	for _, entry := range p.entries {
		out = append(out, *entry)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	return out
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
