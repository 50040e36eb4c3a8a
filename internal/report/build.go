package report

import (
	"fmt"
	"sort"
	"strings"
)

// Column labels of the exported report, in render order.
const (
	ColApp            = "app"
	ColMessage        = "exception message(exp)"
	ColRawMessages    = "raw messages"
	ColStackTrace     = "exception stacktrace"
	ColWindowQuantity = "quantity for the last 7 days"
	ColDayQuantity    = "quantity for the previous day"
	ColIsNew          = "is_new"
)

// Columns is the fixed column order handed to the export sink.
var Columns = []string{
	ColApp,
	ColMessage,
	ColRawMessages,
	ColStackTrace,
	ColWindowQuantity,
	ColDayQuantity,
	ColIsNew,
}

// wildcardRedaction replaces rule wildcards in rendered labels.
const wildcardRedaction = "******"

// newMarker is the rendered presence marker of a new exception.
const newMarker = "YES"

// Row is one rendered report row keyed by column label.
type Row map[string]string

// SortCategories orders categories descending by current-window count.
// Ties break ascending by label so the report is deterministic.
func SortCategories(categories map[string]*Category) []*Category {
	sorted := make([]*Category, 0, len(categories))
	for _, category := range categories {
		sorted = append(sorted, category)
	}

	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].CurrentWindowCount != sorted[j].CurrentWindowCount {
			return sorted[i].CurrentWindowCount > sorted[j].CurrentWindowCount
		}

		return sorted[i].Label < sorted[j].Label
	})

	return sorted
}

// BuildRows renders ordered categories into flat report rows.
func BuildRows(categories []*Category) []Row {
	rows := make([]Row, 0, len(categories))
	for _, category := range categories {
		rows = append(rows, buildRow(category))
	}

	return rows
}

func buildRow(category *Category) Row {
	isNew := ""
	if category.IsNew() {
		isNew = newMarker
	}

	return Row{
		ColApp:            strings.Join(sortedKeys(category.Apps), ", "),
		ColMessage:        RenderLabel(category.Label),
		ColRawMessages:    joinBlock(category.RawMessages),
		ColStackTrace:     joinBlock(category.StackTraces),
		ColWindowQuantity: quantityCell(category.CurrentWindowCount, category.BaselineWindowCount),
		ColDayQuantity:    quantityCell(category.CurrentDayCount, category.BaselineDayCount),
		ColIsNew:          isNew,
	}
}

// RenderLabel renders a category label for display, replacing rule
// wildcards with a redaction string.
func RenderLabel(label string) string {
	return strings.TrimSpace(strings.ReplaceAll(label, ".*", wildcardRedaction))
}

// quantityCell renders a two-line "current / prev" count pair.
func quantityCell(current, previous int) string {
	return fmt.Sprintf("%d\nprev: %d", current, previous)
}

func joinBlock(values map[string]struct{}) string {
	return strings.TrimSpace(strings.Join(sortedKeys(values), "\n\n"))
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}
