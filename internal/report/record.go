// Package report implements the aggregation, baseline-diff, classification
// and row-building engine behind the exception comparison report.
package report

import "errors"

// Default values substituted for absent record fields. The literal empty
// message is reserved as a corruption sentinel and never a normal default.
const (
	UnknownApp   = "Unknown App"
	NoMessage    = "No Exception Message"
	NoStackTrace = "No Exception Stacktrace"
)

// ErrEmptyMessage indicates a record batch carried a record with an empty
// exception message, which signals corrupted upstream data.
var ErrEmptyMessage = errors.New("record batch contains an empty exception message")

// RawRecord is one source row: a distinct application/exception/day bucket
// and its occurrence count. Immutable once built.
type RawRecord struct {
	App        string `json:"app"`
	Message    string `json:"message"`
	StackTrace string `json:"stack_trace"`
	Count      int    `json:"count"`
}

// TotalCount sums occurrence counts across a record batch.
func TotalCount(records []RawRecord) int {
	total := 0
	for _, record := range records {
		total += record.Count
	}

	return total
}
