package report

import "fmt"

// MessageAggregate groups every record sharing one exact message text
// within a single dataset pass.
type MessageAggregate struct {
	Message     string
	Apps        map[string]struct{}
	StackTraces map[string]struct{}
	Count       int
}

// Aggregate groups a record batch by exact message text, unioning apps and
// stack traces and summing counts.
//
// An empty message text is a data-integrity failure in the source:
// aggregation of the batch stops at the offending record and the partial
// result is returned together with an error wrapping [ErrEmptyMessage].
// Callers decide whether the partial result is still usable.
func Aggregate(records []RawRecord) (map[string]*MessageAggregate, error) {
	aggregates := make(map[string]*MessageAggregate)

	for i, record := range records {
		if record.Message == "" {
			return aggregates, fmt.Errorf("record %d (app %q): %w", i, record.App, ErrEmptyMessage)
		}

		aggregate, ok := aggregates[record.Message]
		if !ok {
			aggregate = &MessageAggregate{
				Message:     record.Message,
				Apps:        make(map[string]struct{}),
				StackTraces: make(map[string]struct{}),
			}
			aggregates[record.Message] = aggregate
		}

		aggregate.Apps[record.App] = struct{}{}
		aggregate.StackTraces[record.StackTrace] = struct{}{}
		aggregate.Count += record.Count
	}

	return aggregates, nil
}
