package report

// Result is the per-message outcome of diffing the current period against
// the persisted baseline.
type Result struct {
	Message     string
	Apps        map[string]struct{}
	StackTraces map[string]struct{}

	CurrentWindowCount  int
	BaselineWindowCount int
	CurrentDayCount     int
	BaselineDayCount    int
}

// IsNew reports whether the message occurred this window but not at all in
// the baseline window. The latest-day comparison never affects novelty.
func (r *Result) IsNew() bool {
	return r.CurrentWindowCount > 0 && r.BaselineWindowCount == 0
}

// baselineTotal accumulates the baseline records consumed for one message.
type baselineTotal struct {
	count       int
	apps        map[string]struct{}
	stackTraces map[string]struct{}
}

// consumeOnce joins current message keys against a raw baseline record
// list under the consume-once protocol: every baseline record contributes
// its count to exactly one message bucket, in original record order.
// Records left unconsumed after all current messages are visited belong to
// messages that disappeared from the current period; they are bucketed
// under their own text so the report still accounts for them.
//
// Consumption state is an explicit per-call set of record indexes; the
// input slice is never mutated and calls never share state.
func consumeOnce(currentMessages map[string]struct{}, baseline []RawRecord) map[string]*baselineTotal {
	index := make(map[string][]int, len(baseline))
	for i, record := range baseline {
		index[record.Message] = append(index[record.Message], i)
	}

	consumed := make([]bool, len(baseline))
	totals := make(map[string]*baselineTotal)

	consume := func(message string, i int) {
		if consumed[i] {
			return
		}

		consumed[i] = true

		total, ok := totals[message]
		if !ok {
			total = &baselineTotal{
				apps:        make(map[string]struct{}),
				stackTraces: make(map[string]struct{}),
			}
			totals[message] = total
		}

		record := baseline[i]
		total.count += record.Count
		total.apps[record.App] = struct{}{}
		total.stackTraces[record.StackTrace] = struct{}{}
	}

	for message := range currentMessages {
		for _, i := range index[message] {
			consume(message, i)
		}
	}

	for i, record := range baseline {
		if !consumed[i] {
			consume(record.Message, i)
		}
	}

	return totals
}

// Compare diffs the aggregated current window and latest day against the
// baseline's raw record lists and merges both comparisons into one result
// per message. The window and latest-day joins run with independent
// consumption state: a baseline record participates once in each.
//
// A nil or empty baseline list degrades to zero baseline counts with no
// disappeared entries, matching first-run behavior.
func Compare(
	windowAggregates, dayAggregates map[string]*MessageAggregate,
	baselineWindow, baselineDay []RawRecord,
) map[string]*Result {
	results := make(map[string]*Result)

	ensure := func(message string) *Result {
		result, ok := results[message]
		if !ok {
			result = &Result{
				Message:     message,
				Apps:        make(map[string]struct{}),
				StackTraces: make(map[string]struct{}),
			}
			results[message] = result
		}

		return result
	}

	for message, aggregate := range windowAggregates {
		result := ensure(message)
		result.CurrentWindowCount = aggregate.Count
		unionInto(result.Apps, aggregate.Apps)
		unionInto(result.StackTraces, aggregate.StackTraces)
	}

	for message, total := range consumeOnce(messageKeys(windowAggregates), baselineWindow) {
		result := ensure(message)
		result.BaselineWindowCount = total.count
		unionInto(result.Apps, total.apps)
		unionInto(result.StackTraces, total.stackTraces)
	}

	for message, aggregate := range dayAggregates {
		result := ensure(message)
		result.CurrentDayCount = aggregate.Count
		unionInto(result.Apps, aggregate.Apps)
		unionInto(result.StackTraces, aggregate.StackTraces)
	}

	for message, total := range consumeOnce(messageKeys(dayAggregates), baselineDay) {
		result := ensure(message)
		result.BaselineDayCount = total.count
		unionInto(result.Apps, total.apps)
		unionInto(result.StackTraces, total.stackTraces)
	}

	return results
}

func messageKeys(aggregates map[string]*MessageAggregate) map[string]struct{} {
	keys := make(map[string]struct{}, len(aggregates))
	for message := range aggregates {
		keys[message] = struct{}{}
	}

	return keys
}

func unionInto(dst map[string]struct{}, src map[string]struct{}) {
	for key := range src {
		dst[key] = struct{}{}
	}
}
