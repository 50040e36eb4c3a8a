package report

// Matcher folds near-duplicate messages into one category label. Match
// returns the label for a message and whether any rule applied; rule order
// is the matcher's concern and must be first-match-wins.
type Matcher interface {
	Match(message string) (label string, ok bool)
}

// Category is a folded group of per-message results sharing one label:
// either the fuzzy rule pattern that matched, or the raw message itself.
type Category struct {
	Label       string
	Apps        map[string]struct{}
	StackTraces map[string]struct{}
	RawMessages map[string]struct{}

	CurrentWindowCount  int
	BaselineWindowCount int
	CurrentDayCount     int
	BaselineDayCount    int
}

// IsNew reports whether the category occurred this window with no baseline
// window occurrences at all.
func (c *Category) IsNew() bool {
	return c.CurrentWindowCount > 0 && c.BaselineWindowCount == 0
}

// Classify folds per-message results into categories. Each message is
// labeled by the first matching rule, or passes through under its own text
// when no rule matches. Results sharing a label are merged: apps, stack
// traces and raw messages unioned, every count field summed.
//
// A nil matcher classifies every message as itself, so classifying an
// already-classified set is a no-op.
func Classify(results map[string]*Result, matcher Matcher) map[string]*Category {
	categories := make(map[string]*Category)

	for message, result := range results {
		label := message
		if matcher != nil {
			if ruleLabel, ok := matcher.Match(message); ok {
				label = ruleLabel
			}
		}

		category, ok := categories[label]
		if !ok {
			category = &Category{
				Label:       label,
				Apps:        make(map[string]struct{}),
				StackTraces: make(map[string]struct{}),
				RawMessages: make(map[string]struct{}),
			}
			categories[label] = category
		}

		category.RawMessages[message] = struct{}{}
		unionInto(category.Apps, result.Apps)
		unionInto(category.StackTraces, result.StackTraces)
		category.CurrentWindowCount += result.CurrentWindowCount
		category.BaselineWindowCount += result.BaselineWindowCount
		category.CurrentDayCount += result.CurrentDayCount
		category.BaselineDayCount += result.BaselineDayCount
	}

	return categories
}
