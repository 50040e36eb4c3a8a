// Package rules loads and applies the ordered fuzzy rule list that folds
// near-duplicate exception messages into one category.
package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Rule is one compiled fuzzy pattern. The pattern matches whole message
// texts with dot-matches-newline semantics, never substrings.
type Rule struct {
	Pattern string
	re      *regexp.Regexp
}

// Set is an ordered rule list. Order is significant: the first matching
// rule claims a message.
type Set struct {
	rules []Rule
}

// ruleFile is the on-disk YAML shape of a rule list.
type ruleFile struct {
	Rules []string `yaml:"rules"`
}

// New compiles an ordered pattern list into a rule set, preserving the
// authored order exactly.
func New(patterns []string) (*Set, error) {
	compiled := make([]Rule, 0, len(patterns))

	for _, pattern := range patterns {
		re, err := regexp.Compile(`(?s)\A(?:` + pattern + `)\z`)
		if err != nil {
			return nil, fmt.Errorf("compile fuzzy rule %q: %w", pattern, err)
		}

		compiled = append(compiled, Rule{Pattern: pattern, re: re})
	}

	return &Set{rules: compiled}, nil
}

// Load reads a YAML rule file (a `rules:` sequence of pattern strings) and
// compiles it.
func Load(fs afero.Fs, path string) (*Set, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}

	var file ruleFile

	err = yaml.Unmarshal(raw, &file)
	if err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	return New(file.Rules)
}

// Match returns the pattern of the first rule fully matching the trimmed
// message, or false when no rule applies.
func (s *Set) Match(message string) (string, bool) {
	trimmed := strings.TrimSpace(message)

	for _, rule := range s.rules {
		if rule.re.MatchString(trimmed) {
			return rule.Pattern, true
		}
	}

	return "", false
}

// Len returns the number of rules in the set.
func (s *Set) Len() int {
	return len(s.rules)
}

// Patterns returns the patterns in authored order.
func (s *Set) Patterns() []string {
	patterns := make([]string, 0, len(s.rules))
	for _, rule := range s.rules {
		patterns = append(patterns, rule.Pattern)
	}

	return patterns
}
