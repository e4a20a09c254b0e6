package scan

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/roach88/famlink/internal/ir"
)

// PartialOverlap is the minimum share of a value's tokens that must appear
// in the heading for a partial match.
const PartialOverlap = 0.5

// Match is the outcome of matching one heading.
type Match struct {
	Type  ir.MatchType
	Value string
}

// Matched reports whether the heading matched.
func (m Match) Matched() bool { return m.Type != ir.MatchNone && m.Type != "" }

// Fold case-folds s for comparison.
func Fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// MatchHeading tests heading against values in order: every value is tried
// for an exact match, then for a substring match, then for a partial match.
// The first success wins, so a stronger match type always beats a weaker one
// and among equals the earliest value wins.
func MatchHeading(heading string, values []string) Match {
	h := Fold(heading)
	if h == "" {
		return Match{Type: ir.MatchNone}
	}
	folded := make([]string, len(values))
	for i, v := range values {
		folded[i] = Fold(v)
	}

	for i, v := range folded {
		if v != "" && v == h {
			return Match{Type: ir.MatchExact, Value: values[i]}
		}
	}
	for i, v := range folded {
		if v != "" && strings.Contains(h, v) {
			return Match{Type: ir.MatchSubstring, Value: values[i]}
		}
	}
	headingTokens := tokenSet(h)
	for i, v := range folded {
		if overlap(tokens(v), headingTokens) >= PartialOverlap {
			return Match{Type: ir.MatchPartial, Value: values[i]}
		}
	}
	return Match{Type: ir.MatchNone}
}

// Excluded reports whether heading contains any of the negated values.
func Excluded(heading string, negated []string) bool {
	h := Fold(heading)
	for _, v := range negated {
		if f := Fold(v); f != "" && strings.Contains(h, f) {
			return true
		}
	}
	return false
}

func tokens(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func tokenSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, t := range tokens(s) {
		set[t] = true
	}
	return set
}

// overlap returns the share of want found in have; 0 when want is empty.
func overlap(want []string, have map[string]bool) float64 {
	if len(want) == 0 {
		return 0
	}
	n := 0
	for _, t := range want {
		if have[t] {
			n++
		}
	}
	return float64(n) / float64(len(want))
}
