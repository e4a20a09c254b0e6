package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/famlink/internal/ir"
)

func TestMatchHeading(t *testing.T) {
	tests := []struct {
		name    string
		heading string
		values  []string
		want    Match
	}{
		{"exact ignores case", "INDEBTEDNESS", []string{"indebtedness"}, Match{ir.MatchExact, "indebtedness"}},
		{"substring", "Limitation on Indebtedness", []string{"Indebtedness"}, Match{ir.MatchSubstring, "Indebtedness"}},
		{"partial token overlap", "Debt and Guarantees", []string{"Debt Guarantees"}, Match{ir.MatchPartial, "Debt Guarantees"}},
		{"partial needs half", "Liens", []string{"Limitation on Liens"}, Match{Type: ir.MatchNone}},
		{"exact beats earlier substring", "Tax Liens", []string{"Liens", "Tax Liens"}, Match{ir.MatchExact, "Tax Liens"}},
		{"earliest value among equals", "Liens and Debt", []string{"Debt", "Liens"}, Match{ir.MatchSubstring, "Debt"}},
		{"no match", "Restricted Payments", []string{"Liens"}, Match{Type: ir.MatchNone}},
		{"blank heading", "  ", []string{"Liens"}, Match{Type: ir.MatchNone}},
		{"blank value ignored", "Liens", []string{"", "Liens"}, Match{ir.MatchExact, "Liens"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchHeading(tt.heading, tt.values))
		})
	}
}

func TestMatchHeading_FoldsUnicodeCase(t *testing.T) {
	m := MatchHeading("STRASSE", []string{"straße"})
	assert.Equal(t, ir.MatchExact, m.Type)
}

func TestExcluded(t *testing.T) {
	assert.True(t, Excluded("Tax Liens", []string{"tax"}))
	assert.False(t, Excluded("Liens", []string{"tax"}))
	assert.False(t, Excluded("Liens", nil))
}

func TestDefaultScorer(t *testing.T) {
	tests := []struct {
		name string
		in   ScoreInput
		want float64
		tier ir.Tier
	}{
		{"exact", ScoreInput{Match: Match{Type: ir.MatchExact}}, 0.9, ir.TierHigh},
		{"substring", ScoreInput{Match: Match{Type: ir.MatchSubstring}}, 0.75, ir.TierMedium},
		{"substring with concept", ScoreInput{Match: Match{Type: ir.MatchSubstring}, ConceptMatched: true}, 0.8, ir.TierHigh},
		{"partial", ScoreInput{Match: Match{Type: ir.MatchPartial}}, 0.55, ir.TierMedium},
		{"calibrated down", ScoreInput{Match: Match{Type: ir.MatchPartial}, Calibration: -0.1}, 0.45, ir.TierLow},
		{"clamped", ScoreInput{Match: Match{Type: ir.MatchExact}, ConceptMatched: true, GroundedTerm: "Debt", Calibration: 0.5}, 1, ir.TierHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DefaultScorer{}.Score(tt.in)
			assert.Equal(t, tt.want, got.Value)
			assert.Equal(t, tt.tier, got.Tier)
			assert.Contains(t, got.Breakdown, "base")
		})
	}
}
