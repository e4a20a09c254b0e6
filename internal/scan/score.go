package scan

import (
	"math"

	"github.com/roach88/famlink/internal/ir"
)

// ScoreInput is everything a Scorer sees about one match.
type ScoreInput struct {
	Heading        string
	ArticleConcept string
	Match          Match

	// ConceptMatched is true when the rule constrains article concepts and
	// the section satisfied the constraint.
	ConceptMatched bool

	// GroundedTerm is the defined term of the document the heading refers
	// to, or empty.
	GroundedTerm string

	// Calibration is the per-family score offset.
	Calibration float64
}

// Score is a Scorer's verdict.
type Score struct {
	Value     float64
	Tier      ir.Tier
	Breakdown map[string]float64
}

// Scorer computes a candidate's confidence. Implementations must be pure.
type Scorer interface {
	Score(in ScoreInput) Score
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(in ScoreInput) Score

// Score calls f.
func (f ScorerFunc) Score(in ScoreInput) Score { return f(in) }

// Tier thresholds of DefaultScorer.
const (
	HighThreshold   = 0.8
	MediumThreshold = 0.5
)

// DefaultScorer is the offline confidence formula: a base score per match
// type plus small boosts for concept and defined-term grounding, shifted by
// the family calibration and clamped to [0, 1].
type DefaultScorer struct{}

var baseScores = map[ir.MatchType]float64{
	ir.MatchExact:     0.9,
	ir.MatchSubstring: 0.75,
	ir.MatchPartial:   0.55,
}

const (
	conceptBoost   = 0.05
	groundingBoost = 0.05
)

// Score implements Scorer.
func (DefaultScorer) Score(in ScoreInput) Score {
	b := map[string]float64{"base": baseScores[in.Match.Type]}
	if in.ConceptMatched {
		b["concept"] = conceptBoost
	}
	if in.GroundedTerm != "" {
		b["grounding"] = groundingBoost
	}
	if in.Calibration != 0 {
		b["calibration"] = in.Calibration
	}
	total := 0.0
	for _, k := range []string{"base", "concept", "grounding", "calibration"} {
		total += b[k]
	}
	v := round4(math.Min(1, math.Max(0, total)))
	return Score{Value: v, Tier: TierFor(v), Breakdown: b}
}

// TierFor buckets a score with the default thresholds.
func TierFor(v float64) ir.Tier {
	switch {
	case v >= HighThreshold:
		return ir.TierHigh
	case v >= MediumThreshold:
		return ir.TierMedium
	default:
		return ir.TierLow
	}
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
