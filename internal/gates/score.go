// Package gates maps a named boolean gate set to a confidence score
// and a discrete quality tier.
package gates

import "math"

// Tier is the discrete quality band derived from gate confidence.
type Tier string

const (
	TierAPlus Tier = "A+"
	TierA     Tier = "A"
	TierB     Tier = "B"
	TierC     Tier = "C"
	TierD     Tier = "D"
)

// Score is the full scoring result for one gate set.
type Score struct {
	Hit        int     `json:"gates_hit"`
	Total      int     `json:"gates_total"`
	Confidence float64 `json:"confidence"`
	Tier       Tier    `json:"quality_tier"`
	Quality    int     `json:"quality_score"` // 0-100
}

// Evaluate folds a gate set into a Score. An empty or nil set scores
// zero confidence, tier D.
func Evaluate(set map[string]bool) Score {
	hit := 0
	for _, passed := range set {
		if passed {
			hit++
		}
	}
	return FromCounts(hit, len(set))
}

// FromCounts builds a Score from explicit hit/total counts. Used as
// the legacy fallback when a signal carries counts but no gate set.
func FromCounts(hit, total int) Score {
	confidence := 0.0
	if total > 0 {
		confidence = float64(hit) / float64(total)
	}
	return Score{
		Hit:        hit,
		Total:      total,
		Confidence: confidence,
		Tier:       TierFor(confidence),
		Quality:    int(math.Round(confidence * 100)),
	}
}

// TierFor maps a confidence ratio to its quality tier.
func TierFor(confidence float64) Tier {
	switch {
	case confidence >= 0.90:
		return TierAPlus
	case confidence >= 0.80:
		return TierA
	case confidence >= 0.70:
		return TierB
	case confidence >= 0.60:
		return TierC
	default:
		return TierD
	}
}
