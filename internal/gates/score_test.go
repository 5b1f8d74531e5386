package gates

import "testing"

func TestEvaluateMixedGates(t *testing.T) {
	score := Evaluate(map[string]bool{"a": true, "b": true, "c": false, "d": true})

	if score.Hit != 3 || score.Total != 4 {
		t.Fatalf("expected 3/4 gates, got %d/%d", score.Hit, score.Total)
	}
	if score.Confidence != 0.75 {
		t.Errorf("expected confidence 0.75, got %v", score.Confidence)
	}
	if score.Tier != TierB {
		t.Errorf("expected tier B at 0.75 confidence, got %s", score.Tier)
	}
	if score.Quality != 75 {
		t.Errorf("expected quality 75, got %d", score.Quality)
	}
}

func TestEvaluateEmptySet(t *testing.T) {
	score := Evaluate(nil)

	if score.Confidence != 0 {
		t.Errorf("expected zero confidence with no gates, got %v", score.Confidence)
	}
	if score.Tier != TierD {
		t.Errorf("expected tier D with no gates, got %s", score.Tier)
	}
}

func TestTierThresholds(t *testing.T) {
	cases := []struct {
		confidence float64
		want       Tier
	}{
		{0.95, TierAPlus},
		{0.90, TierAPlus},
		{0.85, TierA},
		{0.80, TierA},
		{0.75, TierB},
		{0.70, TierB},
		{0.65, TierC},
		{0.60, TierC},
		{0.59, TierD},
		{0.0, TierD},
	}
	for _, tc := range cases {
		if got := TierFor(tc.confidence); got != tc.want {
			t.Errorf("TierFor(%v) = %s, want %s", tc.confidence, got, tc.want)
		}
	}
}

func TestFromCountsLegacyFallback(t *testing.T) {
	score := FromCounts(9, 10)

	if score.Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %v", score.Confidence)
	}
	if score.Tier != TierAPlus {
		t.Errorf("expected tier A+ at 0.9, got %s", score.Tier)
	}
	if score.Quality != 90 {
		t.Errorf("expected quality 90, got %d", score.Quality)
	}
}
