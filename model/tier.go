// Package model provides tier-based model selection for chunk processing.
// Instead of hardcoding model names, jobs specify a tier (speed, balanced,
// quality) and the registry resolves it to available endpoints with
// fallback chains.
package model

// Tier represents a semantic quality/latency tradeoff for model selection.
// Instead of specifying "gpt-4o-mini", users specify "speed" or "quality".
type Tier string

const (
	// TierSpeed is for fast, cheap extraction of simple text.
	TierSpeed Tier = "speed"

	// TierBalanced is the default tradeoff for typical documents.
	TierBalanced Tier = "balanced"

	// TierQuality is for difficult scans and dense literary prose.
	TierQuality Tier = "quality"
)

// rank orders tiers for degradation: a failed request may fall to any
// strictly lower tier, never a higher one.
var rank = map[Tier]int{
	TierSpeed:    0,
	TierBalanced: 1,
	TierQuality:  2,
}

// IsValid checks if a tier string is a known tier.
func (t Tier) IsValid() bool {
	_, ok := rank[t]
	return ok
}

// String returns the string representation of the tier.
func (t Tier) String() string {
	return string(t)
}

// Below returns the tiers strictly below t, highest first. Used to build
// the degradation path when every endpoint of a tier has failed.
func (t Tier) Below() []Tier {
	r, ok := rank[t]
	if !ok {
		return nil
	}
	var below []Tier
	for _, candidate := range []Tier{TierQuality, TierBalanced, TierSpeed} {
		if rank[candidate] < r {
			below = append(below, candidate)
		}
	}
	return below
}

// NextHeavier returns the tier one step above t, or "" when t is already
// the heaviest. Used by the extraction cascade's model-escalation step.
func (t Tier) NextHeavier() Tier {
	switch t {
	case TierSpeed:
		return TierBalanced
	case TierBalanced:
		return TierQuality
	}
	return ""
}

// ParseTier converts a string to a Tier, returning TierBalanced for
// empty input and "" for invalid values.
func ParseTier(s string) Tier {
	if s == "" {
		return TierBalanced
	}
	t := Tier(s)
	if t.IsValid() {
		return t
	}
	return ""
}
