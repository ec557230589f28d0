// Package tier routes generation requests across backend tiers by scoring
// quality and speed signals from the request.
package tier

import "genimage/internal/resolution"

// Feature flags a tier may support.
const (
	FeatureGrounding = "grounding"
	FeatureReasoning = "reasoning"
)

// Tier describes one backend generation profile. Configured once, read-only
// at runtime.
type Tier struct {
	Name  string
	Model string
	// MaxDimension is the largest axis the tier's backend accepts.
	MaxDimension int
	Features     []string
	// Default marks the balanced tier chosen when no signal dominates.
	Default bool
	// Fast marks the tier reserved for requests that explicitly ask for
	// speed.
	Fast bool
}

// DefaultTiers returns the stock registry: a fast tier for draft work, a
// balanced default, and a pro tier that carries the advanced features.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "fast", Model: "gemini-2.5-flash-image", MaxDimension: 1024, Fast: true},
		{Name: "balanced", Model: "gemini-2.5-flash-image", MaxDimension: 2048, Default: true},
		{Name: "pro", Model: "gemini-3-pro-image", MaxDimension: 4096,
			Features: []string{FeatureGrounding, FeatureReasoning}},
	}
}

// Supports reports whether the tier carries the given feature flag.
func (t Tier) Supports(feature string) bool {
	for _, f := range t.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// Limits returns the resolution constraints for this tier.
func (t Tier) Limits() resolution.Limits {
	return resolution.Limits{MaxDimension: t.MaxDimension}
}
