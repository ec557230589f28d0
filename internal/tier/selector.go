package tier

import (
	"strings"

	"genimage/internal/domain"
	"genimage/internal/resolution"
)

// Selection is the routing decision plus the scores that produced it, kept
// for diagnostics. Derived, never persisted.
type Selection struct {
	Tier         Tier
	QualityScore int
	SpeedScore   int
	// Explicit is set when the caller pinned the tier and no scoring ran.
	Explicit bool
}

// Config carries the scoring knobs. The numeric weights are tunable
// configuration sourced from routing heuristics, not a contract.
type Config struct {
	QualityKeywords []string
	// StrongQualityKeywords are weighted double.
	StrongQualityKeywords []string
	SpeedKeywords         []string
	// BatchThreshold is the count above which a request counts as a speed
	// signal.
	BatchThreshold int
	// ReasoningBonus is added when the caller explicitly requests deep
	// reasoning.
	ReasoningBonus int
	// GroundingBonus is added when the caller explicitly enables grounding.
	GroundingBonus int
}

// DefaultConfig returns the stock scoring heuristics.
func DefaultConfig() Config {
	return Config{
		QualityKeywords: []string{
			"detailed", "ultra detailed", "quality", "crisp", "sharp",
			"pristine", "photorealistic",
		},
		StrongQualityKeywords: []string{
			"4k", "professional", "production", "high-res", "hd",
		},
		SpeedKeywords: []string{
			"quick", "draft", "fast", "sketch", "rough", "preview",
		},
		BatchThreshold: 2,
		ReasoningBonus: 1,
		GroundingBonus: 2,
	}
}

// Selector scores requests against the configured tiers.
type Selector struct {
	cfg   Config
	tiers []Tier
}

// NewSelector builds a selector over the given tiers. The tier list is the
// registry of available backends; it must contain at least one tier and is
// not mutated.
func NewSelector(cfg Config, tiers []Tier) *Selector {
	return &Selector{cfg: cfg, tiers: tiers}
}

// Tiers returns the configured tier registry.
func (s *Selector) Tiers() []Tier {
	return s.tiers
}

// Lookup finds a tier by name.
func (s *Selector) Lookup(name string) (Tier, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, t := range s.tiers {
		if strings.ToLower(t.Name) == name {
			return t, true
		}
	}
	return Tier{}, false
}

// Select picks a tier for the request. It never fails: an explicit tier in
// the request always wins outright, otherwise quality and speed signals are
// scored and the balanced default tier takes any tie. Only fields the caller
// explicitly set contribute to the scores; values defaulted by a calling
// layer must arrive as nil and therefore never move the decision.
func (s *Selector) Select(req domain.GenerateRequest) Selection {
	if req.Tier != nil {
		if t, ok := s.Lookup(*req.Tier); ok {
			return Selection{Tier: t, Explicit: true}
		}
	}

	quality, speed := s.score(req)

	switch {
	case quality > speed:
		return Selection{Tier: s.qualityTier(), QualityScore: quality, SpeedScore: speed}
	case speed > quality:
		// Speed only wins through explicit signals, so the fastest tier is
		// genuinely asked for here.
		return Selection{Tier: s.fastTier(), QualityScore: quality, SpeedScore: speed}
	default:
		return Selection{Tier: s.defaultTier(), QualityScore: quality, SpeedScore: speed}
	}
}

func (s *Selector) score(req domain.GenerateRequest) (quality, speed int) {
	prompt := strings.ToLower(req.Prompt)

	for _, kw := range s.cfg.QualityKeywords {
		if strings.Contains(prompt, kw) {
			quality++
		}
	}
	for _, kw := range s.cfg.StrongQualityKeywords {
		if strings.Contains(prompt, kw) {
			quality += 2
		}
	}
	for _, kw := range s.cfg.SpeedKeywords {
		if strings.Contains(prompt, kw) {
			speed++
		}
	}

	// Count is a speed signal only past the batch threshold; a caller who
	// left it unset (zero) never trips this.
	if s.cfg.BatchThreshold > 0 && req.Count > s.cfg.BatchThreshold {
		speed++
	}

	// Conditioning on multiple source assets favors the quality tier.
	if len(req.SourceAssetIDs) > 1 {
		quality++
	}

	if req.ThinkingLevel != nil && strings.EqualFold(*req.ThinkingLevel, "high") {
		quality += s.cfg.ReasoningBonus
	}
	if req.Grounding != nil && *req.Grounding {
		quality += s.cfg.GroundingBonus
	}

	quality += s.resolutionSignal(req.Resolution)
	return quality, speed
}

// resolutionSignal scores an explicitly requested resolution. A nil spec is
// the common case and contributes nothing: this is the guard against the
// default-resolution routing bug, where a calling layer's default "high"
// hint silently routed every request to the most expensive tier.
func (s *Selector) resolutionSignal(spec *resolution.Spec) int {
	if spec == nil {
		return 0
	}
	if spec.Kind == resolution.KindPreset {
		switch strings.ToLower(strings.TrimSpace(spec.Preset)) {
		case "high", "original":
			return 1
		case "medium", "low":
			return 0
		}
	}
	dims, err := resolution.Resolve(*spec, resolution.Limits{MaxDimension: resolution.MaxDimension})
	if err != nil {
		return 0
	}
	switch edge := dims.LongEdge(); {
	case edge >= 3840:
		return 3
	case edge >= 2048:
		return 2
	case edge >= 1920:
		return 1
	default:
		return 0
	}
}

// qualityTier is the registered tier with the largest accepted dimension
// that is not the fast tier.
func (s *Selector) qualityTier() Tier {
	best := s.defaultTier()
	for _, t := range s.tiers {
		if t.Fast {
			continue
		}
		if t.MaxDimension > best.MaxDimension {
			best = t
		}
	}
	return best
}

func (s *Selector) fastTier() Tier {
	for _, t := range s.tiers {
		if t.Fast {
			return t
		}
	}
	return s.defaultTier()
}

func (s *Selector) defaultTier() Tier {
	for _, t := range s.tiers {
		if t.Default {
			return t
		}
	}
	if len(s.tiers) > 0 {
		return s.tiers[0]
	}
	return Tier{}
}
