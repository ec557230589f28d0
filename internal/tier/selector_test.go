package tier

import (
	"testing"

	"genimage/internal/domain"
	"genimage/internal/resolution"
)

func testTiers() []Tier {
	return []Tier{
		{Name: "fast", Model: "img-fast", MaxDimension: 1024, Fast: true},
		{Name: "balanced", Model: "img-flash", MaxDimension: 2048, Default: true},
		{Name: "pro", Model: "img-pro", MaxDimension: 4096,
			Features: []string{FeatureGrounding, FeatureReasoning}},
	}
}

func TestSelectExplicitTierWins(t *testing.T) {
	s := NewSelector(DefaultConfig(), testTiers())

	// Explicit tier wins regardless of any other signal.
	name := "fast"
	thinking := "high"
	grounding := true
	sel := s.Select(domain.GenerateRequest{
		Prompt:        "professional 4k production quality render",
		Tier:          &name,
		ThinkingLevel: &thinking,
		Grounding:     &grounding,
	})
	if sel.Tier.Name != "fast" || !sel.Explicit {
		t.Fatalf("got %q explicit=%v, want explicit fast", sel.Tier.Name, sel.Explicit)
	}
}

func TestSelectDefaultWhenNoSignals(t *testing.T) {
	s := NewSelector(DefaultConfig(), testTiers())

	// Regression test for the default-value routing bug: a request with no
	// explicit signals always lands on the default tier with zero scores.
	sel := s.Select(domain.GenerateRequest{Prompt: "a cat on a windowsill"})
	if sel.Tier.Name != "balanced" {
		t.Fatalf("tier = %q, want balanced", sel.Tier.Name)
	}
	if sel.QualityScore != 0 || sel.SpeedScore != 0 {
		t.Fatalf("scores = %d/%d, want 0/0", sel.QualityScore, sel.SpeedScore)
	}
}

func TestSelectUnsetOptionalFieldsDoNotScore(t *testing.T) {
	s := NewSelector(DefaultConfig(), testTiers())

	// Nil resolution, nil grounding, nil thinking level: none may move the
	// quality score, even though a calling layer could have defaulted them.
	sel := s.Select(domain.GenerateRequest{
		Prompt: "a lighthouse at dusk",
		Count:  1,
	})
	if sel.QualityScore != 0 {
		t.Fatalf("quality score = %d from unset fields, want 0", sel.QualityScore)
	}
	if sel.Tier.Name != "balanced" {
		t.Fatalf("tier = %q, want balanced", sel.Tier.Name)
	}
}

func TestSelectQualitySignals(t *testing.T) {
	s := NewSelector(DefaultConfig(), testTiers())

	cases := []struct {
		name string
		req  domain.GenerateRequest
	}{
		{"strong keywords", domain.GenerateRequest{Prompt: "professional production shot"}},
		{"grounding", domain.GenerateRequest{Prompt: "the eiffel tower", Grounding: boolPtr(true)}},
		{"deep reasoning plus keyword", domain.GenerateRequest{
			Prompt:        "detailed diagram",
			ThinkingLevel: strPtr("high"),
		}},
		{"explicit 4k resolution", domain.GenerateRequest{
			Prompt:     "a skyline",
			Resolution: specPtr(resolution.PresetSpec("4k")),
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sel := s.Select(tc.req)
			if sel.Tier.Name != "pro" {
				t.Fatalf("tier = %q (q=%d s=%d), want pro",
					sel.Tier.Name, sel.QualityScore, sel.SpeedScore)
			}
			if sel.QualityScore <= sel.SpeedScore {
				t.Fatalf("quality %d not above speed %d", sel.QualityScore, sel.SpeedScore)
			}
		})
	}
}

func TestSelectSpeedSignals(t *testing.T) {
	s := NewSelector(DefaultConfig(), testTiers())

	// Batch count above the threshold plus a speed keyword routes to the
	// fastest tier.
	sel := s.Select(domain.GenerateRequest{
		Prompt: "quick draft of a poster",
		Count:  4,
	})
	if sel.Tier.Name != "fast" {
		t.Fatalf("tier = %q (q=%d s=%d), want fast",
			sel.Tier.Name, sel.QualityScore, sel.SpeedScore)
	}
	if sel.SpeedScore <= sel.QualityScore {
		t.Fatalf("speed %d not above quality %d", sel.SpeedScore, sel.QualityScore)
	}
}

func TestSelectGroundingFalseDoesNotScore(t *testing.T) {
	s := NewSelector(DefaultConfig(), testTiers())

	// Explicitly disabled grounding is a set field but not a quality signal.
	sel := s.Select(domain.GenerateRequest{
		Prompt:    "a garden",
		Grounding: boolPtr(false),
	})
	if sel.QualityScore != 0 {
		t.Fatalf("quality score = %d, want 0", sel.QualityScore)
	}
}

func TestSelectUnknownExplicitTierFallsThrough(t *testing.T) {
	s := NewSelector(DefaultConfig(), testTiers())

	name := "turbo-ultra"
	sel := s.Select(domain.GenerateRequest{Prompt: "a cat", Tier: &name})
	if sel.Explicit {
		t.Fatal("unknown tier name must not count as explicit selection")
	}
	if sel.Tier.Name != "balanced" {
		t.Fatalf("tier = %q, want balanced fallback", sel.Tier.Name)
	}
}

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }

func specPtr(s resolution.Spec) *resolution.Spec { return &s }
