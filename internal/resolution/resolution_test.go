package resolution

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestResolvePresets(t *testing.T) {
	limits := Limits{MaxDimension: 4096}

	cases := []struct {
		name string
		spec Spec
		want Dimensions
	}{
		{"fixed 1080p", PresetSpec("1080p"), Dimensions{1920, 1080}},
		{"fixed 4k", PresetSpec("4k"), Dimensions{3840, 2160}},
		{"square large", PresetSpec("square-large"), Dimensions{2048, 2048}},
		{"dimension string", PresetSpec("1920x1080"), Dimensions{1920, 1080}},
		{"dimension string with spaces", PresetSpec(" 800 x 600 "), Dimensions{800, 600}},
		{"case insensitive", PresetSpec("1080P"), Dimensions{1920, 1080}},
		{"explicit", ExplicitSpec(1024, 768), Dimensions{1024, 768}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Resolve(tc.spec, limits)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestResolveScaledPresets(t *testing.T) {
	// Tier-scaled presets follow the active tier's max dimension, which is
	// why resolution is resolved after tier selection.
	cases := []struct {
		preset string
		max    int
		want   Dimensions
	}{
		{"high", 4096, Dimensions{4096, 4096}},
		{"high", 2048, Dimensions{2048, 2048}},
		{"medium", 4096, Dimensions{2048, 2048}},
		{"low", 4096, Dimensions{1024, 1024}},
		{"medium", 2048, Dimensions{1024, 1024}},
	}

	for _, tc := range cases {
		got, err := Resolve(PresetSpec(tc.preset), Limits{MaxDimension: tc.max})
		if err != nil {
			t.Fatalf("Resolve(%q, max=%d): %v", tc.preset, tc.max, err)
		}
		if got != tc.want {
			t.Fatalf("Resolve(%q, max=%d) = %s, want %s", tc.preset, tc.max, got, tc.want)
		}
	}
}

func TestResolveAspectRatio(t *testing.T) {
	limits := Limits{MaxDimension: 4096}

	got, err := Resolve(AspectSpec("16:9", "4k"), limits)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != (Dimensions{3840, 2160}) {
		t.Fatalf("got %s, want 3840x2160", got)
	}

	// Portrait: the long edge becomes the height.
	got, err = Resolve(AspectSpec("9:16", "1080p"), limits)
	if err != nil {
		t.Fatalf("Resolve portrait: %v", err)
	}
	if got.Height != 1920 {
		t.Fatalf("portrait long edge = %d, want 1920", got.Height)
	}
	if got.Width >= got.Height {
		t.Fatalf("portrait got %s, want width < height", got)
	}

	// Decimal ratio string.
	got, err = Resolve(AspectSpec("1.5", "1080p"), limits)
	if err != nil {
		t.Fatalf("Resolve decimal ratio: %v", err)
	}
	if ratio := got.AspectRatio(); math.Abs(ratio-1.5) > 0.015 {
		t.Fatalf("ratio = %.3f, want 1.5 within 1%%", ratio)
	}
}

func TestResolveInvalid(t *testing.T) {
	limits := Limits{MaxDimension: 2048}

	cases := []struct {
		name string
		spec Spec
	}{
		{"unknown preset", PresetSpec("8k-cinema")},
		{"empty preset", PresetSpec("")},
		{"garbage dimension string", PresetSpec("axb")},
		{"triple split", PresetSpec("1x2x3")},
		{"zero width", ExplicitSpec(0, 100)},
		{"negative height", ExplicitSpec(100, -1)},
		{"over hard bound", ExplicitSpec(12000, 12000)},
		{"ratio too wide", ExplicitSpec(4000, 100)},
		{"ratio too tall", AspectSpec("1:8", "1080p")},
		{"malformed ratio", AspectSpec("16/9", "1080p")},
		{"zero denominator", AspectSpec("16:0", "1080p")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Resolve(tc.spec, limits); !errors.Is(err, ErrInvalidSpec) {
				t.Fatalf("err = %v, want ErrInvalidSpec", err)
			}
		})
	}
}

func TestNormalizeDownscale(t *testing.T) {
	// The scenario from the tier-limit contract: 2048x2048 against a
	// 1024-limited tier lands exactly on 1024x1024.
	got, err := Resolve(ExplicitSpec(2048, 2048), Limits{MaxDimension: 1024})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != (Dimensions{1024, 1024}) {
		t.Fatalf("got %s, want 1024x1024", got)
	}
}

func TestNormalizeProperties(t *testing.T) {
	// For all valid inputs: both axes even, within limits, aspect ratio
	// preserved within 1%.
	inputs := []Dimensions{
		{3840, 2160},
		{2048, 2048},
		{1920, 1080},
		{1000, 3000},
		{3000, 1000},
		{1333, 999},
		{4097, 2011},
	}
	for _, in := range inputs {
		for _, maxEdge := range []int{512, 1024, 2048, 4096} {
			out := Normalize(in, maxEdge)
			if out.Width%2 != 0 || out.Height%2 != 0 {
				t.Fatalf("Normalize(%s, %d) = %s: axes not even", in, maxEdge, out)
			}
			if out.Width > maxEdge || out.Height > maxEdge {
				t.Fatalf("Normalize(%s, %d) = %s: exceeds limit", in, maxEdge, out)
			}
			wantRatio := in.AspectRatio()
			gotRatio := out.AspectRatio()
			if math.Abs(gotRatio-wantRatio)/wantRatio > 0.011 {
				t.Fatalf("Normalize(%s, %d) = %s: ratio drift %.3f -> %.3f",
					in, maxEdge, out, wantRatio, gotRatio)
			}
		}
	}
}

func TestSpecUnmarshalJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Spec
	}{
		{"preset string", `"1080p"`, PresetSpec("1080p")},
		{"dimension string", `"1920x1080"`, PresetSpec("1920x1080")},
		{"pair", `[1920, 1080]`, ExplicitSpec(1920, 1080)},
		{"record", `{"width": 800, "height": 600}`, ExplicitSpec(800, 600)},
		{"aspect with target", `{"aspect_ratio": "16:9", "target": "4k"}`, AspectSpec("16:9", "4k")},
		{"numeric aspect", `{"aspect_ratio": 1.5}`, AspectSpec("1.5", "")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got Spec
			if err := json.Unmarshal([]byte(tc.in), &got); err != nil {
				t.Fatalf("unmarshal %s: %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}

	for _, bad := range []string{`[1,2,3]`, `{"target":"4k"}`, `42`, `true`} {
		var got Spec
		if err := json.Unmarshal([]byte(bad), &got); !errors.Is(err, ErrInvalidSpec) {
			t.Fatalf("unmarshal %s: err = %v, want ErrInvalidSpec", bad, err)
		}
	}
}
