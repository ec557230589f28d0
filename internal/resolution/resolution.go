// Package resolution parses heterogeneous resolution specifications into
// validated pixel dimensions and normalizes them against per-tier limits.
package resolution

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidSpec rejects malformed resolution input: non-positive dimensions,
// unknown preset names, aspect ratios outside the supported range.
var ErrInvalidSpec = errors.New("resolution: invalid spec")

const (
	// MinDimension is the smallest axis any resolved resolution may have.
	MinDimension = 16
	// MaxDimension is the hard upper bound regardless of tier limits.
	MaxDimension = 10000

	minAspectRatio = 0.25
	maxAspectRatio = 4.0
)

// Dimensions is a concrete, validated pixel size. Immutable once produced.
type Dimensions struct {
	Width  int
	Height int
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// LongEdge returns the larger of the two axes.
func (d Dimensions) LongEdge() int {
	if d.Width > d.Height {
		return d.Width
	}
	return d.Height
}

// Pixels returns the total pixel count.
func (d Dimensions) Pixels() int {
	return d.Width * d.Height
}

// AspectRatio returns width/height.
func (d Dimensions) AspectRatio() float64 {
	if d.Height == 0 {
		return 0
	}
	return float64(d.Width) / float64(d.Height)
}

// Kind discriminates the accepted spec forms.
type Kind int

const (
	// KindDefault means the caller supplied nothing; the tier's default
	// preset applies.
	KindDefault Kind = iota
	// KindPreset is a named preset, fixed ("1080p") or tier-scaled ("high").
	KindPreset
	// KindExplicit is a concrete width and height.
	KindExplicit
	// KindAspect derives one axis from an aspect ratio and a target preset's
	// long edge.
	KindAspect
)

// Spec is the tagged union accepted from callers. Exactly one form is
// populated, selected by Kind.
type Spec struct {
	Kind   Kind
	Preset string
	Width  int
	Height int
	// Aspect is either "W:H" or a decimal ratio string.
	Aspect string
	// Target names the preset whose long edge anchors an aspect-ratio spec.
	Target string
}

// PresetSpec builds a named-preset spec.
func PresetSpec(name string) Spec { return Spec{Kind: KindPreset, Preset: name} }

// ExplicitSpec builds a width×height spec.
func ExplicitSpec(w, h int) Spec { return Spec{Kind: KindExplicit, Width: w, Height: h} }

// AspectSpec builds an aspect-ratio spec anchored at the target preset.
func AspectSpec(ratio, target string) Spec { return Spec{Kind: KindAspect, Aspect: ratio, Target: target} }

// Limits carries the per-tier constraints the resolver validates against.
type Limits struct {
	// MaxDimension is the largest axis the tier's backend accepts.
	MaxDimension int
	// DefaultPreset applies when the caller supplied no spec. Empty means
	// "high".
	DefaultPreset string
}

// fixedPresets maps preset names to concrete dimensions. Tier-scaled presets
// (high/medium/low) are intentionally absent; they are computed from Limits.
var fixedPresets = map[string]Dimensions{
	"square-large": {2048, 2048},
	"square":       {1024, 1024},
	"720p":         {1280, 720},
	"720p-portrait":  {720, 1280},
	"1080p":          {1920, 1080},
	"1080p-portrait": {1080, 1920},
	"2k":          {2048, 2048},
	"4k":          {3840, 2160},
	"4k-portrait": {2160, 3840},
	"4k-square":   {3840, 3840},
	"1024":        {1024, 1024},
}

// scaledPresetFractions are applied to the active tier's maximum dimension.
// Recomputed per tier, which is why resolution is resolved after tier
// selection.
var scaledPresetFractions = map[string]float64{
	"high":     1.0,
	"original": 1.0,
	"medium":   0.5,
	"low":      0.25,
}

// Resolve parses the spec, validates it, and normalizes the result to fit
// within the tier limits. It is a pure function: no I/O, no shared state.
func Resolve(spec Spec, limits Limits) (Dimensions, error) {
	if limits.MaxDimension <= 0 || limits.MaxDimension > MaxDimension {
		limits.MaxDimension = MaxDimension
	}

	dims, err := parse(spec, limits)
	if err != nil {
		return Dimensions{}, err
	}
	if dims.Width <= 0 || dims.Height <= 0 {
		return Dimensions{}, fmt.Errorf("%w: non-positive dimensions %s", ErrInvalidSpec, dims)
	}
	if dims.Width > MaxDimension || dims.Height > MaxDimension {
		return Dimensions{}, fmt.Errorf("%w: %s exceeds hard bound %d", ErrInvalidSpec, dims, MaxDimension)
	}
	ratio := dims.AspectRatio()
	if ratio < minAspectRatio || ratio > maxAspectRatio {
		return Dimensions{}, fmt.Errorf("%w: aspect ratio %.2f outside [%.2f, %.2f]",
			ErrInvalidSpec, ratio, minAspectRatio, maxAspectRatio)
	}

	return Normalize(dims, limits.MaxDimension), nil
}

func parse(spec Spec, limits Limits) (Dimensions, error) {
	switch spec.Kind {
	case KindDefault:
		preset := limits.DefaultPreset
		if preset == "" {
			preset = "high"
		}
		return parsePreset(preset, limits)
	case KindPreset:
		return parsePreset(spec.Preset, limits)
	case KindExplicit:
		return Dimensions{Width: spec.Width, Height: spec.Height}, nil
	case KindAspect:
		return parseAspect(spec, limits)
	default:
		return Dimensions{}, fmt.Errorf("%w: unknown spec kind %d", ErrInvalidSpec, spec.Kind)
	}
}

// parsePreset resolves a preset name. "WxH" strings are accepted here too so
// callers can pass a single string field for either form.
func parsePreset(name string, limits Limits) (Dimensions, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Dimensions{}, fmt.Errorf("%w: empty preset", ErrInvalidSpec)
	}

	if strings.Contains(name, "x") {
		return parseDimensionString(name)
	}
	if d, ok := fixedPresets[name]; ok {
		return d, nil
	}
	if frac, ok := scaledPresetFractions[name]; ok {
		edge := int(float64(limits.MaxDimension) * frac)
		if edge < MinDimension {
			edge = MinDimension
		}
		return Dimensions{Width: edge, Height: edge}, nil
	}
	return Dimensions{}, fmt.Errorf("%w: unknown preset %q", ErrInvalidSpec, name)
}

func parseDimensionString(s string) (Dimensions, error) {
	parts := strings.Split(s, "x")
	if len(parts) != 2 {
		return Dimensions{}, fmt.Errorf("%w: malformed dimension string %q", ErrInvalidSpec, s)
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil {
		return Dimensions{}, fmt.Errorf("%w: malformed dimension string %q", ErrInvalidSpec, s)
	}
	return Dimensions{Width: w, Height: h}, nil
}

// parseAspect computes one axis from the other given the target preset's
// long edge.
func parseAspect(spec Spec, limits Limits) (Dimensions, error) {
	ratio, err := parseRatio(spec.Aspect)
	if err != nil {
		return Dimensions{}, err
	}
	if ratio < minAspectRatio || ratio > maxAspectRatio {
		return Dimensions{}, fmt.Errorf("%w: aspect ratio %.2f outside [%.2f, %.2f]",
			ErrInvalidSpec, ratio, minAspectRatio, maxAspectRatio)
	}

	target := spec.Target
	if target == "" {
		target = "high"
	}
	anchor, err := parsePreset(target, limits)
	if err != nil {
		return Dimensions{}, err
	}
	edge := anchor.LongEdge()

	if ratio >= 1 { // landscape or square
		return Dimensions{Width: edge, Height: int(float64(edge) / ratio)}, nil
	}
	return Dimensions{Width: int(float64(edge) * ratio), Height: edge}, nil
}

func parseRatio(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty aspect ratio", ErrInvalidSpec)
	}
	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) != 2 {
			return 0, fmt.Errorf("%w: malformed aspect ratio %q", ErrInvalidSpec, s)
		}
		num, errN := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		den, errD := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if errN != nil || errD != nil || den == 0 {
			return 0, fmt.Errorf("%w: malformed aspect ratio %q", ErrInvalidSpec, s)
		}
		return num / den, nil
	}
	ratio, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed aspect ratio %q", ErrInvalidSpec, s)
	}
	return ratio, nil
}

// Normalize downscales dims to fit within maxEdge, preserving the aspect
// ratio within 1% and rounding both axes to even integers so downstream
// encoders that require even dimensions never fail.
func Normalize(dims Dimensions, maxEdge int) Dimensions {
	if maxEdge <= 0 {
		maxEdge = MaxDimension
	}
	if dims.Width <= maxEdge && dims.Height <= maxEdge {
		return Dimensions{Width: roundEven(dims.Width), Height: roundEven(dims.Height)}
	}

	scale := float64(maxEdge) / float64(dims.LongEdge())
	w := roundEven(int(float64(dims.Width)*scale + 0.5))
	h := roundEven(int(float64(dims.Height)*scale + 0.5))
	if w > maxEdge {
		w = roundEvenDown(maxEdge)
	}
	if h > maxEdge {
		h = roundEvenDown(maxEdge)
	}
	if w < MinDimension {
		w = MinDimension
	}
	if h < MinDimension {
		h = MinDimension
	}
	return Dimensions{Width: w, Height: h}
}

// roundEven rounds to the nearest even integer, never below MinDimension.
func roundEven(v int) int {
	if v%2 != 0 {
		v++
	}
	if v < MinDimension {
		return MinDimension
	}
	return v
}

func roundEvenDown(v int) int {
	if v%2 != 0 {
		v--
	}
	if v < MinDimension {
		return MinDimension
	}
	return v
}
