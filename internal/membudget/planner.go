// Package membudget estimates the byte cost of pixel buffers, enforces a
// configurable ceiling, and picks a processing strategy so large images never
// blow up peak memory.
package membudget

import (
	"errors"
	"fmt"

	"genimage/internal/resolution"
)

var (
	// ErrBudgetExceeded means the estimate does not fit the ceiling even with
	// chunked processing. The caller may retry with a smaller request.
	ErrBudgetExceeded = errors.New("membudget: budget exceeded")
	// ErrInsufficientMemory means free system memory minus the safety margin
	// is below the estimate. Retryable.
	ErrInsufficientMemory = errors.New("membudget: insufficient memory")
)

// Strategy selects how an asset is processed.
type Strategy string

const (
	// StrategyInMemory holds the whole decoded buffer and encodes at high
	// quality.
	StrategyInMemory Strategy = "in-memory"
	// StrategyChunked streams the encode through fixed-size chunks, trading
	// some fidelity for bounded peak memory.
	StrategyChunked Strategy = "chunked"
)

const (
	// BytesPerPixelRGBA covers the decoded working buffer for PNG/WebP-style
	// four-channel images.
	BytesPerPixelRGBA = 4
	// BytesPerPixelRGB covers three-channel formats like JPEG.
	BytesPerPixelRGB = 3

	// overheadFactor accounts for intermediate buffers during encode and
	// resize: channel conversion plus format headroom.
	overheadFactor = 1.5

	// safetyMarginPercent of the ceiling is kept free when checking live
	// system memory.
	safetyMarginPercent = 0.20

	smallPixels  = 1024 * 1024 // 1 MP
	mediumPixels = 2048 * 2048 // 4 MP
	largePixels  = 3840 * 2160 // ~8 MP
)

// Plan is the processing decision for one asset.
type Plan struct {
	Strategy  Strategy
	ChunkSize int
	// Quality is the JPEG quality the encode should use; lower for streamed
	// assets to keep intermediate buffers down.
	Quality   int
	Estimated int64
}

// Planner holds the configured ceiling and an optional live-memory probe.
type Planner struct {
	ceilingBytes int64
	// availableBytes reports free system memory; nil disables the live check.
	availableBytes func() int64
}

// Option configures a Planner.
type Option func(*Planner)

// WithAvailableMemory wires a live system-memory probe. Plans whose estimate
// does not fit available minus the safety margin are rejected with
// ErrInsufficientMemory.
func WithAvailableMemory(probe func() int64) Option {
	return func(p *Planner) { p.availableBytes = probe }
}

// NewPlanner builds a planner with the given ceiling in bytes.
func NewPlanner(ceilingBytes int64, opts ...Option) *Planner {
	p := &Planner{ceilingBytes: ceilingBytes}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Estimate returns the projected peak footprint for processing the given
// dimensions at the given bytes per pixel.
func Estimate(dims resolution.Dimensions, bytesPerPixel int) int64 {
	if bytesPerPixel <= 0 {
		bytesPerPixel = BytesPerPixelRGBA
	}
	base := int64(dims.Width) * int64(dims.Height) * int64(bytesPerPixel)
	return int64(float64(base) * overheadFactor)
}

// Plan decides the processing strategy for one asset. It fails fast, before
// any backend call is made.
func (p *Planner) Plan(dims resolution.Dimensions, bytesPerPixel int) (Plan, error) {
	estimate := Estimate(dims, bytesPerPixel)

	if p.ceilingBytes > 0 && estimate > p.ceilingBytes {
		return Plan{}, fmt.Errorf("%w: estimated %dMB over %dMB ceiling",
			ErrBudgetExceeded, estimate>>20, p.ceilingBytes>>20)
	}

	if p.availableBytes != nil {
		margin := int64(float64(p.ceilingBytes) * safetyMarginPercent)
		if avail := p.availableBytes(); avail > 0 && avail-margin < estimate {
			return Plan{}, fmt.Errorf("%w: estimated %dMB, available %dMB with margin %dMB",
				ErrInsufficientMemory, estimate>>20, avail>>20, margin>>20)
		}
	}

	plan := planForPixels(dims.Pixels())
	plan.Estimated = estimate
	return plan, nil
}

// planForPixels is the threshold table: below the small-image threshold the
// whole buffer is worth keeping in memory at high quality; past the
// large-image threshold the encode must stream with bigger chunks and a
// reduced default quality.
func planForPixels(pixels int) Plan {
	switch {
	case pixels <= smallPixels:
		return Plan{Strategy: StrategyInMemory, ChunkSize: 8 << 10, Quality: 95}
	case pixels <= mediumPixels:
		return Plan{Strategy: StrategyInMemory, ChunkSize: 16 << 10, Quality: 90}
	case pixels <= largePixels:
		return Plan{Strategy: StrategyChunked, ChunkSize: 32 << 10, Quality: 85}
	default:
		return Plan{Strategy: StrategyChunked, ChunkSize: 64 << 10, Quality: 80}
	}
}
