package membudget

import (
	"errors"
	"testing"

	"genimage/internal/resolution"
)

func TestEstimate(t *testing.T) {
	// 1024x1024 RGBA with the 1.5x processing overhead.
	got := Estimate(resolution.Dimensions{Width: 1024, Height: 1024}, BytesPerPixelRGBA)
	want := int64(1024 * 1024 * 4 * 3 / 2)
	if got != want {
		t.Fatalf("Estimate = %d, want %d", got, want)
	}

	// Zero bytes-per-pixel falls back to RGBA.
	if got := Estimate(resolution.Dimensions{Width: 100, Height: 100}, 0); got != int64(100*100*4*3/2) {
		t.Fatalf("Estimate with fallback bpp = %d", got)
	}
}

func TestPlanThresholds(t *testing.T) {
	p := NewPlanner(2048 << 20)

	cases := []struct {
		name     string
		dims     resolution.Dimensions
		strategy Strategy
		chunk    int
		quality  int
	}{
		{"small stays in memory", resolution.Dimensions{Width: 1024, Height: 1024}, StrategyInMemory, 8 << 10, 95},
		{"medium stays in memory", resolution.Dimensions{Width: 2048, Height: 2048}, StrategyInMemory, 16 << 10, 90},
		{"large streams", resolution.Dimensions{Width: 3840, Height: 2160}, StrategyChunked, 32 << 10, 85},
		{"very large streams bigger chunks", resolution.Dimensions{Width: 3840, Height: 3840}, StrategyChunked, 64 << 10, 80},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan, err := p.Plan(tc.dims, BytesPerPixelRGBA)
			if err != nil {
				t.Fatalf("Plan: %v", err)
			}
			if plan.Strategy != tc.strategy {
				t.Fatalf("strategy = %s, want %s", plan.Strategy, tc.strategy)
			}
			if plan.ChunkSize != tc.chunk {
				t.Fatalf("chunk = %d, want %d", plan.ChunkSize, tc.chunk)
			}
			if plan.Quality != tc.quality {
				t.Fatalf("quality = %d, want %d", plan.Quality, tc.quality)
			}
		})
	}
}

func TestPlanBudgetExceeded(t *testing.T) {
	// 4096x4096 RGBA estimates to 96MiB with overhead; a ceiling below that
	// must reject before any backend call.
	p := NewPlanner(64 << 20)
	_, err := p.Plan(resolution.Dimensions{Width: 4096, Height: 4096}, BytesPerPixelRGBA)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("err = %v, want ErrBudgetExceeded", err)
	}
}

func TestPlanInsufficientMemory(t *testing.T) {
	// Live probe reports less free memory than the estimate plus the 20%
	// margin: the plan is rejected outright, retryable by the caller.
	p := NewPlanner(512<<20, WithAvailableMemory(func() int64 { return 80 << 20 }))
	_, err := p.Plan(resolution.Dimensions{Width: 4096, Height: 4096}, BytesPerPixelRGBA)
	if !errors.Is(err, ErrInsufficientMemory) {
		t.Fatalf("err = %v, want ErrInsufficientMemory", err)
	}

	// Plenty of headroom passes.
	p = NewPlanner(512<<20, WithAvailableMemory(func() int64 { return 4 << 30 }))
	if _, err := p.Plan(resolution.Dimensions{Width: 4096, Height: 4096}, BytesPerPixelRGBA); err != nil {
		t.Fatalf("Plan with headroom: %v", err)
	}
}
