package backend

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
)

// syntheticImages renders deterministic placeholder assets at the exact
// requested dimensions. The same input always yields the same bytes, so
// downstream stages (variant ladder, index, mirror) stay testable end to end
// without network access.
func (c *Client) syntheticImages(in GenerationInput) []Image {
	count := in.Count
	if count <= 0 {
		count = 1
	}
	width, height := in.Width, in.Height
	if width <= 0 {
		width = 1024
	}
	if height <= 0 {
		height = 1024
	}

	images := make([]Image, count)
	for i := 0; i < count; i++ {
		seed := syntheticSeed(in.RequestID, in.Prompt, in.Instruction, in.Model, i)
		images[i] = Image{
			Data:   renderSynthetic(width, height, seed),
			MIME:   "image/png",
			Width:  width,
			Height: height,
		}
	}

	c.logger.Debug().
		Str("request_id", in.RequestID).
		Str("model", in.Model).
		Int("count", count).
		Msg("backend: generated synthetic image assets")
	return images
}

func renderSynthetic(width, height int, seed string) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	base := colorFromSeed(seed, 0)
	accent := colorFromSeed(seed, 1)
	draw.Draw(img, img.Bounds(), &image.Uniform{base}, image.Point{}, draw.Src)

	stripeHeight := height / 12
	if stripeHeight < 32 {
		stripeHeight = 32
	}
	for y := 0; y < height; y += stripeHeight * 2 {
		bottom := y + stripeHeight
		if bottom > height {
			bottom = height
		}
		draw.Draw(img, image.Rect(0, y, width, bottom), &image.Uniform{accent}, image.Point{}, draw.Over)
	}

	diagonal := colorFromSeed(seed, 2)
	step := width / 32
	if step < 16 {
		step = 16
	}
	for x := 0; x < width+height; x += step {
		for y := 0; y < height; y++ {
			xx := x + y
			if xx >= width {
				break
			}
			img.Set(xx, y, diagonal)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if seed == "" {
		seed = "000000"
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	return color.RGBA{
		R: parseHexByte(segment[0:2]),
		G: parseHexByte(segment[2:4]),
		B: parseHexByte(segment[4:6]),
		A: 255,
	}
}

func parseHexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

func syntheticSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(hasher, "%v|", part)
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}
