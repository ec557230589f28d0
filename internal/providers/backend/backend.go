// Package backend talks to the image generation API. The client falls back
// to deterministic synthetic assets when no API key is configured, which
// keeps the rest of the pipeline exercised in local and CI environments.
package backend

import "context"

// GenerationInput carries everything one backend call needs. Model comes
// from tier selection; Width and Height are the resolved target dimensions.
type GenerationInput struct {
	Prompt         string
	NegativePrompt string
	Model          string
	Width          int
	Height         int
	Count          int
	Grounding      bool
	ThinkingLevel  string
	// Sources holds the encoded bytes of the assets being edited; empty for
	// fresh generation.
	Sources [][]byte
	// SourceURIs are remote handles to source assets, preferred over inline
	// bytes when the backend supports them.
	SourceURIs  []string
	Instruction string
	RequestID   string
}

// Image is one produced image, already decoded to its dimensions.
type Image struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// Generator is the contract the pipeline depends on.
type Generator interface {
	Generate(ctx context.Context, in GenerationInput) ([]Image, error)
	Edit(ctx context.Context, in GenerationInput) ([]Image, error)
}
