package domain

import "genimage/internal/resolution"

// MaxCount bounds how many images one request may ask for.
const MaxCount = 4

// GenerateRequest is one caller invocation. Optional fields are pointers and
// stay nil unless the caller explicitly set them: tier scoring must only see
// intentional signals, never defaults filled in by a calling layer.
type GenerateRequest struct {
	Prompt         string
	NegativePrompt string
	// Count of images to produce, bounded to [1, MaxCount]. Zero means the
	// caller left it unset.
	Count int
	// Tier pins the backend tier outright when set.
	Tier *string
	// Resolution is the caller's resolution spec; nil means tier default.
	Resolution *resolution.Spec
	// ThinkingLevel requests deeper reasoning ("high") from the backend.
	ThinkingLevel *string
	// Grounding asks for external factual lookup during generation.
	Grounding *bool
	// Mirror uploads each produced asset to the remote service so the
	// result carries a live RemoteRef. Upload failures degrade to a note.
	Mirror *bool
	// SourceAssetIDs condition generation on prior assets; for edits the
	// first entry is the asset being edited.
	SourceAssetIDs []string
	// Instruction is the edit instruction for edit requests.
	Instruction string
}

// Quantity returns the bounded effective count.
func (r GenerateRequest) Quantity() int {
	if r.Count <= 0 {
		return 1
	}
	if r.Count > MaxCount {
		return MaxCount
	}
	return r.Count
}

// Result is what a generation or edit request returns to the caller: the new
// asset, its variant ladder, the optional remote mirror ref, and the
// diagnostics that explain how the request was routed.
type Result struct {
	Asset     Asset
	Variants  VariantSet
	RemoteRef *RemoteRef
	// Tier and Dimensions echo the routing decision for diagnostics.
	Tier       string
	Dimensions resolution.Dimensions
	// QualityScore and SpeedScore are the numbers behind the tier decision.
	QualityScore int
	SpeedScore   int
	// Notes carries degradation diagnostics (skipped variants, failed
	// mirror upload) on otherwise successful responses.
	Notes []string
}
