package domain

import "errors"

// Pipeline-level error taxonomy. Leaf packages (resolution, membudget) own
// their validation errors; these are the ones shared across stages.
var (
	// ErrEncoding is a per-variant codec failure. The variant ladder degrades
	// by substituting the original for the failed rung.
	ErrEncoding = errors.New("encoding failed")
	// ErrUploadFailed is soft: the asset stays valid locally, just without a
	// remote mirror.
	ErrUploadFailed = errors.New("remote upload failed")
	// ErrAssetUnavailable means both the remote copy and the local original
	// are gone.
	ErrAssetUnavailable = errors.New("asset unavailable")

	ErrNotFound = errors.New("not found")
)
