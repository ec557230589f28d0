package domain

import "time"

// Asset represents one generated image: the raw encoded bytes plus metadata.
// ParentID is set when the asset was produced by editing another asset; the
// lineage always points strictly backward in creation time, so it forms a
// forest, never a cycle.
type Asset struct {
	ID        string
	Width     int
	Height    int
	Bytes     int64
	MIME      string
	ParentID  string
	CreatedAt time.Time
	Data      []byte
}

// VariantKind names one rung of the fixed variant ladder.
type VariantKind string

const (
	VariantThumbnail VariantKind = "thumbnail"
	VariantPreview   VariantKind = "preview"
	VariantDisplay   VariantKind = "display"
	VariantOriginal  VariantKind = "original"
)

// VariantRef locates one stored encoding of an asset.
type VariantRef struct {
	Kind       VariantKind
	StorageKey string
	Width      int
	Height     int
	Bytes      int64
	MIME       string
	// Degraded is set when the rung's own encode failed and the original was
	// substituted in its place.
	Degraded bool
}

// VariantSet is the full ladder for one asset. Created wholesale right after
// generation; never partially updated.
type VariantSet struct {
	AssetID  string
	Variants []VariantRef
}

// Lookup returns the ref for a given kind, if present.
func (vs VariantSet) Lookup(kind VariantKind) (VariantRef, bool) {
	for _, v := range vs.Variants {
		if v.Kind == kind {
			return v, true
		}
	}
	return VariantRef{}, false
}

// RemoteRef is a time-limited external handle to an asset's original
// encoding. A re-upload after expiry supersedes the old ref; the old id is
// kept as PreviousRef for traceability.
type RemoteRef struct {
	ID          string
	URI         string
	ExpiresAt   time.Time
	PreviousRef string
}

// Expired reports whether the ref has passed its expiry at the given instant.
func (r RemoteRef) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}
