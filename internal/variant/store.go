// Package variant builds and persists the fixed ladder of derived encodings
// for each generated asset and serves smallest-sufficient-variant retrieval.
package variant

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"time"

	"golang.org/x/image/draw"

	"genimage/internal/domain"
	"genimage/internal/index"
	"genimage/internal/membudget"
	"genimage/internal/storage"
)

// rung is one step of the ladder: a target long edge and the JPEG quality it
// is encoded at. Smaller rungs take lower quality so the whole ladder costs
// roughly one extra original worth of storage.
type rung struct {
	kind    domain.VariantKind
	edge    int
	quality int
}

var ladder = []rung{
	{domain.VariantThumbnail, 256, 70},
	{domain.VariantPreview, 512, 80},
	{domain.VariantDisplay, 1024, 85},
}

// Store derives, persists, and retrieves variant ladders. Variant files are
// append-only per asset id: once written they are never mutated; a new
// quality profile means a new asset id.
type Store struct {
	files *storage.FileStore
	idx   *index.Index

	// encode is swapped in tests to exercise per-rung codec failure.
	encode func(img image.Image, quality int) ([]byte, error)
}

// NewStore builds a variant store over the local file store and the index.
func NewStore(files *storage.FileStore, idx *index.Index) *Store {
	return &Store{files: files, idx: idx, encode: encodeJPEG}
}

// BuildAndPersist derives the full ladder for the asset and writes every
// file. A codec failure on one rung substitutes the original for that rung
// and keeps going; only storage failures abort. On abort, files written so
// far are removed so no partial ladder survives.
func (s *Store) BuildAndPersist(ctx context.Context, asset domain.Asset, plan membudget.Plan) (domain.VariantSet, error) {
	src, _, err := image.Decode(bytes.NewReader(asset.Data))
	if err != nil {
		return domain.VariantSet{}, fmt.Errorf("variant: decode source: %w: %v", domain.ErrEncoding, err)
	}

	originalKey := asset.ID + "/original" + extensionFor(asset.MIME)
	var written []string
	abort := func(cause error) (domain.VariantSet, error) {
		for _, key := range written {
			s.files.Remove(context.WithoutCancel(ctx), key)
		}
		return domain.VariantSet{}, cause
	}

	// The original goes first; every degraded rung falls back to its key.
	// Large originals stream through fixed-size chunks per the memory plan.
	if plan.Strategy == membudget.StrategyChunked {
		if _, _, err := s.files.WriteFrom(ctx, originalKey, bytes.NewReader(asset.Data), plan.ChunkSize); err != nil {
			return abort(fmt.Errorf("variant: write original: %w", err))
		}
	} else {
		if _, err := s.files.Write(ctx, originalKey, asset.Data); err != nil {
			return abort(fmt.Errorf("variant: write original: %w", err))
		}
	}
	written = append(written, originalKey)

	original := domain.VariantRef{
		Kind:       domain.VariantOriginal,
		StorageKey: originalKey,
		Width:      asset.Width,
		Height:     asset.Height,
		Bytes:      int64(len(asset.Data)),
		MIME:       asset.MIME,
	}

	set := domain.VariantSet{AssetID: asset.ID}
	srcEdge := longEdge(asset.Width, asset.Height)

	for _, r := range ladder {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}

		// Never upscale: rungs at or above the source size reference the
		// original file instead of inventing pixels.
		if r.edge >= srcEdge {
			set.Variants = append(set.Variants, substitute(r.kind, original, false))
			continue
		}

		quality := r.quality
		if plan.Quality > 0 && plan.Quality < quality {
			quality = plan.Quality
		}

		ref, err := s.buildRung(ctx, asset.ID, r, src, asset.Width, asset.Height, quality)
		if err != nil {
			if ctx.Err() != nil {
				return abort(ctx.Err())
			}
			// Graceful degradation: this rung serves the original instead.
			set.Variants = append(set.Variants, substitute(r.kind, original, true))
			continue
		}
		written = append(written, ref.StorageKey)
		set.Variants = append(set.Variants, ref)
	}

	set.Variants = append(set.Variants, original)
	return set, nil
}

func (s *Store) buildRung(ctx context.Context, assetID string, r rung, src image.Image, srcW, srcH, quality int) (domain.VariantRef, error) {
	w, h := fitToEdge(srcW, srcH, r.edge)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	encoded, err := s.encode(dst, quality)
	if err != nil {
		return domain.VariantRef{}, fmt.Errorf("variant: encode %s: %w: %v", r.kind, domain.ErrEncoding, err)
	}

	key := fmt.Sprintf("%s/%s.jpg", assetID, r.kind)
	if _, err := s.files.Write(ctx, key, encoded); err != nil {
		return domain.VariantRef{}, fmt.Errorf("variant: write %s: %w", r.kind, err)
	}
	return domain.VariantRef{
		Kind:       r.kind,
		StorageKey: key,
		Width:      w,
		Height:     h,
		Bytes:      int64(len(encoded)),
		MIME:       "image/jpeg",
	}, nil
}

// Retrieve returns the smallest stored variant whose long edge covers
// maxEdge, so the caller never transfers more bytes than needed. It never
// upscales: when nothing is large enough, the original is returned. The
// access is recorded for LRU eviction.
func (s *Store) Retrieve(ctx context.Context, assetID string, maxEdge int) (domain.VariantRef, error) {
	entry, err := s.idx.Get(ctx, assetID)
	if err != nil {
		return domain.VariantRef{}, err
	}

	best, ok := smallestSufficient(entry.Variants, maxEdge)
	if !ok {
		return domain.VariantRef{}, fmt.Errorf("variant: asset %s has no variants: %w", assetID, domain.ErrNotFound)
	}

	if err := s.idx.Touch(ctx, assetID, time.Now()); err != nil {
		return domain.VariantRef{}, err
	}
	return best, nil
}

// ReadFile returns the raw bytes of a stored variant file.
func (s *Store) ReadFile(ctx context.Context, key string) ([]byte, error) {
	return s.files.Read(ctx, key)
}

// RemoveFiles deletes every file of the set. Used when a request is
// cancelled after files were written but before the index entry exists.
func (s *Store) RemoveFiles(ctx context.Context, set domain.VariantSet) {
	seen := make(map[string]bool)
	for _, v := range set.Variants {
		if seen[v.StorageKey] {
			continue
		}
		seen[v.StorageKey] = true
		s.files.Remove(ctx, v.StorageKey)
	}
}

func smallestSufficient(variants []domain.VariantRef, maxEdge int) (domain.VariantRef, bool) {
	var best domain.VariantRef
	var found bool
	var fallback domain.VariantRef
	var haveFallback bool

	for _, v := range variants {
		edge := longEdge(v.Width, v.Height)
		if !haveFallback || edge > longEdge(fallback.Width, fallback.Height) {
			fallback, haveFallback = v, true
		}
		if maxEdge > 0 && edge < maxEdge {
			continue
		}
		if !found || edge < longEdge(best.Width, best.Height) {
			best, found = v, true
		}
	}
	if found {
		return best, true
	}
	// Nothing covers the requested edge: serve the largest we have rather
	// than upscale.
	return fallback, haveFallback
}

func substitute(kind domain.VariantKind, original domain.VariantRef, degraded bool) domain.VariantRef {
	ref := original
	ref.Kind = kind
	ref.Degraded = degraded
	return ref
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fitToEdge(w, h, edge int) (int, int) {
	if w >= h {
		return edge, scaleAxis(h, w, edge)
	}
	return scaleAxis(w, h, edge), edge
}

func scaleAxis(axis, long, edge int) int {
	v := int(float64(axis)*float64(edge)/float64(long) + 0.5)
	if v < 1 {
		return 1
	}
	return v
}

func longEdge(w, h int) int {
	if w > h {
		return w
	}
	return h
}

func extensionFor(mime string) string {
	switch mime {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
