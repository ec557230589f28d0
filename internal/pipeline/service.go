// Package pipeline orchestrates one request end to end: tier selection,
// resolution resolving, memory planning, backend invocation, variant
// persistence, and indexing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"genimage/internal/domain"
	"genimage/internal/index"
	"genimage/internal/infra"
	"genimage/internal/membudget"
	"genimage/internal/mirror"
	"genimage/internal/providers/backend"
	"genimage/internal/resolution"
	"genimage/internal/tier"
	"genimage/internal/variant"
)

// Service wires the stages together. All methods are safe for concurrent
// use; contention is limited to per-asset locks, never a global one.
type Service struct {
	selector  *tier.Selector
	planner   *membudget.Planner
	generator backend.Generator
	variants  *variant.Store
	idx       *index.Index
	mirror    *mirror.Mirror
	logger    infra.Logger
	now       func() time.Time
}

// New builds the pipeline service.
func New(selector *tier.Selector, planner *membudget.Planner, generator backend.Generator,
	variants *variant.Store, idx *index.Index, m *mirror.Mirror, logger infra.Logger) *Service {
	return &Service{
		selector:  selector,
		planner:   planner,
		generator: generator,
		variants:  variants,
		idx:       idx,
		mirror:    m,
		logger:    logger,
		now:       time.Now,
	}
}

// Generate produces fresh images for the request. Validation, routing, and
// the memory plan all happen before the backend is called, so invalid or
// oversized requests fail fast and cheap.
func (s *Service) Generate(ctx context.Context, req domain.GenerateRequest) ([]domain.Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("pipeline: empty prompt: %w", resolution.ErrInvalidSpec)
	}

	sel, dims, plan, err := s.route(req)
	if err != nil {
		return nil, err
	}

	images, err := s.generator.Generate(ctx, s.buildInput(req, sel, dims, nil, nil))
	if err != nil {
		return nil, fmt.Errorf("pipeline: generate: %w", err)
	}
	return s.persistAll(ctx, images, sel, dims, plan, "", mirrorRequested(req))
}

// Edit produces new images derived from existing assets. Source assets are
// mirrored to the remote service first so the backend can reference them by
// URI; if mirroring fails but the local copy exists, the bytes go inline.
func (s *Service) Edit(ctx context.Context, req domain.GenerateRequest) ([]domain.Result, error) {
	if len(req.SourceAssetIDs) == 0 {
		return nil, fmt.Errorf("pipeline: edit without source assets: %w", resolution.ErrInvalidSpec)
	}
	if strings.TrimSpace(req.Instruction) == "" && strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("pipeline: edit without instruction: %w", resolution.ErrInvalidSpec)
	}

	sel, dims, plan, err := s.route(req)
	if err != nil {
		return nil, err
	}

	var uris []string
	var inline [][]byte
	var notes []string
	for _, sourceID := range req.SourceAssetIDs {
		ref, err := s.mirror.EnsureAvailable(ctx, sourceID)
		if err == nil {
			uris = append(uris, ref.URI)
			continue
		}
		if errors.Is(err, domain.ErrUploadFailed) {
			// The remote side is down but the original is still local.
			data, readErr := s.readOriginal(ctx, sourceID)
			if readErr == nil {
				inline = append(inline, data)
				notes = append(notes, fmt.Sprintf("source %s sent inline: mirror unavailable", sourceID))
				continue
			}
		}
		return nil, err
	}

	images, err := s.generator.Edit(ctx, s.buildInput(req, sel, dims, inline, uris))
	if err != nil {
		return nil, fmt.Errorf("pipeline: edit: %w", err)
	}

	results, err := s.persistAll(ctx, images, sel, dims, plan, req.SourceAssetIDs[0], mirrorRequested(req))
	for i := range results {
		results[i].Notes = append(results[i].Notes, notes...)
	}
	return results, err
}

// Retrieve returns the smallest variant covering maxEdge plus its bytes.
func (s *Service) Retrieve(ctx context.Context, assetID string, maxEdge int) (domain.VariantRef, []byte, error) {
	ref, err := s.variants.Retrieve(ctx, assetID, maxEdge)
	if err != nil {
		return domain.VariantRef{}, nil, err
	}
	data, err := s.readKey(ctx, ref.StorageKey)
	if err != nil {
		return domain.VariantRef{}, nil, err
	}
	return ref, data, nil
}

// EnsureRemote returns a live remote reference for the asset, uploading as
// needed.
func (s *Service) EnsureRemote(ctx context.Context, assetID string) (domain.RemoteRef, error) {
	return s.mirror.EnsureAvailable(ctx, assetID)
}

// route runs the pre-flight stages shared by generation and editing.
func (s *Service) route(req domain.GenerateRequest) (tier.Selection, resolution.Dimensions, membudget.Plan, error) {
	sel := s.selector.Select(req)

	spec := resolution.Spec{}
	if req.Resolution != nil {
		spec = *req.Resolution
	}
	dims, err := resolution.Resolve(spec, sel.Tier.Limits())
	if err != nil {
		return tier.Selection{}, resolution.Dimensions{}, membudget.Plan{}, err
	}

	plan, err := s.planner.Plan(dims, membudget.BytesPerPixelRGBA)
	if err != nil {
		return tier.Selection{}, resolution.Dimensions{}, membudget.Plan{}, err
	}

	s.logger.Debug().
		Str("tier", sel.Tier.Name).
		Bool("explicit", sel.Explicit).
		Int("quality_score", sel.QualityScore).
		Int("speed_score", sel.SpeedScore).
		Str("dimensions", dims.String()).
		Str("strategy", string(plan.Strategy)).
		Msg("pipeline: request routed")
	return sel, dims, plan, nil
}

func (s *Service) buildInput(req domain.GenerateRequest, sel tier.Selection, dims resolution.Dimensions, sources [][]byte, uris []string) backend.GenerationInput {
	in := backend.GenerationInput{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Model:          sel.Tier.Model,
		Width:          dims.Width,
		Height:         dims.Height,
		Count:          req.Quantity(),
		Sources:        sources,
		SourceURIs:     uris,
		Instruction:    req.Instruction,
	}
	if req.Grounding != nil && *req.Grounding && sel.Tier.Supports(tier.FeatureGrounding) {
		in.Grounding = true
	}
	if req.ThinkingLevel != nil && sel.Tier.Supports(tier.FeatureReasoning) {
		in.ThinkingLevel = *req.ThinkingLevel
	}
	return in
}

// persistAll turns backend images into indexed assets. Each image becomes an
// index entry only after its whole variant ladder is on disk; a failure
// mid-batch keeps the results that already completed. With mirrorOn each new
// asset is also uploaded; an upload failure degrades to a note, never
// failing the result.
func (s *Service) persistAll(ctx context.Context, images []backend.Image, sel tier.Selection,
	dims resolution.Dimensions, plan membudget.Plan, parentID string, mirrorOn bool) ([]domain.Result, error) {
	var results []domain.Result
	for _, img := range images {
		res, err := s.persistOne(ctx, img, sel, dims, plan, parentID)
		if err != nil {
			return results, err
		}
		if mirrorOn {
			ref, mErr := s.mirror.EnsureAvailable(ctx, res.Asset.ID)
			if mErr != nil {
				s.logger.Warn().Err(mErr).Str("asset_id", res.Asset.ID).Msg("pipeline: mirror upload failed")
				res.Notes = append(res.Notes, "asset not mirrored: remote unavailable")
			} else {
				res.RemoteRef = &ref
			}
		}
		results = append(results, res)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("pipeline: backend returned no images: %w", domain.ErrEncoding)
	}
	return results, nil
}

func (s *Service) persistOne(ctx context.Context, img backend.Image, sel tier.Selection,
	dims resolution.Dimensions, plan membudget.Plan, parentID string) (domain.Result, error) {
	asset := domain.Asset{
		ID:        s.idx.NewID(),
		Width:     img.Width,
		Height:    img.Height,
		Bytes:     int64(len(img.Data)),
		MIME:      img.MIME,
		ParentID:  parentID,
		CreatedAt: s.now(),
		Data:      img.Data,
	}

	set, err := s.variants.BuildAndPersist(ctx, asset, plan)
	if err != nil {
		return domain.Result{}, err
	}

	entry := index.Entry{Asset: asset, Variants: set.Variants, LastAccessedAt: asset.CreatedAt}
	if err := s.idx.CreateEntry(ctx, entry); err != nil {
		// Files without an index entry are unreachable; take them back out.
		s.variants.RemoveFiles(context.WithoutCancel(ctx), set)
		return domain.Result{}, err
	}

	var notes []string
	for _, v := range set.Variants {
		if v.Degraded {
			notes = append(notes, fmt.Sprintf("%s variant degraded: serving original", v.Kind))
		}
	}

	s.logger.Info().
		Str("asset_id", asset.ID).
		Str("tier", sel.Tier.Name).
		Str("dimensions", dims.String()).
		Int64("bytes", asset.Bytes).
		Str("parent_id", parentID).
		Msg("pipeline: asset persisted")

	return domain.Result{
		Asset:        asset,
		Variants:     set,
		Tier:         sel.Tier.Name,
		Dimensions:   dims,
		QualityScore: sel.QualityScore,
		SpeedScore:   sel.SpeedScore,
		Notes:        notes,
	}, nil
}

func mirrorRequested(req domain.GenerateRequest) bool {
	return req.Mirror != nil && *req.Mirror
}

func (s *Service) readOriginal(ctx context.Context, assetID string) ([]byte, error) {
	entry, err := s.idx.Get(ctx, assetID)
	if err != nil {
		return nil, err
	}
	original, ok := entry.Lookup(domain.VariantOriginal)
	if !ok {
		return nil, fmt.Errorf("pipeline: asset %s has no original: %w", assetID, domain.ErrAssetUnavailable)
	}
	return s.readKey(ctx, original.StorageKey)
}

func (s *Service) readKey(ctx context.Context, key string) ([]byte, error) {
	data, err := s.variants.ReadFile(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("pipeline: read %s: %w", key, err)
	}
	return data, nil
}
