package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"genimage/internal/domain"
	"genimage/internal/resolution"
)

type generateRequest struct {
	Prompt         string           `json:"prompt"`
	NegativePrompt string           `json:"negative_prompt,omitempty"`
	Count          int              `json:"count,omitempty"`
	Tier           *string          `json:"tier,omitempty"`
	Resolution     *resolution.Spec `json:"resolution,omitempty"`
	ThinkingLevel  *string          `json:"thinking_level,omitempty"`
	Grounding      *bool            `json:"grounding,omitempty"`
	Mirror         *bool            `json:"mirror,omitempty"`
}

type editRequest struct {
	generateRequest
	SourceAssetIDs []string `json:"source_asset_ids"`
	Instruction    string   `json:"instruction"`
}

type variantResponse struct {
	Kind     string `json:"kind"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Bytes    int64  `json:"bytes"`
	MIME     string `json:"mime"`
	Degraded bool   `json:"degraded,omitempty"`
}

type resultResponse struct {
	AssetID      string            `json:"asset_id"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	Bytes        int64             `json:"bytes"`
	MIME         string            `json:"mime"`
	ParentID     string            `json:"parent_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	Tier         string            `json:"tier"`
	Dimensions   string            `json:"dimensions"`
	QualityScore int               `json:"quality_score"`
	SpeedScore   int               `json:"speed_score"`
	Variants     []variantResponse `json:"variants"`
	Remote       *remoteResponse   `json:"remote,omitempty"`
	Notes        []string          `json:"notes,omitempty"`
}

type generateResponse struct {
	Results []resultResponse `json:"results"`
}

// ImagesGenerate handles POST /v1/images/generate.
func (a *App) ImagesGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	results, err := a.Pipeline.Generate(r.Context(), req.toDomain())
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusCreated, generateResponse{Results: toResultResponses(results)})
}

// ImagesEdit handles POST /v1/images/edit.
func (a *App) ImagesEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	dreq := req.toDomain()
	dreq.SourceAssetIDs = req.SourceAssetIDs
	dreq.Instruction = req.Instruction

	results, err := a.Pipeline.Edit(r.Context(), dreq)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusCreated, generateResponse{Results: toResultResponses(results)})
}

// ImageDownload handles GET /v1/images/{id}. The optional max_edge query
// picks the smallest stored variant that still covers the requested size.
func (a *App) ImageDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return
	}

	maxEdge := 0
	if v := r.URL.Query().Get("max_edge"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			a.error(w, http.StatusBadRequest, "bad_request", "max_edge must be a non-negative integer")
			return
		}
		maxEdge = n
	}

	ref, data, err := a.Pipeline.Retrieve(r.Context(), id, maxEdge)
	if err != nil {
		a.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", ref.MIME)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Variant-Kind", string(ref.Kind))
	if ref.Degraded {
		w.Header().Set("X-Variant-Degraded", "true")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type remoteResponse struct {
	ID          string    `json:"id"`
	URI         string    `json:"uri"`
	ExpiresAt   time.Time `json:"expires_at"`
	PreviousRef string    `json:"previous_ref,omitempty"`
}

// ImageRemote handles GET /v1/images/{id}/remote, uploading on demand.
func (a *App) ImageRemote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "id required")
		return
	}

	ref, err := a.Pipeline.EnsureRemote(r.Context(), id)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, remoteResponse{
		ID: ref.ID, URI: ref.URI, ExpiresAt: ref.ExpiresAt, PreviousRef: ref.PreviousRef,
	})
}

func (req generateRequest) toDomain() domain.GenerateRequest {
	return domain.GenerateRequest{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Count:          req.Count,
		Tier:           req.Tier,
		Resolution:     req.Resolution,
		ThinkingLevel:  req.ThinkingLevel,
		Grounding:      req.Grounding,
		Mirror:         req.Mirror,
	}
}

func toResultResponses(results []domain.Result) []resultResponse {
	out := make([]resultResponse, 0, len(results))
	for _, res := range results {
		variants := make([]variantResponse, 0, len(res.Variants.Variants))
		for _, v := range res.Variants.Variants {
			variants = append(variants, variantResponse{
				Kind: string(v.Kind), Width: v.Width, Height: v.Height,
				Bytes: v.Bytes, MIME: v.MIME, Degraded: v.Degraded,
			})
		}
		var remote *remoteResponse
		if res.RemoteRef != nil {
			remote = &remoteResponse{
				ID:          res.RemoteRef.ID,
				URI:         res.RemoteRef.URI,
				ExpiresAt:   res.RemoteRef.ExpiresAt,
				PreviousRef: res.RemoteRef.PreviousRef,
			}
		}
		out = append(out, resultResponse{
			AssetID:      res.Asset.ID,
			Width:        res.Asset.Width,
			Height:       res.Asset.Height,
			Bytes:        res.Asset.Bytes,
			MIME:         res.Asset.MIME,
			ParentID:     res.Asset.ParentID,
			CreatedAt:    res.Asset.CreatedAt,
			Tier:         res.Tier,
			Dimensions:   res.Dimensions.String(),
			QualityScore: res.QualityScore,
			SpeedScore:   res.SpeedScore,
			Variants:     variants,
			Remote:       remote,
			Notes:        res.Notes,
		})
	}
	return out
}
