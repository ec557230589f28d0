package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genimage/internal/domain"
	"genimage/internal/infra"
)

// Options controls how the backend client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client is a thin facade over the generation API. With no API key it serves
// deterministic synthetic images instead of calling out.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

var _ Generator = (*Client)(nil)

// NewClient constructs a backend client with sane defaults. Callers may
// provide a nil HTTP client; a reusable one with a timeout will be created.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: client,
		logger:     logger,
	}, nil
}

type apiContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []apiPart `json:"parts,omitempty"`
}

type apiPart struct {
	Text       string         `json:"text,omitempty"`
	InlineData *apiInlineData `json:"inlineData,omitempty"`
	FileData   *apiFileData   `json:"fileData,omitempty"`
}

type apiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type apiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

type apiTool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

type apiThinkingConfig struct {
	ThinkingLevel string `json:"thinking_level,omitempty"`
}

type apiGenerationConfig struct {
	CandidateCount int                `json:"candidateCount,omitempty"`
	ImageConfig    *apiImageConfig    `json:"imageConfig,omitempty"`
	ThinkingConfig *apiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type apiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type apiRequest struct {
	Contents         []apiContent         `json:"contents"`
	Tools            []apiTool            `json:"tools,omitempty"`
	GenerationConfig *apiGenerationConfig `json:"generationConfig,omitempty"`
}

type apiCandidate struct {
	Content      apiContent `json:"content"`
	FinishReason string     `json:"finishReason,omitempty"`
}

type apiResponse struct {
	Candidates []apiCandidate `json:"candidates"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// Generate produces Count fresh images for the prompt.
func (c *Client) Generate(ctx context.Context, in GenerationInput) ([]Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.apiKey == "" {
		return c.syntheticImages(in), nil
	}

	images, err := c.invoke(ctx, in, c.buildParts(in, false))
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("model", in.Model).
			Msg("backend: remote generation failed; falling back to synthetic assets")
		return c.syntheticImages(in), nil
	}
	if len(images) == 0 {
		return c.syntheticImages(in), nil
	}
	return images, nil
}

// Edit transforms the source assets per the instruction.
func (c *Client) Edit(ctx context.Context, in GenerationInput) ([]Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(in.Sources) == 0 && len(in.SourceURIs) == 0 {
		return nil, fmt.Errorf("backend: edit without sources")
	}
	if c.apiKey == "" {
		return c.syntheticImages(in), nil
	}

	images, err := c.invoke(ctx, in, c.buildParts(in, true))
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("model", in.Model).
			Msg("backend: remote edit failed; falling back to synthetic assets")
		return c.syntheticImages(in), nil
	}
	if len(images) == 0 {
		return c.syntheticImages(in), nil
	}
	return images, nil
}

func (c *Client) buildParts(in GenerationInput, edit bool) []apiPart {
	var parts []apiPart
	for _, uri := range in.SourceURIs {
		parts = append(parts, apiPart{FileData: &apiFileData{MimeType: "image/png", FileURI: uri}})
	}
	for _, src := range in.Sources {
		parts = append(parts, apiPart{InlineData: &apiInlineData{
			MimeType: sniffMIME(src),
			Data:     base64.StdEncoding.EncodeToString(src),
		}})
	}
	parts = append(parts, apiPart{Text: buildPrompt(in, edit)})
	return parts
}

func (c *Client) invoke(ctx context.Context, in GenerationInput, parts []apiPart) ([]Image, error) {
	count := in.Count
	if count <= 0 {
		count = 1
	}
	if count > domain.MaxCount {
		count = domain.MaxCount
	}

	payload := apiRequest{
		Contents: []apiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &apiGenerationConfig{
			CandidateCount: count,
			ImageConfig:    imageConfigFor(in.Width, in.Height),
		},
	}
	if in.Grounding {
		payload.Tools = append(payload.Tools, apiTool{GoogleSearch: &struct{}{}})
	}
	if in.ThinkingLevel != "" {
		payload.GenerationConfig.ThinkingConfig = &apiThinkingConfig{ThinkingLevel: in.ThinkingLevel}
	}

	var response apiResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(in.Model))
	if err := c.post(ctx, path, payload, &response); err != nil {
		return nil, err
	}

	var images []Image
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil || len(data) == 0 {
				continue
			}
			w, h := decodeDimensions(data)
			if w == 0 || h == 0 {
				w, h = in.Width, in.Height
			}
			mime := part.InlineData.MimeType
			if mime == "" {
				mime = "image/png"
			}
			images = append(images, Image{Data: data, MIME: mime, Width: w, Height: h})
			if len(images) >= count {
				return images, nil
			}
		}
	}
	return images, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("backend status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		data, _ := io.ReadAll(resp.Body)
		if len(data) > 0 {
			return fmt.Errorf("backend status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return fmt.Errorf("backend status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode backend response: %w", err)
	}
	return nil
}

func buildPrompt(in GenerationInput, edit bool) string {
	var b strings.Builder
	if edit {
		instruction := strings.TrimSpace(in.Instruction)
		if instruction == "" {
			instruction = strings.TrimSpace(in.Prompt)
		}
		b.WriteString(instruction)
	} else {
		b.WriteString(strings.TrimSpace(in.Prompt))
	}
	if negative := strings.TrimSpace(in.NegativePrompt); negative != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Avoid: ")
		b.WriteString(negative)
	}
	if b.Len() == 0 {
		b.WriteString("Create an image")
	}
	return b.String()
}

// imageConfigFor maps target dimensions onto the API's coarse aspect and
// size knobs; exact sizing happens locally after decode.
func imageConfigFor(w, h int) *apiImageConfig {
	if w <= 0 || h <= 0 {
		return nil
	}
	cfg := &apiImageConfig{AspectRatio: nearestAspect(w, h)}
	switch edge := max(w, h); {
	case edge >= 3840:
		cfg.ImageSize = "4K"
	case edge >= 2048:
		cfg.ImageSize = "2K"
	default:
		cfg.ImageSize = "1K"
	}
	return cfg
}

func nearestAspect(w, h int) string {
	ratio := float64(w) / float64(h)
	known := []struct {
		name  string
		value float64
	}{
		{"1:1", 1}, {"4:3", 4.0 / 3}, {"3:4", 3.0 / 4},
		{"16:9", 16.0 / 9}, {"9:16", 9.0 / 16}, {"3:2", 1.5}, {"2:3", 2.0 / 3},
	}
	best := known[0]
	bestDiff := ratio - best.value
	if bestDiff < 0 {
		bestDiff = -bestDiff
	}
	for _, k := range known[1:] {
		diff := ratio - k.value
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			best, bestDiff = k, diff
		}
	}
	return best.name
}

func decodeDimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

func sniffMIME(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("\x89PNG")):
		return "image/png"
	case bytes.HasPrefix(data, []byte("\xff\xd8")):
		return "image/jpeg"
	case len(data) >= 12 && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
