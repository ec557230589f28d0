package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genimage/internal/domain"
	"genimage/internal/infra"
)

// HTTPOptions controls how the files-API client is configured.
type HTTPOptions struct {
	APIKey     string
	BaseURL    string
	TTL        time.Duration
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// HTTPClient talks to a files-API style service: POST the raw bytes, get an
// opaque id plus a download URI that stops working after the expiry.
type HTTPClient struct {
	apiKey     string
	baseURL    string
	ttl        time.Duration
	httpClient *http.Client
	logger     *infra.Logger
	now        func() time.Time
}

var _ Service = (*HTTPClient)(nil)

// NewHTTPClient constructs a files-API client with sane defaults. Callers may
// provide a nil HTTP client; a reusable one with a timeout will be created.
func NewHTTPClient(opts HTTPOptions) (*HTTPClient, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("remote: base URL is required")
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &HTTPClient{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		ttl:        ttl,
		httpClient: client,
		logger:     logger,
		now:        time.Now,
	}, nil
}

type fileResource struct {
	ID        string `json:"id"`
	URI       string `json:"uri"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// Upload posts the raw bytes and returns the resulting reference.
func (c *HTTPClient) Upload(ctx context.Context, data []byte, mime string) (domain.RemoteRef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/files", bytes.NewReader(data))
	if err != nil {
		return domain.RemoteRef{}, fmt.Errorf("remote: create upload request: %w", err)
	}
	if mime == "" {
		mime = "application/octet-stream"
	}
	req.Header.Set("Content-Type", mime)
	c.authorize(req)

	var resource fileResource
	if err := c.do(req, &resource); err != nil {
		return domain.RemoteRef{}, fmt.Errorf("remote: upload: %w", err)
	}

	ref := c.toRef(resource)
	c.logger.Debug().
		Str("remote_id", ref.ID).
		Time("expires_at", ref.ExpiresAt).
		Int("bytes", len(data)).
		Msg("remote: uploaded file")
	return ref, nil
}

// Get fetches the current metadata for an uploaded file. A 404 means the
// remote side no longer has it.
func (c *HTTPClient) Get(ctx context.Context, id string) (domain.RemoteRef, error) {
	endpoint := c.baseURL + "/v1/files/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.RemoteRef{}, fmt.Errorf("remote: create get request: %w", err)
	}
	c.authorize(req)

	var resource fileResource
	if err := c.do(req, &resource); err != nil {
		return domain.RemoteRef{}, fmt.Errorf("remote: get %s: %w", id, err)
	}
	return c.toRef(resource), nil
}

// Delete removes an uploaded file. Deleting an unknown id is not an error.
func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	endpoint := c.baseURL + "/v1/files/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("remote: create delete request: %w", err)
	}
	c.authorize(req)

	err = c.do(req, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("remote: delete %s: %w", id, err)
	}
	return nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, apiErr.Error.Message)
		}
		data, _ := io.ReadAll(resp.Body)
		if len(data) > 0 {
			return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *HTTPClient) toRef(resource fileResource) domain.RemoteRef {
	expires := c.now().Add(c.ttl)
	if resource.ExpiresAt != "" {
		if t, err := time.Parse(time.RFC3339, resource.ExpiresAt); err == nil {
			expires = t
		}
	}
	return domain.RemoteRef{ID: resource.ID, URI: resource.URI, ExpiresAt: expires}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
