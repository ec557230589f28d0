package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"genimage/internal/domain"
	"genimage/internal/http/handlers"
	"genimage/internal/http/httpapi"
	"genimage/internal/index"
	"genimage/internal/membudget"
	"genimage/internal/mirror"
	"genimage/internal/pipeline"
	"genimage/internal/providers/backend"
	"genimage/internal/providers/remote"
	"genimage/internal/storage"
	"genimage/internal/sweeper"
	"genimage/internal/tier"
	"genimage/internal/variant"
)

type fakeRemote struct {
	files   map[string][]byte
	uploads int
}

var _ remote.Service = (*fakeRemote)(nil)

func (f *fakeRemote) Upload(ctx context.Context, data []byte, mime string) (domain.RemoteRef, error) {
	f.uploads++
	id := fmt.Sprintf("files/u%d", f.uploads)
	f.files[id] = data
	return domain.RemoteRef{ID: id, URI: "https://remote/" + id, ExpiresAt: time.Now().Add(48 * time.Hour)}, nil
}

func (f *fakeRemote) Get(ctx context.Context, id string) (domain.RemoteRef, error) {
	if _, ok := f.files[id]; !ok {
		return domain.RemoteRef{}, domain.ErrNotFound
	}
	return domain.RemoteRef{ID: id, URI: "https://remote/" + id, ExpiresAt: time.Now().Add(48 * time.Hour)}, nil
}

func (f *fakeRemote) Delete(ctx context.Context, id string) error {
	delete(f.files, id)
	return nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	logger := zerolog.New(io.Discard)

	files, err := storage.NewFileStore(filepath.Join(dir, "blobs"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	idx, err := index.Open(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("Open index: %v", err)
	}
	t.Cleanup(func() { idx.Close() })

	gen, err := backend.NewClient(backend.Options{})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	tiers := []tier.Tier{
		{Name: "fast", Model: "img-fast", MaxDimension: 1024, Fast: true},
		{Name: "balanced", Model: "img-balanced", MaxDimension: 2048, Default: true},
		{Name: "pro", Model: "img-pro", MaxDimension: 4096,
			Features: []string{tier.FeatureGrounding, tier.FeatureReasoning}},
	}

	rem := &fakeRemote{files: make(map[string][]byte)}
	svc := pipeline.New(
		tier.NewSelector(tier.DefaultConfig(), tiers),
		membudget.NewPlanner(1<<30),
		gen,
		variant.NewStore(files, idx),
		idx,
		mirror.New(idx, files, rem, logger),
		logger,
	)
	sw := sweeper.New(idx, files, rem, sweeper.Config{LocalBudgetBytes: 1 << 30}, logger)

	app := handlers.NewApp(svc, sw, idx, logger)
	srv := httptest.NewServer(httpapi.NewRouter(app, logger))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

type resultJSON struct {
	AssetID    string `json:"asset_id"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	ParentID   string `json:"parent_id"`
	Tier       string `json:"tier"`
	Dimensions string `json:"dimensions"`
	Variants   []struct {
		Kind  string `json:"kind"`
		Width int    `json:"width"`
	} `json:"variants"`
	Remote *struct {
		ID  string `json:"id"`
		URI string `json:"uri"`
	} `json:"remote"`
}

type generateJSON struct {
	Results []resultJSON `json:"results"`
}

func TestGenerateDownloadAndRemote(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/images/generate", map[string]any{
		"prompt":     "a quiet harbor",
		"resolution": []int{1200, 800},
	})
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("generate status = %d: %s", resp.StatusCode, body)
	}
	out := decodeJSON[generateJSON](t, resp)
	if len(out.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(out.Results))
	}
	res := out.Results[0]
	if res.Tier != "balanced" || res.Width != 1200 || res.Height != 800 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Variants) != 4 {
		t.Fatalf("variants = %d, want 4", len(res.Variants))
	}

	// Download constrained to 300px: the 512 preview is the smallest fit.
	dl, err := http.Get(srv.URL + "/v1/images/" + res.AssetID + "?max_edge=300")
	if err != nil {
		t.Fatalf("GET download: %v", err)
	}
	defer dl.Body.Close()
	if dl.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", dl.StatusCode)
	}
	if kind := dl.Header.Get("X-Variant-Kind"); kind != "preview" {
		t.Fatalf("variant kind = %q, want preview", kind)
	}
	data, _ := io.ReadAll(dl.Body)
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode download: %v", err)
	}
	if cfg.Width != 512 {
		t.Fatalf("downloaded width = %d, want 512", cfg.Width)
	}

	// Remote endpoint uploads on demand.
	rm, err := http.Get(srv.URL + "/v1/images/" + res.AssetID + "/remote")
	if err != nil {
		t.Fatalf("GET remote: %v", err)
	}
	defer rm.Body.Close()
	if rm.StatusCode != http.StatusOK {
		t.Fatalf("remote status = %d", rm.StatusCode)
	}
	ref := decodeJSON[map[string]any](t, rm)
	if ref["id"] == "" || ref["uri"] == "" {
		t.Fatalf("remote ref = %v", ref)
	}
}

func TestGenerateWithMirrorReturnsRemoteRef(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/images/generate", map[string]any{
		"prompt":     "a red kite",
		"resolution": []int{512, 512},
		"mirror":     true,
	})
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("generate status = %d: %s", resp.StatusCode, body)
	}
	res := decodeJSON[generateJSON](t, resp).Results[0]
	if res.Remote == nil || res.Remote.ID == "" || res.Remote.URI == "" {
		t.Fatalf("remote = %+v, want populated ref", res.Remote)
	}

	// Without the flag the field stays absent.
	resp = postJSON(t, srv.URL+"/v1/images/generate", map[string]any{
		"prompt":     "a blue kite",
		"resolution": []int{512, 512},
	})
	res = decodeJSON[generateJSON](t, resp).Results[0]
	if res.Remote != nil {
		t.Fatalf("remote = %+v on unmirrored generate", res.Remote)
	}
}

func TestEditEndpointSetsLineage(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/v1/images/generate", map[string]any{
		"prompt":     "a wooden chair",
		"resolution": []int{512, 512},
	})
	parent := decodeJSON[generateJSON](t, resp).Results[0]

	edit := postJSON(t, srv.URL+"/v1/images/edit", map[string]any{
		"source_asset_ids": []string{parent.AssetID},
		"instruction":      "make it a rocking chair",
		"resolution":       []int{512, 512},
	})
	if edit.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(edit.Body)
		t.Fatalf("edit status = %d: %s", edit.StatusCode, body)
	}
	child := decodeJSON[generateJSON](t, edit).Results[0]
	if child.ParentID != parent.AssetID {
		t.Fatalf("parent_id = %q, want %q", child.ParentID, parent.AssetID)
	}
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name string
		do   func() *http.Response
		want int
	}{
		{
			"empty prompt is a bad request",
			func() *http.Response {
				return postJSON(t, srv.URL+"/v1/images/generate", map[string]any{"prompt": ""})
			},
			http.StatusBadRequest,
		},
		{
			"oversized resolution is a bad request",
			func() *http.Response {
				return postJSON(t, srv.URL+"/v1/images/generate", map[string]any{
					"prompt": "x", "resolution": []int{99999, 4},
				})
			},
			http.StatusBadRequest,
		},
		{
			"unknown asset is not found",
			func() *http.Response {
				resp, err := http.Get(srv.URL + "/v1/images/no-such-id")
				if err != nil {
					t.Fatalf("GET: %v", err)
				}
				t.Cleanup(func() { resp.Body.Close() })
				return resp
			},
			http.StatusNotFound,
		},
		{
			"edit without sources is a bad request",
			func() *http.Response {
				return postJSON(t, srv.URL+"/v1/images/edit", map[string]any{"instruction": "x"})
			},
			http.StatusBadRequest,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if resp := tc.do(); resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestStatsAndSweep(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv.URL+"/v1/images/generate", map[string]any{
		"prompt": "a small stone", "resolution": []int{256, 256},
	})

	resp, err := http.Get(srv.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	defer resp.Body.Close()
	stats := decodeJSON[map[string]int64](t, resp)
	if stats["assets"] != 1 || stats["local_bytes"] <= 0 {
		t.Fatalf("stats = %v", stats)
	}

	sweep := postJSON(t, srv.URL+"/v1/maintenance/sweep", nil)
	if sweep.StatusCode != http.StatusOK {
		t.Fatalf("sweep status = %d", sweep.StatusCode)
	}
	report := decodeJSON[map[string]any](t, sweep)
	if _, ok := report["evicted"]; !ok {
		t.Fatalf("report = %v", report)
	}
}
