package handlers

import (
	"net/http"
	"time"
)

type statsResponse struct {
	Assets           int64 `json:"assets"`
	LocalBytes       int64 `json:"local_bytes"`
	RemoteUsageBytes int64 `json:"remote_usage_bytes"`
}

// Stats handles GET /v1/stats.
func (a *App) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	assets, err := a.Index.CountAssets(ctx)
	if err != nil {
		a.fail(w, err)
		return
	}
	local, err := a.Index.TotalLocalBytes(ctx)
	if err != nil {
		a.fail(w, err)
		return
	}
	remote, err := a.Index.RemoteUsageBytes(ctx, time.Now())
	if err != nil {
		a.fail(w, err)
		return
	}

	a.json(w, http.StatusOK, statsResponse{
		Assets:           assets,
		LocalBytes:       local,
		RemoteUsageBytes: remote,
	})
}
