package handlers

import (
	"net/http"
	"time"
)

type sweepResponse struct {
	ExpiredCleared   int           `json:"expired_cleared"`
	Evicted          int           `json:"evicted"`
	BytesFreed       int64         `json:"bytes_freed"`
	SkippedInUse     int           `json:"skipped_in_use"`
	SkippedParents   int           `json:"skipped_parents"`
	RemoteUsageBytes int64         `json:"remote_usage_bytes"`
	OverQuota        bool          `json:"over_quota"`
	Duration         time.Duration `json:"duration_ns"`
}

// MaintenanceSweep handles POST /v1/maintenance/sweep, running one sweep
// synchronously and returning its report.
func (a *App) MaintenanceSweep(w http.ResponseWriter, r *http.Request) {
	report := a.Sweeper.Sweep(r.Context())
	a.json(w, http.StatusOK, sweepResponse{
		ExpiredCleared:   report.ExpiredCleared,
		Evicted:          report.Evicted,
		BytesFreed:       report.BytesFreed,
		SkippedInUse:     report.SkippedInUse,
		SkippedParents:   report.SkippedParents,
		RemoteUsageBytes: report.RemoteUsageBytes,
		OverQuota:        report.OverQuota,
		Duration:         report.Duration,
	})
}
