// Package handlers implements the HTTP API over the generation pipeline.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"genimage/internal/domain"
	"genimage/internal/index"
	"genimage/internal/infra"
	"genimage/internal/membudget"
	"genimage/internal/pipeline"
	"genimage/internal/resolution"
	"genimage/internal/sweeper"
)

// App carries the handler dependencies.
type App struct {
	Pipeline *pipeline.Service
	Sweeper  *sweeper.Sweeper
	Index    *index.Index
	Logger   infra.Logger
}

// NewApp builds the handler set.
func NewApp(p *pipeline.Service, s *sweeper.Sweeper, idx *index.Index, logger infra.Logger) *App {
	return &App{Pipeline: p, Sweeper: s, Index: idx, Logger: logger}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]any{"error": map[string]string{"code": kind, "message": message}})
}

// fail maps pipeline errors onto HTTP status codes. Invalid requests and
// exhausted budgets are the caller's problem; lost assets are gone for good;
// upstream failures are retryable.
func (a *App) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, resolution.ErrInvalidSpec):
		a.error(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, membudget.ErrBudgetExceeded):
		a.error(w, http.StatusUnprocessableEntity, "budget_exceeded", err.Error())
	case errors.Is(err, membudget.ErrInsufficientMemory):
		a.error(w, http.StatusServiceUnavailable, "insufficient_memory", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrAssetUnavailable):
		a.error(w, http.StatusGone, "asset_unavailable", err.Error())
	case errors.Is(err, domain.ErrUploadFailed):
		a.error(w, http.StatusBadGateway, "upload_failed", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("handlers: internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
