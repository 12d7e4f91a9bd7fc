// Package handler exposes the solve service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder/history"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/polyroots/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/logger"
)

const (
	maxBodyBytes        = 1 << 20
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// RootSolver is satisfied by *service.Service.
type RootSolver interface {
	Solve(ctx context.Context, req rootfinder.SolveRequest) (*rootfinder.SolveResponse, error)
}

// HistoryLister is satisfied by *history.Store.
type HistoryLister interface {
	List(ctx context.Context, limit int, outcome rootfinder.Outcome) ([]history.Record, error)
}

// CacheAdmin is satisfied by *cache.ResultCache.
type CacheAdmin interface {
	Stats() (hits, misses int64)
	Invalidate(ctx context.Context) (int64, error)
}

type Handler struct {
	solver  RootSolver
	history HistoryLister
	cache   CacheAdmin
	logger  *slog.Logger
}

// New builds a Handler. history and cache may be nil when those backends
// are unavailable.
func New(solver RootSolver, hist HistoryLister, cache CacheAdmin) *Handler {
	return &Handler{
		solver:  solver,
		history: hist,
		cache:   cache,
		logger:  logger.WithComponent("roots-handler"),
	}
}

// Register mounts the handler's routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/roots", h.Solve)
	mux.HandleFunc("GET /api/v1/roots/history", h.History)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Solve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var req rootfinder.SolveRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	resp, err := h.solver.Solve(ctx, req)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, status, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		if status >= http.StatusInternalServerError {
			log.Error("solve failed", "error", err, "status_code", status)
		}
		if resp == nil {
			h.writeError(w, status, err.Error())
			return
		}
		h.writeJSON(w, status, resp)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, http.StatusServiceUnavailable, "solve history is disabled")
		return
	}
	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxHistoryLimit {
			h.writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit))
			return
		}
		limit = n
	}
	outcome := rootfinder.Outcome(r.URL.Query().Get("outcome"))

	records, err := h.history.List(r.Context(), limit, outcome)
	if err != nil {
		logger.FromContext(r.Context()).Error("listing solve history failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "solve history unavailable")
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(records),
		"records": records,
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	deleted, err := h.cache.Invalidate(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "keys_deleted": deleted})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
