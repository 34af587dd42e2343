// Package api serves the starcoach HTTP interface and its MCP tools.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/starcoach/internal/media"
	"github.com/kalambet/starcoach/internal/metrics"
	"github.com/kalambet/starcoach/internal/pipeline"
	"github.com/kalambet/starcoach/internal/storage"
)

// Analyzer schedules analyses and reports their progress.
// *pipeline.Orchestrator satisfies it.
type Analyzer interface {
	Trigger(ctx context.Context, attemptID int64) (string, error)
	GetStatus(ctx context.Context, attemptID int64) (pipeline.StatusReport, error)
}

type Deps struct {
	Store          *storage.Store
	Analysis       Analyzer
	Media          *media.Library
	MaxUploadBytes int64
}

// NewRouter mounts the JSON API under /api, the recording files under
// /recordings and the Prometheus endpoint at /metrics.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handleHealth(deps))
		r.Get("/questions", handleListQuestions(deps))
		r.Post("/recordings", handleUploadRecording(deps))
		r.Get("/recordings", handleListRecordings(deps))
		r.Get("/attempts/{question_id}", handleListAttempts(deps))
		r.Post("/analyze/{attempt_id}", handleTriggerAnalysis(deps))
		r.Get("/analyze/{attempt_id}/status", handleAnalysisStatus(deps))
		r.Get("/dashboard", handleDashboard(deps))
		r.Get("/progress/{question_id}", handleProgress(deps))
	})
	r.Get("/recordings/{file}", handleServeRecording(deps))
	r.Handle("/metrics", metrics.Handler())

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
