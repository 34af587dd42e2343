package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kalambet/starcoach/internal/pipeline"
)

type triggerResponse struct {
	Status    string `json:"status"`
	AttemptID int64  `json:"attempt_id"`
	JobID     string `json:"job_id"`
}

func handleTriggerAnalysis(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "attempt_id")
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "attempt_id must be a positive integer")
			return
		}

		jobID, err := deps.Analysis.Trigger(r.Context(), id)
		switch {
		case errors.Is(err, pipeline.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "attempt %d not found", id)
			return
		case errors.Is(err, pipeline.ErrAlreadyAnalyzed):
			httpError(w, http.StatusConflict, "invalid_request_error", "attempt %d has already been analyzed", id)
			return
		case err != nil:
			slog.Error("triggering analysis", "attempt_id", id, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue analysis")
			return
		}

		writeJSON(w, http.StatusAccepted, triggerResponse{Status: "processing", AttemptID: id, JobID: jobID})
	}
}

func handleAnalysisStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "attempt_id")
		if !ok {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "attempt_id must be a positive integer")
			return
		}

		report, err := deps.Analysis.GetStatus(r.Context(), id)
		if errors.Is(err, pipeline.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "attempt %d not found", id)
			return
		}
		if err != nil {
			slog.Error("reading analysis status", "attempt_id", id, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read status")
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
