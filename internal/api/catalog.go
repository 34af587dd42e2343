package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kalambet/starcoach/internal/progress"
	"github.com/kalambet/starcoach/internal/storage"
)

// attemptDetail is an attempt with whichever artifacts it has so far.
type attemptDetail struct {
	storage.Attempt
	Transcription *storage.Transcript `json:"transcription"`
	Analytics     *storage.Analytics  `json:"analytics"`
	Feedback      *storage.Feedback   `json:"feedback"`
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.Ping(); err != nil {
			slog.Error("health check", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleListQuestions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qs, err := deps.Store.ListQuestions()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list questions: %v", err)
			return
		}
		if qs == nil {
			qs = []storage.Question{}
		}
		writeJSON(w, http.StatusOK, qs)
	}
}

func handleListAttempts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, ok := lookupQuestion(w, r, deps)
		if !ok {
			return
		}

		attempts, err := deps.Store.ListAttemptsForQuestion(q.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list attempts: %v", err)
			return
		}

		out := make([]attemptDetail, 0, len(attempts))
		for _, a := range attempts {
			art, err := deps.Store.GetArtifacts(a.ID)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to load attempt %d: %v", a.ID, err)
				return
			}
			out = append(out, attemptDetail{
				Attempt:       a,
				Transcription: art.Transcript,
				Analytics:     art.Analytics,
				Feedback:      art.Feedback,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleDashboard(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.Dashboard()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to build dashboard: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleProgress(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, ok := lookupQuestion(w, r, deps)
		if !ok {
			return
		}
		points, err := deps.Store.ProgressPoints(q.ID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load progress: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, progress.Build(q, points))
	}
}

// lookupQuestion resolves the {question_id} parameter, writing the error
// response itself when it cannot.
func lookupQuestion(w http.ResponseWriter, r *http.Request, deps Deps) (storage.Question, bool) {
	id, ok := pathID(r, "question_id")
	if !ok {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "question_id must be a positive integer")
		return storage.Question{}, false
	}
	q, err := deps.Store.GetQuestion(id)
	if errors.Is(err, storage.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "question %d not found", id)
		return storage.Question{}, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "failed to load question: %v", err)
		return storage.Question{}, false
	}
	return q, true
}
