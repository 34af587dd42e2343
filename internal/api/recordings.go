package api

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/starcoach/internal/media"
	"github.com/kalambet/starcoach/internal/storage"
)

const (
	// Form fields beyond this are spooled to disk by ParseMultipartForm.
	maxFormMemory = 32 << 20
	// Room for the non-file form fields and multipart framing.
	multipartOverhead = 1 << 20

	defaultTimerSetting = 120
	maxRecordingList    = 500
)

type uploadResponse struct {
	AttemptID     int64  `json:"attempt_id"`
	AttemptNumber int    `json:"attempt_number"`
	VideoPath     string `json:"video_path"`
}

func handleUploadRecording(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes+multipartOverhead)
		}
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "recording exceeds %d bytes", deps.MaxUploadBytes)
				return
			}
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		questionID, err := strconv.ParseInt(r.FormValue("question_id"), 10, 64)
		if err != nil || questionID <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question_id must be a positive integer")
			return
		}
		timer := defaultTimerSetting
		if s := r.FormValue("timer_setting"); s != "" {
			if timer, err = strconv.Atoi(s); err != nil || timer < 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "timer_setting must be a non-negative integer")
				return
			}
		}
		var duration float64
		if s := r.FormValue("duration_seconds"); s != "" {
			if duration, err = strconv.ParseFloat(s, 64); err != nil || duration < 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "duration_seconds must be a non-negative number")
				return
			}
		}

		file, _, err := r.FormFile("video")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "video file is required")
			return
		}
		defer file.Close()

		if _, err := deps.Store.GetQuestion(questionID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "question %d not found", questionID)
				return
			}
			slog.Error("loading question", "question_id", questionID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load question")
			return
		}

		name, err := deps.Media.Save(questionID, file, deps.MaxUploadBytes)
		if errors.Is(err, media.ErrTooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "recording exceeds %d bytes", deps.MaxUploadBytes)
			return
		}
		if err != nil {
			slog.Error("saving recording", "question_id", questionID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save recording")
			return
		}

		attempt, err := deps.Store.CreateAttempt(storage.Attempt{
			QuestionID:      questionID,
			VideoPath:       name,
			DurationSeconds: duration,
			TimerSetting:    timer,
		})
		if err != nil {
			if rerr := deps.Media.Remove(name); rerr != nil {
				slog.Warn("removing orphaned recording", "file", name, "error", rerr)
			}
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "question %d not found", questionID)
				return
			}
			slog.Error("creating attempt", "question_id", questionID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record attempt")
			return
		}

		slog.Info("recording saved", "attempt_id", attempt.ID, "question_id", questionID, "file", name)
		writeJSON(w, http.StatusCreated, uploadResponse{
			AttemptID:     attempt.ID,
			AttemptNumber: attempt.AttemptNumber,
			VideoPath:     attempt.VideoPath,
		})
	}
}

func handleListRecordings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 100, maxRecordingList)
		attempts, err := deps.Store.ListAttempts(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list recordings: %v", err)
			return
		}
		if attempts == nil {
			attempts = []storage.Attempt{}
		}
		writeJSON(w, http.StatusOK, attempts)
	}
}

func handleServeRecording(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, err := deps.Media.Path(chi.URLParam(r, "file"))
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found", "recording not found")
			return
		}
		if _, err := os.Stat(path); err != nil {
			httpError(w, http.StatusNotFound, "not_found", "recording not found")
			return
		}
		w.Header().Set("Content-Type", "video/webm")
		http.ServeFile(w, r, path)
	}
}
