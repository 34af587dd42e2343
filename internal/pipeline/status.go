package pipeline

import "github.com/kalambet/starcoach/internal/storage"

// Status is where an attempt is in the pipeline. It is never stored; it is
// derived from which artifacts exist.
type Status string

const (
	StatusTranscribing     Status = "transcribing"
	StatusAnalyticsPending Status = "analytics_pending"
	StatusFeedbackPending  Status = "feedback_pending"
	StatusComplete         Status = "complete"
)

// Infer derives the status from the artifacts present. Later artifacts take
// precedence, so adding an artifact never moves the status backwards.
func Infer(a storage.Artifacts) Status {
	switch {
	case a.Feedback != nil:
		return StatusComplete
	case a.Analytics != nil:
		return StatusFeedbackPending
	case a.Transcript != nil:
		return StatusAnalyticsPending
	default:
		return StatusTranscribing
	}
}

// StatusReport is the polling view of an attempt.
type StatusReport struct {
	AttemptID  int64               `json:"attempt_id"`
	Status     Status              `json:"status"`
	Transcript *storage.Transcript `json:"transcription,omitempty"`
	Analytics  *storage.Analytics  `json:"analytics,omitempty"`
	Feedback   *storage.Feedback   `json:"feedback,omitempty"`
	// Failure is set when the latest run failed before a transcript was saved.
	Failure string `json:"failure,omitempty"`
}
