package pipeline

import (
	"context"
	"errors"

	"github.com/kalambet/starcoach/internal/storage"
)

var (
	ErrNotFound        = errors.New("attempt not found")
	ErrAlreadyAnalyzed = errors.New("attempt already analyzed")

	// Capability failures. Implementations wrap one of these so the
	// orchestrator and its logs can tell the stages apart.
	ErrTranscription        = errors.New("transcription failed")
	ErrAnalyticsUnavailable = errors.New("llm analytics unavailable")
	ErrAdviceUnavailable    = errors.New("coaching advice unavailable")
)

// FallbackFeedback is stored as the coaching narrative whenever the run could
// not produce real feedback after the transcript was saved.
const FallbackFeedback = "Analysis failed. Please try again by re-recording."

// JobType is the job queue type of a scheduled analysis run.
const JobType = "analyze_attempt"

// Transcription is the output of a Transcriber.
type Transcription struct {
	Text  string
	Words []storage.Word
}

// Transcriber turns a recording into text with word timings.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath string) (Transcription, error)
}

// HeuristicFunc computes speech metrics from a transcript. It is pure; the
// duration is the recorded answer length in seconds, or 0 when unknown.
type HeuristicFunc func(text string, words []storage.Word, duration float64) storage.HeuristicMetrics

// LLMScorer grades a transcript with a language model.
type LLMScorer interface {
	Score(ctx context.Context, transcript string) (storage.LLMScores, error)
}

// Advice is the output of an Advisor.
type Advice struct {
	Narrative string
	STAR      *storage.STARScores
}

// Advisor writes coaching feedback for an answer to a question.
type Advisor interface {
	Advise(ctx context.Context, question, transcript string) (Advice, error)
}

// Store is the persistence the orchestrator needs. *storage.Store satisfies it.
type Store interface {
	GetAttempt(id int64) (storage.Attempt, error)
	GetQuestion(id int64) (storage.Question, error)
	EnqueueAnalysis(job storage.Job) error
	LatestJob(jobType string, attemptID int64) (storage.Job, error)
	StalledAttempts() ([]int64, error)
	PutTranscript(t storage.Transcript) error
	PutAnalytics(a storage.Analytics) error
	PutFeedback(f storage.Feedback) error
	GetArtifacts(attemptID int64) (storage.Artifacts, error)
}

// MediaResolver maps an attempt's stored media reference to a readable path.
type MediaResolver interface {
	Path(ref string) (string, error)
}

// Scheduler is notified when a new run has been queued.
type Scheduler interface {
	Wake()
}
