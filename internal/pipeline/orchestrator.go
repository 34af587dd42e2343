// Package pipeline sequences the analysis of a recorded answer: transcription
// first, then heuristic metrics, LLM analytics and coaching concurrently.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/starcoach/internal/metrics"
	"github.com/kalambet/starcoach/internal/storage"
)

// Capabilities are the stage implementations used by a run.
type Capabilities struct {
	Transcriber Transcriber
	Heuristic   HeuristicFunc // defaults to SpeechHeuristic
	Scorer      LLMScorer
	Advisor     Advisor
}

// Options tune an Orchestrator. Zero timeouts disable the per-call deadline.
type Options struct {
	TranscribeTimeout time.Duration
	LLMTimeout        time.Duration
	Logger            *slog.Logger
}

// Orchestrator schedules and runs attempt analyses and reports their status.
type Orchestrator struct {
	store     Store
	media     MediaResolver
	caps      Capabilities
	opts      Options
	scheduler Scheduler
	logger    *slog.Logger
}

// New creates an Orchestrator. The capabilities are shared by all runs and
// must be safe for concurrent use.
func New(store Store, media MediaResolver, caps Capabilities, opts Options) *Orchestrator {
	if caps.Heuristic == nil {
		caps.Heuristic = SpeechHeuristic
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:  store,
		media:  media,
		caps:   caps,
		opts:   opts,
		logger: logger,
	}
}

// SetScheduler registers the executor to wake after a run is queued.
func (o *Orchestrator) SetScheduler(s Scheduler) {
	o.scheduler = s
}

type runPayload struct {
	AttemptID int64 `json:"attempt_id"`
}

// Trigger queues an analysis of the attempt and returns without waiting for
// it. It fails with ErrNotFound for an unknown attempt and ErrAlreadyAnalyzed
// when the attempt has a transcript or a run queued or in progress.
func (o *Orchestrator) Trigger(ctx context.Context, attemptID int64) (string, error) {
	payload, err := json.Marshal(runPayload{AttemptID: attemptID})
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobType,
		AttemptID:   attemptID,
		PayloadJSON: string(payload),
		MaxAttempts: 1,
	}

	err = o.store.EnqueueAnalysis(job)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		metrics.RecordTrigger("not_found")
		return "", ErrNotFound
	case errors.Is(err, storage.ErrAlreadyAnalyzed):
		metrics.RecordTrigger("already_analyzed")
		return "", ErrAlreadyAnalyzed
	case err != nil:
		metrics.RecordTrigger("error")
		return "", fmt.Errorf("queueing analysis: %w", err)
	}

	metrics.RecordTrigger("accepted")
	o.logger.Info("analysis queued", "attempt_id", attemptID, "job_id", job.ID)
	if o.scheduler != nil {
		o.scheduler.Wake()
	}
	return job.ID, nil
}

// RunJob runs the analysis described by a queued job.
func (o *Orchestrator) RunJob(ctx context.Context, job storage.Job) error {
	attemptID := job.AttemptID
	if attemptID == 0 {
		var p runPayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		attemptID = p.AttemptID
	}
	return o.Run(ctx, attemptID)
}

// Run analyses one attempt end to end. A transcription failure aborts the run
// and is returned. Once the transcript is stored, the run always ends with a
// feedback record, falling back to FallbackFeedback if nothing better exists.
func (o *Orchestrator) Run(ctx context.Context, attemptID int64) (err error) {
	log := o.logger.With("attempt_id", attemptID)
	run := metrics.StartRun()
	outcome := "complete"
	defer func() { run.End(outcome) }()

	attempt, err := o.store.GetAttempt(attemptID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn("attempt no longer exists, skipping analysis")
		outcome = "aborted"
		return nil
	}
	if err != nil {
		outcome = "aborted"
		return fmt.Errorf("loading attempt %d: %w", attemptID, err)
	}

	tr, err := o.transcribe(ctx, attempt)
	if err != nil {
		log.Error("transcription failed", "stage", metrics.StageTranscription, "error", err)
		outcome = "transcription_failed"
		return err
	}

	err = o.store.PutTranscript(storage.Transcript{AttemptID: attemptID, Text: tr.Text, Words: tr.Words})
	if errors.Is(err, storage.ErrAlreadyExists) {
		log.Warn("transcript already stored by another run, dropping this one")
		outcome = "duplicate"
		return nil
	}
	if err != nil {
		log.Error("storing transcript failed", "stage", metrics.StageTranscription, "error", err)
		outcome = "aborted"
		return fmt.Errorf("storing transcript: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("analysis panicked: %v", r)
		}
		if err != nil {
			outcome = "degraded"
			log.Error("analysis failed after transcription", "error", err)
			o.ensureFeedback(attemptID, log)
		}
	}()

	degraded, err := o.analyze(ctx, attempt, tr, log)
	if degraded {
		outcome = "degraded"
	}
	return err
}

func (o *Orchestrator) transcribe(ctx context.Context, attempt storage.Attempt) (Transcription, error) {
	started := time.Now()
	path, err := o.media.Path(attempt.VideoPath)
	if err != nil {
		err = fmt.Errorf("%w: resolving media %q: %v", ErrTranscription, attempt.VideoPath, err)
		metrics.ObserveStage(metrics.StageTranscription, started, err)
		return Transcription{}, err
	}

	ctx, cancel := withOptionalTimeout(ctx, o.opts.TranscribeTimeout)
	defer cancel()

	tr, err := o.caps.Transcriber.Transcribe(ctx, path)
	if err != nil && !errors.Is(err, ErrTranscription) {
		err = fmt.Errorf("%w: %v", ErrTranscription, err)
	}
	metrics.ObserveStage(metrics.StageTranscription, started, err)
	return tr, err
}

type result[T any] struct {
	val T
	err error
}

// launch runs fn on its own goroutine. A panic in fn is reported as its error.
func launch[T any](stage string, fn func() (T, error)) <-chan result[T] {
	ch := make(chan result[T], 1)
	go func() {
		started := time.Now()
		var res result[T]
		defer func() {
			if r := recover(); r != nil {
				res = result[T]{err: fmt.Errorf("%s panicked: %v", stage, r)}
			}
			metrics.ObserveStage(stage, started, res.err)
			ch <- res
		}()
		res.val, res.err = fn()
	}()
	return ch
}

// analyze fans out the three post-transcription stages and persists their
// merged results. It reports whether any stage degraded.
func (o *Orchestrator) analyze(ctx context.Context, attempt storage.Attempt, tr Transcription, log *slog.Logger) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	heuristicCh := launch(metrics.StageHeuristic, func() (storage.HeuristicMetrics, error) {
		return o.caps.Heuristic(tr.Text, tr.Words, attempt.DurationSeconds), nil
	})
	llmCh := launch(metrics.StageLLM, func() (storage.LLMScores, error) {
		if o.caps.Scorer == nil {
			return storage.LLMScores{}, ErrAnalyticsUnavailable
		}
		cctx, ccancel := withOptionalTimeout(ctx, o.opts.LLMTimeout)
		defer ccancel()
		return o.caps.Scorer.Score(cctx, tr.Text)
	})
	adviceCh := launch(metrics.StageCoaching, func() (Advice, error) {
		if o.caps.Advisor == nil {
			return Advice{}, ErrAdviceUnavailable
		}
		q, err := o.store.GetQuestion(attempt.QuestionID)
		if err != nil {
			return Advice{}, fmt.Errorf("%w: loading question %d: %v", ErrAdviceUnavailable, attempt.QuestionID, err)
		}
		cctx, ccancel := withOptionalTimeout(ctx, o.opts.LLMTimeout)
		defer ccancel()
		return o.caps.Advisor.Advise(cctx, q.QuestionText, tr.Text)
	})

	degraded := false
	analytics := storage.Analytics{AttemptID: attempt.ID}

	if h := <-heuristicCh; h.err != nil {
		degraded = true
		log.Warn("heuristic analysis failed, omitting metrics", "stage", metrics.StageHeuristic, "error", h.err)
	} else {
		analytics.Heuristic = &h.val
	}
	if l := <-llmCh; l.err != nil {
		degraded = true
		log.Warn("llm analytics failed, omitting llm scores", "stage", metrics.StageLLM, "error", l.err)
	} else {
		analytics.LLM = &l.val
	}

	if err := o.store.PutAnalytics(analytics); err != nil {
		return true, fmt.Errorf("storing analytics: %w", err)
	}

	feedback := storage.Feedback{AttemptID: attempt.ID}
	if a := <-adviceCh; a.err != nil {
		degraded = true
		log.Warn("coaching failed, storing fallback feedback", "stage", metrics.StageCoaching, "error", a.err)
		feedback.CoachFeedback = FallbackFeedback
	} else {
		feedback.CoachFeedback = a.val.Narrative
		feedback.STARScores = a.val.STAR
	}

	if err := o.store.PutFeedback(feedback); err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
		return true, fmt.Errorf("storing feedback: %w", err)
	}

	log.Info("analysis complete", "degraded", degraded)
	return degraded, nil
}

// ensureFeedback writes the fallback feedback unless feedback already exists.
func (o *Orchestrator) ensureFeedback(attemptID int64, log *slog.Logger) {
	err := o.store.PutFeedback(storage.Feedback{AttemptID: attemptID, CoachFeedback: FallbackFeedback})
	switch {
	case errors.Is(err, storage.ErrAlreadyExists):
	case err != nil:
		log.Error("storing fallback feedback failed", "error", err)
	default:
		log.Warn("stored fallback feedback")
	}
}

// RecoverStalled gives every attempt that was cut off after transcription its
// fallback feedback. It must run before any new run starts.
func (o *Orchestrator) RecoverStalled() (int, error) {
	ids, err := o.store.StalledAttempts()
	if err != nil {
		return 0, fmt.Errorf("listing stalled attempts: %w", err)
	}
	for _, id := range ids {
		o.ensureFeedback(id, o.logger.With("attempt_id", id))
	}
	return len(ids), nil
}

// GetStatus reports the attempt's derived status with whichever artifacts exist.
func (o *Orchestrator) GetStatus(ctx context.Context, attemptID int64) (StatusReport, error) {
	if _, err := o.store.GetAttempt(attemptID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return StatusReport{}, ErrNotFound
		}
		return StatusReport{}, fmt.Errorf("loading attempt %d: %w", attemptID, err)
	}

	art, err := o.store.GetArtifacts(attemptID)
	if err != nil {
		return StatusReport{}, fmt.Errorf("loading artifacts: %w", err)
	}

	report := StatusReport{
		AttemptID:  attemptID,
		Status:     Infer(art),
		Transcript: art.Transcript,
		Analytics:  art.Analytics,
		Feedback:   art.Feedback,
	}
	if art.Transcript == nil {
		job, err := o.store.LatestJob(JobType, attemptID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return StatusReport{}, fmt.Errorf("loading latest run: %w", err)
		case job.Status == "failed":
			report.Failure = job.LastError
			if report.Failure == "" {
				report.Failure = ErrTranscription.Error()
			}
		}
	}
	return report, nil
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
