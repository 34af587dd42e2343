package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/starcoach/internal/storage"
)

// --- mocks ---

type mockTranscriber struct {
	transcribeFn func(ctx context.Context, path string) (Transcription, error)
	calls        atomic.Int32
}

func (m *mockTranscriber) Transcribe(ctx context.Context, path string) (Transcription, error) {
	m.calls.Add(1)
	if m.transcribeFn != nil {
		return m.transcribeFn(ctx, path)
	}
	return Transcription{
		Text:  "um I led the migration and it worked",
		Words: []storage.Word{{Word: "um", Start: 0, End: 0.2}, {Word: "I", Start: 0.3, End: 0.4}},
	}, nil
}

type mockScorer struct {
	scoreFn func(ctx context.Context, transcript string) (storage.LLMScores, error)
}

func (m *mockScorer) Score(ctx context.Context, transcript string) (storage.LLMScores, error) {
	if m.scoreFn != nil {
		return m.scoreFn(ctx, transcript)
	}
	return storage.LLMScores{
		ClarityScore: 4, ClarityJustification: "clear",
		ConfidenceScore: 4, ConfidenceJustification: "steady",
		StructureScore: 3, StructureJustification: "thin result",
	}, nil
}

type mockAdvisor struct {
	adviseFn func(ctx context.Context, question, transcript string) (Advice, error)
}

func (m *mockAdvisor) Advise(ctx context.Context, question, transcript string) (Advice, error) {
	if m.adviseFn != nil {
		return m.adviseFn(ctx, question, transcript)
	}
	return Advice{
		Narrative: "Quantify the result.",
		STAR:      &storage.STARScores{Situation: 4, Task: 4, Action: 5, Result: 2},
	}, nil
}

type mockMedia struct{}

func (mockMedia) Path(ref string) (string, error) { return "/recordings/" + ref, nil }

type mockScheduler struct{ wakes atomic.Int32 }

func (m *mockScheduler) Wake() { m.wakes.Add(1) }

// failingStore wraps a real store and fails selected writes.
type failingStore struct {
	*storage.Store
	putAnalyticsErr error
}

func (f *failingStore) PutAnalytics(a storage.Analytics) error {
	if f.putAnalyticsErr != nil {
		return f.putAnalyticsErr
	}
	return f.Store.PutAnalytics(a)
}

// --- helpers ---

func newTestStore(t *testing.T) (*storage.Store, storage.Attempt) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if _, err := s.SeedQuestions(storage.DefaultQuestions); err != nil {
		t.Fatalf("SeedQuestions: %v", err)
	}
	a, err := s.CreateAttempt(storage.Attempt{QuestionID: 1, VideoPath: "1_deadbeef.webm", DurationSeconds: 60, TimerSetting: 120})
	if err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	return s, a
}

type fixture struct {
	store       *storage.Store
	attempt     storage.Attempt
	transcriber *mockTranscriber
	scorer      *mockScorer
	advisor     *mockAdvisor
	orch        *Orchestrator
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	s, a := newTestStore(t)
	f := &fixture{
		store:       s,
		attempt:     a,
		transcriber: &mockTranscriber{},
		scorer:      &mockScorer{},
		advisor:     &mockAdvisor{},
	}
	f.orch = New(s, mockMedia{}, Capabilities{
		Transcriber: f.transcriber,
		Scorer:      f.scorer,
		Advisor:     f.advisor,
	}, opts)
	return f
}

func (f *fixture) status(t *testing.T) StatusReport {
	t.Helper()
	r, err := f.orch.GetStatus(context.Background(), f.attempt.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	return r
}

// --- Trigger ---

func TestTrigger_QueuesAndWakes(t *testing.T) {
	f := newFixture(t, Options{})
	sched := &mockScheduler{}
	f.orch.SetScheduler(sched)

	jobID, err := f.orch.Trigger(context.Background(), f.attempt.ID)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if jobID == "" {
		t.Error("expected a job id")
	}
	if sched.wakes.Load() != 1 {
		t.Errorf("wakes = %d, want 1", sched.wakes.Load())
	}

	job, err := f.store.ClaimNextJob([]string{JobType})
	if err != nil || job == nil {
		t.Fatalf("ClaimNextJob = %v, %v", job, err)
	}
	if job.AttemptID != f.attempt.ID || job.MaxAttempts != 1 {
		t.Errorf("job = %+v", job)
	}
	if f.transcriber.calls.Load() != 0 {
		t.Error("Trigger must not run the pipeline inline")
	}
}

func TestTrigger_NotFound(t *testing.T) {
	f := newFixture(t, Options{})
	if _, err := f.orch.Trigger(context.Background(), f.attempt.ID+99); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTrigger_RejectsQueuedDuplicate(t *testing.T) {
	f := newFixture(t, Options{})

	if _, err := f.orch.Trigger(context.Background(), f.attempt.ID); err != nil {
		t.Fatalf("first Trigger: %v", err)
	}
	if _, err := f.orch.Trigger(context.Background(), f.attempt.ID); !errors.Is(err, ErrAlreadyAnalyzed) {
		t.Errorf("second Trigger err = %v, want ErrAlreadyAnalyzed", err)
	}
}

// Scenario C: an attempt with a transcript is rejected and nothing is written.
func TestTrigger_AlreadyAnalyzedWritesNothing(t *testing.T) {
	f := newFixture(t, Options{})
	sched := &mockScheduler{}
	f.orch.SetScheduler(sched)

	if err := f.store.PutTranscript(storage.Transcript{AttemptID: f.attempt.ID, Text: "earlier"}); err != nil {
		t.Fatalf("PutTranscript: %v", err)
	}
	before := f.status(t)

	if _, err := f.orch.Trigger(context.Background(), f.attempt.ID); !errors.Is(err, ErrAlreadyAnalyzed) {
		t.Fatalf("err = %v, want ErrAlreadyAnalyzed", err)
	}

	after := f.status(t)
	if after.Status != before.Status || after.Analytics != nil || after.Feedback != nil {
		t.Errorf("status changed: %+v -> %+v", before, after)
	}
	if sched.wakes.Load() != 0 {
		t.Error("scheduler woken for rejected trigger")
	}
	if job, _ := f.store.ClaimNextJob([]string{JobType}); job != nil {
		t.Errorf("unexpected queued job %+v", job)
	}
}

// --- Run ---

func TestRun_Success(t *testing.T) {
	f := newFixture(t, Options{})

	if err := f.orch.Run(context.Background(), f.attempt.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	r := f.status(t)
	if r.Status != StatusComplete {
		t.Fatalf("Status = %q, want complete", r.Status)
	}
	if r.Transcript == nil || !strings.HasPrefix(r.Transcript.Text, "um I led") {
		t.Errorf("Transcript = %+v", r.Transcript)
	}
	if r.Analytics.Heuristic == nil || r.Analytics.LLM == nil {
		t.Errorf("Analytics = %+v, want both groups", r.Analytics)
	}
	if r.Analytics.Heuristic.FillerWordCount != 1 {
		t.Errorf("FillerWordCount = %d, want 1", r.Analytics.Heuristic.FillerWordCount)
	}
	if r.Analytics.Heuristic.AnswerDurationSeconds != 60 {
		t.Errorf("AnswerDurationSeconds = %v, want the attempt's 60s", r.Analytics.Heuristic.AnswerDurationSeconds)
	}
	if r.Feedback.CoachFeedback != "Quantify the result." || r.Feedback.STARScores == nil {
		t.Errorf("Feedback = %+v", r.Feedback)
	}
}

func TestRun_PassesQuestionToAdvisor(t *testing.T) {
	f := newFixture(t, Options{})
	var gotQuestion string
	f.advisor.adviseFn = func(ctx context.Context, question, transcript string) (Advice, error) {
		gotQuestion = question
		return Advice{Narrative: "ok"}, nil
	}

	if err := f.orch.Run(context.Background(), f.attempt.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gotQuestion != storage.DefaultQuestions[0].QuestionText {
		t.Errorf("question = %q", gotQuestion)
	}
}

// Scenario D: LLM analytics fail, everything else succeeds.
func TestRun_LLMFailureOmitsLLMFields(t *testing.T) {
	f := newFixture(t, Options{})
	f.scorer.scoreFn = func(ctx context.Context, transcript string) (storage.LLMScores, error) {
		return storage.LLMScores{}, ErrAnalyticsUnavailable
	}

	if err := f.orch.Run(context.Background(), f.attempt.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	r := f.status(t)
	if r.Status != StatusComplete {
		t.Errorf("Status = %q, want complete", r.Status)
	}
	if r.Analytics.Heuristic == nil {
		t.Error("heuristic fields missing")
	}
	if r.Analytics.LLM != nil {
		t.Errorf("LLM = %+v, want absent", r.Analytics.LLM)
	}
	if r.Feedback.CoachFeedback == FallbackFeedback {
		t.Error("coaching succeeded but fallback stored")
	}
}

// Scenario E: coaching fails, the fallback narrative is stored.
func TestRun_CoachingFailureStoresFallback(t *testing.T) {
	f := newFixture(t, Options{})
	f.advisor.adviseFn = func(ctx context.Context, question, transcript string) (Advice, error) {
		return Advice{}, ErrAdviceUnavailable
	}

	if err := f.orch.Run(context.Background(), f.attempt.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	r := f.status(t)
	if r.Status != StatusComplete {
		t.Errorf("Status = %q, want complete", r.Status)
	}
	if r.Feedback.CoachFeedback != FallbackFeedback {
		t.Errorf("CoachFeedback = %q, want fallback", r.Feedback.CoachFeedback)
	}
	if r.Feedback.STARScores != nil {
		t.Errorf("STARScores = %+v, want nil", r.Feedback.STARScores)
	}
	if r.Analytics.Heuristic == nil || r.Analytics.LLM == nil {
		t.Errorf("analytics should be unaffected: %+v", r.Analytics)
	}
}

func TestRun_HeuristicPanicOmitsMetrics(t *testing.T) {
	f := newFixture(t, Options{})
	f.orch.caps.Heuristic = func(string, []storage.Word, float64) storage.HeuristicMetrics {
		panic("bad timings")
	}

	if err := f.orch.Run(context.Background(), f.attempt.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	r := f.status(t)
	if r.Analytics.Heuristic != nil {
		t.Errorf("Heuristic = %+v, want absent", r.Analytics.Heuristic)
	}
	if r.Analytics.LLM == nil {
		t.Error("LLM scores missing")
	}
	if r.Status != StatusComplete {
		t.Errorf("Status = %q, want complete", r.Status)
	}
}

func TestRun_TranscriptionFailureWritesNothing(t *testing.T) {
	f := newFixture(t, Options{})
	f.transcriber.transcribeFn = func(ctx context.Context, path string) (Transcription, error) {
		return Transcription{}, errors.New("asr service returned 500")
	}
	var scored atomic.Bool
	f.scorer.scoreFn = func(ctx context.Context, transcript string) (storage.LLMScores, error) {
		scored.Store(true)
		return storage.LLMScores{}, nil
	}

	err := f.orch.Run(context.Background(), f.attempt.ID)
	if !errors.Is(err, ErrTranscription) {
		t.Fatalf("err = %v, want ErrTranscription", err)
	}

	r := f.status(t)
	if r.Status != StatusTranscribing || r.Transcript != nil || r.Analytics != nil || r.Feedback != nil {
		t.Errorf("report = %+v, want no artifacts", r)
	}
	if scored.Load() {
		t.Error("later stages ran after transcription failed")
	}
}

func TestGetStatus_ReportsFailedRun(t *testing.T) {
	f := newFixture(t, Options{})
	f.transcriber.transcribeFn = func(ctx context.Context, path string) (Transcription, error) {
		return Transcription{}, errors.New("model not loaded")
	}

	if _, err := f.orch.Trigger(context.Background(), f.attempt.ID); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	job, err := f.store.ClaimNextJob([]string{JobType})
	if err != nil || job == nil {
		t.Fatalf("ClaimNextJob = %v, %v", job, err)
	}
	runErr := f.orch.RunJob(context.Background(), *job)
	if runErr == nil {
		t.Fatal("expected run error")
	}
	if err := f.store.FailJob(job.ID, runErr.Error()); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	r := f.status(t)
	if r.Status != StatusTranscribing {
		t.Errorf("Status = %q, want transcribing", r.Status)
	}
	if !strings.Contains(r.Failure, "model not loaded") {
		t.Errorf("Failure = %q", r.Failure)
	}

	// A failed run can be retried by hand.
	if _, err := f.orch.Trigger(context.Background(), f.attempt.ID); err != nil {
		t.Errorf("re-trigger after failure: %v", err)
	}
	if r := f.status(t); r.Failure != "" {
		t.Errorf("Failure = %q after re-trigger, want empty", r.Failure)
	}
}

func TestRun_MissingAttemptAbortsSilently(t *testing.T) {
	f := newFixture(t, Options{})

	if err := f.orch.Run(context.Background(), f.attempt.ID+42); err != nil {
		t.Errorf("Run: %v, want nil", err)
	}
	if f.transcriber.calls.Load() != 0 {
		t.Error("transcriber called for missing attempt")
	}
}

func TestRun_DuplicateRunKeepsFirstResult(t *testing.T) {
	f := newFixture(t, Options{})

	if err := f.orch.Run(context.Background(), f.attempt.ID); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	first := f.status(t)

	f.advisor.adviseFn = func(ctx context.Context, question, transcript string) (Advice, error) {
		return Advice{Narrative: "second opinion"}, nil
	}
	if err := f.orch.Run(context.Background(), f.attempt.ID); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	second := f.status(t)
	if second.Feedback.CoachFeedback != first.Feedback.CoachFeedback {
		t.Errorf("feedback changed from %q to %q", first.Feedback.CoachFeedback, second.Feedback.CoachFeedback)
	}
}

func TestRun_StagesRunConcurrently(t *testing.T) {
	f := newFixture(t, Options{})

	scoring := make(chan struct{})
	advising := make(chan struct{})
	f.scorer.scoreFn = func(ctx context.Context, transcript string) (storage.LLMScores, error) {
		close(scoring)
		select {
		case <-advising:
		case <-time.After(2 * time.Second):
			return storage.LLMScores{}, errors.New("advisor never started")
		}
		return storage.LLMScores{ClarityScore: 3, ConfidenceScore: 3, StructureScore: 3}, nil
	}
	f.advisor.adviseFn = func(ctx context.Context, question, transcript string) (Advice, error) {
		close(advising)
		select {
		case <-scoring:
		case <-time.After(2 * time.Second):
			return Advice{}, errors.New("scorer never started")
		}
		return Advice{Narrative: "together"}, nil
	}

	if err := f.orch.Run(context.Background(), f.attempt.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	r := f.status(t)
	if r.Analytics.LLM == nil || r.Feedback.CoachFeedback != "together" {
		t.Errorf("stages did not overlap: analytics=%+v feedback=%+v", r.Analytics, r.Feedback)
	}
}

func TestRun_LLMTimeoutDegrades(t *testing.T) {
	f := newFixture(t, Options{LLMTimeout: 50 * time.Millisecond})
	f.scorer.scoreFn = func(ctx context.Context, transcript string) (storage.LLMScores, error) {
		<-ctx.Done()
		return storage.LLMScores{}, ctx.Err()
	}

	start := time.Now()
	if err := f.orch.Run(context.Background(), f.attempt.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("run took %v, timeout not applied", time.Since(start))
	}

	r := f.status(t)
	if r.Analytics.LLM != nil {
		t.Error("LLM scores stored despite timeout")
	}
	if r.Status != StatusComplete {
		t.Errorf("Status = %q, want complete", r.Status)
	}
}

func TestRun_AnalyticsStoreFailureStoresFallback(t *testing.T) {
	s, a := newTestStore(t)
	fs := &failingStore{Store: s, putAnalyticsErr: errors.New("disk I/O error")}
	orch := New(fs, mockMedia{}, Capabilities{
		Transcriber: &mockTranscriber{},
		Scorer:      &mockScorer{},
		Advisor:     &mockAdvisor{},
	}, Options{})

	if err := orch.Run(context.Background(), a.ID); err == nil {
		t.Fatal("expected store error")
	}

	art, err := s.GetArtifacts(a.ID)
	if err != nil {
		t.Fatalf("GetArtifacts: %v", err)
	}
	if art.Feedback == nil || art.Feedback.CoachFeedback != FallbackFeedback {
		t.Fatalf("Feedback = %+v, want fallback", art.Feedback)
	}
	if Infer(art) != StatusComplete {
		t.Errorf("status = %q, want complete", Infer(art))
	}
}

func TestRecoverStalled(t *testing.T) {
	f := newFixture(t, Options{})

	if err := f.store.PutTranscript(storage.Transcript{AttemptID: f.attempt.ID, Text: "cut off"}); err != nil {
		t.Fatalf("PutTranscript: %v", err)
	}

	n, err := f.orch.RecoverStalled()
	if err != nil {
		t.Fatalf("RecoverStalled: %v", err)
	}
	if n != 1 {
		t.Errorf("recovered %d, want 1", n)
	}
	r := f.status(t)
	if r.Status != StatusComplete || r.Feedback.CoachFeedback != FallbackFeedback {
		t.Errorf("report = %+v", r)
	}
}

func TestGetStatus_NotFound(t *testing.T) {
	f := newFixture(t, Options{})
	if _, err := f.orch.GetStatus(context.Background(), f.attempt.ID+7); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetStatus_Idempotent(t *testing.T) {
	f := newFixture(t, Options{})
	if err := f.orch.Run(context.Background(), f.attempt.ID); err != nil {
		t.Fatalf("Run: %v", err)
	}

	a, b := f.status(t), f.status(t)
	if a.Status != b.Status || a.Feedback.CoachFeedback != b.Feedback.CoachFeedback ||
		a.Transcript.Text != b.Transcript.Text ||
		a.Analytics.Heuristic.WordsPerMinute != b.Analytics.Heuristic.WordsPerMinute ||
		*a.Analytics.LLM != *b.Analytics.LLM {
		t.Errorf("reports differ:\n%+v\n%+v", a, b)
	}
}
