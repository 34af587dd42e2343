package storage

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a write-once artifact is written twice.
	ErrAlreadyExists = errors.New("already exists")
	// ErrAlreadyAnalyzed is returned by EnqueueAnalysis when the attempt already
	// has a transcript or an analysis queued or running.
	ErrAlreadyAnalyzed = errors.New("already analyzed")
)

type Question struct {
	ID           int64  `json:"id"`
	Category     string `json:"category"`
	QuestionText string `json:"question_text"`
	Tips         string `json:"tips"`
	AttemptCount int    `json:"attempt_count"`
}

type Attempt struct {
	ID              int64     `json:"id"`
	QuestionID      int64     `json:"question_id"`
	AttemptNumber   int       `json:"attempt_number"`
	VideoPath       string    `json:"video_path"`
	DurationSeconds float64   `json:"duration_seconds"`
	TimerSetting    int       `json:"timer_setting"`
	CreatedAt       time.Time `json:"created_at"`
}

// Word is one recognised word with its start and end offsets in seconds.
type Word struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type Transcript struct {
	AttemptID int64     `json:"attempt_id"`
	Text      string    `json:"text"`
	Words     []Word    `json:"words"`
	CreatedAt time.Time `json:"created_at"`
}

// HeuristicMetrics are the locally computed speech metrics of an answer.
type HeuristicMetrics struct {
	PauseCount            int            `json:"pause_count"`
	FillerWordCount       int            `json:"filler_word_count"`
	FillerWordsDetail     map[string]int `json:"filler_words_detail"`
	AnswerDurationSeconds float64        `json:"answer_duration_seconds"`
	WordsPerMinute        float64        `json:"words_per_minute"`
	ClarityScore          int            `json:"clarity_score"`
	ConfidenceScore       int            `json:"confidence_score"`
	StructureScore        int            `json:"structure_score"`
}

// LLMScores are the model-judged scores of an answer, each with a justification.
type LLMScores struct {
	ClarityScore            int    `json:"clarity_llm_score"`
	ClarityJustification    string `json:"clarity_llm_justification"`
	ConfidenceScore         int    `json:"confidence_llm_score"`
	ConfidenceJustification string `json:"confidence_llm_justification"`
	StructureScore          int    `json:"structure_llm_score"`
	StructureJustification  string `json:"structure_llm_justification"`
}

// Analytics is the merged analytics record of an attempt. Either group may be
// nil when the stage that produces it failed; a group is never partially set.
type Analytics struct {
	AttemptID int64
	Heuristic *HeuristicMetrics
	LLM       *LLMScores
	CreatedAt time.Time
}

// MarshalJSON renders the record flat, omitting absent groups entirely.
func (a Analytics) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"attempt_id": a.AttemptID,
		"created_at": a.CreatedAt,
	}
	if err := mergeFields(out, a.Heuristic); err != nil {
		return nil, err
	}
	if err := mergeFields(out, a.LLM); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func mergeFields[T any](dst map[string]any, src *T) error {
	if src == nil {
		return nil
	}
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	for k, v := range fields {
		dst[k] = v
	}
	return nil
}

// STARScores are the Situation/Task/Action/Result subscores, 1 to 5 each.
type STARScores struct {
	Situation int `json:"situation"`
	Task      int `json:"task"`
	Action    int `json:"action"`
	Result    int `json:"result"`
}

type Feedback struct {
	AttemptID     int64       `json:"attempt_id"`
	CoachFeedback string      `json:"coach_feedback"`
	STARScores    *STARScores `json:"star_scores,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Artifacts holds whichever pipeline outputs exist for an attempt.
type Artifacts struct {
	Transcript *Transcript
	Analytics  *Analytics
	Feedback   *Feedback
}

type Job struct {
	ID          string
	Type        string
	AttemptID   int64 // 0 when the job is not tied to an attempt
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// ProgressPoint is one attempt's scores as seen by the progress view. Score
// fields are nil until the attempt has heuristic analytics.
type ProgressPoint struct {
	AttemptID       int64       `json:"attempt_id"`
	AttemptNumber   int         `json:"attempt_number"`
	ClarityScore    *int        `json:"clarity_score"`
	ConfidenceScore *int        `json:"confidence_score"`
	StructureScore  *int        `json:"structure_score"`
	STARScores      *STARScores `json:"star_scores"`
	CreatedAt       time.Time   `json:"created_at"`
}

type DashboardStats struct {
	TotalAttempts        int            `json:"total_attempts"`
	QuestionsPracticed   int            `json:"questions_practiced"`
	TotalQuestions       int            `json:"total_questions"`
	TotalPracticeSeconds float64        `json:"total_practice_seconds"`
	AvgClarityScore      *float64       `json:"avg_clarity_score"`
	AvgConfidenceScore   *float64       `json:"avg_confidence_score"`
	AvgStructureScore    *float64       `json:"avg_structure_score"`
	DailyActivity        map[string]int `json:"daily_activity"`
}
