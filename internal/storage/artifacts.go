package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// insertOnce runs an INSERT ... ON CONFLICT DO NOTHING and maps a skipped row
// to ErrAlreadyExists.
func (s *Store) insertOnce(query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// PutTranscript stores the attempt's transcript. A second transcript for the
// same attempt is rejected with ErrAlreadyExists.
func (s *Store) PutTranscript(t Transcript) error {
	words := t.Words
	if words == nil {
		words = []Word{}
	}
	wordsJSON, err := json.Marshal(words)
	if err != nil {
		return fmt.Errorf("encoding word timestamps: %w", err)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	return s.insertOnce(`
		INSERT INTO transcriptions (attempt_id, transcript_text, word_timestamps, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(attempt_id) DO NOTHING`,
		t.AttemptID, t.Text, string(wordsJSON), formatTime(t.CreatedAt),
	)
}

// PutAnalytics stores the merged analytics record. Absent groups are stored as
// NULL columns so they read back as absent.
func (s *Store) PutAnalytics(a Analytics) error {
	var (
		pauses, fillers, clarity, confidence, structure sql.NullInt64
		detail                                          sql.NullString
		duration, wpm                                   sql.NullFloat64
	)
	if h := a.Heuristic; h != nil {
		d := h.FillerWordsDetail
		if d == nil {
			d = map[string]int{}
		}
		b, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("encoding filler detail: %w", err)
		}
		pauses = sql.NullInt64{Int64: int64(h.PauseCount), Valid: true}
		fillers = sql.NullInt64{Int64: int64(h.FillerWordCount), Valid: true}
		detail = sql.NullString{String: string(b), Valid: true}
		duration = sql.NullFloat64{Float64: h.AnswerDurationSeconds, Valid: true}
		wpm = sql.NullFloat64{Float64: h.WordsPerMinute, Valid: true}
		clarity = sql.NullInt64{Int64: int64(h.ClarityScore), Valid: true}
		confidence = sql.NullInt64{Int64: int64(h.ConfidenceScore), Valid: true}
		structure = sql.NullInt64{Int64: int64(h.StructureScore), Valid: true}
	}

	var (
		llmClarity, llmConfidence, llmStructure sql.NullInt64
		clarityWhy, confidenceWhy, structureWhy sql.NullString
	)
	if l := a.LLM; l != nil {
		llmClarity = sql.NullInt64{Int64: int64(l.ClarityScore), Valid: true}
		llmConfidence = sql.NullInt64{Int64: int64(l.ConfidenceScore), Valid: true}
		llmStructure = sql.NullInt64{Int64: int64(l.StructureScore), Valid: true}
		clarityWhy = sql.NullString{String: l.ClarityJustification, Valid: true}
		confidenceWhy = sql.NullString{String: l.ConfidenceJustification, Valid: true}
		structureWhy = sql.NullString{String: l.StructureJustification, Valid: true}
	}

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return s.insertOnce(`
		INSERT INTO analytics (
			attempt_id, pause_count, filler_word_count, filler_words_detail, answer_duration_seconds,
			words_per_minute, clarity_score, confidence_score, structure_score,
			clarity_llm_score, clarity_llm_justification, confidence_llm_score, confidence_llm_justification,
			structure_llm_score, structure_llm_justification, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(attempt_id) DO NOTHING`,
		a.AttemptID, pauses, fillers, detail, duration,
		wpm, clarity, confidence, structure,
		llmClarity, clarityWhy, llmConfidence, confidenceWhy,
		llmStructure, structureWhy, formatTime(a.CreatedAt),
	)
}

// PutFeedback stores the coaching feedback. STAR scores are optional.
func (s *Store) PutFeedback(f Feedback) error {
	var star sql.NullString
	if f.STARScores != nil {
		b, err := json.Marshal(f.STARScores)
		if err != nil {
			return fmt.Errorf("encoding star scores: %w", err)
		}
		star = sql.NullString{String: string(b), Valid: true}
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	return s.insertOnce(`
		INSERT INTO feedback (attempt_id, coach_feedback, star_scores, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(attempt_id) DO NOTHING`,
		f.AttemptID, f.CoachFeedback, star, formatTime(f.CreatedAt),
	)
}

// GetArtifacts returns whichever artifacts exist for the attempt. Missing
// artifacts are nil; an attempt with none yields an empty Artifacts. The three
// reads share one transaction so the result is a consistent snapshot.
func (s *Store) GetArtifacts(attemptID int64) (Artifacts, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Artifacts{}, fmt.Errorf("beginning read transaction: %w", err)
	}
	defer tx.Rollback()

	var out Artifacts
	if out.Transcript, err = getTranscript(tx, attemptID); err != nil {
		return Artifacts{}, fmt.Errorf("reading transcript: %w", err)
	}
	if out.Analytics, err = getAnalytics(tx, attemptID); err != nil {
		return Artifacts{}, fmt.Errorf("reading analytics: %w", err)
	}
	if out.Feedback, err = getFeedback(tx, attemptID); err != nil {
		return Artifacts{}, fmt.Errorf("reading feedback: %w", err)
	}
	return out, nil
}

// rowQuerier is satisfied by *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func getTranscript(q rowQuerier, attemptID int64) (*Transcript, error) {
	t := Transcript{AttemptID: attemptID}
	var wordsJSON, createdAt string
	err := q.QueryRow(`SELECT transcript_text, word_timestamps, created_at FROM transcriptions WHERE attempt_id = ?`,
		attemptID).Scan(&t.Text, &wordsJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(wordsJSON), &t.Words); err != nil {
		return nil, fmt.Errorf("decoding word timestamps: %w", err)
	}
	if t.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func getAnalytics(q rowQuerier, attemptID int64) (*Analytics, error) {
	var (
		pauses, fillers, clarity, confidence, structure sql.NullInt64
		detail                                          sql.NullString
		duration, wpm                                   sql.NullFloat64
		llmClarity, llmConfidence, llmStructure         sql.NullInt64
		clarityWhy, confidenceWhy, structureWhy         sql.NullString
		createdAt                                       string
	)
	err := q.QueryRow(`
		SELECT pause_count, filler_word_count, filler_words_detail, answer_duration_seconds,
			words_per_minute, clarity_score, confidence_score, structure_score,
			clarity_llm_score, clarity_llm_justification, confidence_llm_score, confidence_llm_justification,
			structure_llm_score, structure_llm_justification, created_at
		FROM analytics WHERE attempt_id = ?`, attemptID,
	).Scan(&pauses, &fillers, &detail, &duration,
		&wpm, &clarity, &confidence, &structure,
		&llmClarity, &clarityWhy, &llmConfidence, &confidenceWhy,
		&llmStructure, &structureWhy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	a := &Analytics{AttemptID: attemptID}
	if a.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if pauses.Valid {
		h := &HeuristicMetrics{
			PauseCount:            int(pauses.Int64),
			FillerWordCount:       int(fillers.Int64),
			FillerWordsDetail:     map[string]int{},
			AnswerDurationSeconds: duration.Float64,
			WordsPerMinute:        wpm.Float64,
			ClarityScore:          int(clarity.Int64),
			ConfidenceScore:       int(confidence.Int64),
			StructureScore:        int(structure.Int64),
		}
		if detail.Valid && detail.String != "" {
			if err := json.Unmarshal([]byte(detail.String), &h.FillerWordsDetail); err != nil {
				return nil, fmt.Errorf("decoding filler detail: %w", err)
			}
		}
		a.Heuristic = h
	}
	if llmClarity.Valid {
		a.LLM = &LLMScores{
			ClarityScore:            int(llmClarity.Int64),
			ClarityJustification:    clarityWhy.String,
			ConfidenceScore:         int(llmConfidence.Int64),
			ConfidenceJustification: confidenceWhy.String,
			StructureScore:          int(llmStructure.Int64),
			StructureJustification:  structureWhy.String,
		}
	}
	return a, nil
}

func getFeedback(q rowQuerier, attemptID int64) (*Feedback, error) {
	f := Feedback{AttemptID: attemptID}
	var star sql.NullString
	var createdAt string
	err := q.QueryRow(`SELECT coach_feedback, star_scores, created_at FROM feedback WHERE attempt_id = ?`,
		attemptID).Scan(&f.CoachFeedback, &star, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if star.Valid && star.String != "" {
		var scores STARScores
		if err := json.Unmarshal([]byte(star.String), &scores); err != nil {
			return nil, fmt.Errorf("decoding star scores: %w", err)
		}
		f.STARScores = &scores
	}
	if f.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	return &f, nil
}

// StalledAttempts returns the ids of attempts that have a transcript but no
// feedback and no analysis job queued or running. Such attempts were cut off
// mid-run, typically by a process exit.
func (s *Store) StalledAttempts() ([]int64, error) {
	rows, err := s.db.Query(`
		SELECT t.attempt_id
		FROM transcriptions t
		LEFT JOIN feedback f ON f.attempt_id = t.attempt_id
		WHERE f.attempt_id IS NULL
			AND NOT EXISTS (
				SELECT 1 FROM jobs j
				WHERE j.attempt_id = t.attempt_id AND j.status IN ('pending', 'running'))
		ORDER BY t.attempt_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
