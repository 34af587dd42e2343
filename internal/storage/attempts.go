package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateAttempt records a new attempt for a.QuestionID, numbering it one past
// the question's highest attempt number. It returns ErrNotFound when the
// question does not exist.
func (s *Store) CreateAttempt(a Attempt) (Attempt, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return Attempt{}, fmt.Errorf("beginning attempt transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM questions WHERE id = ?`, a.QuestionID).Scan(&exists); err != nil {
		return Attempt{}, fmt.Errorf("checking question: %w", err)
	}
	if exists == 0 {
		return Attempt{}, ErrNotFound
	}

	var maxNumber int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(attempt_number), 0) FROM attempts WHERE question_id = ?`,
		a.QuestionID).Scan(&maxNumber); err != nil {
		return Attempt{}, fmt.Errorf("reading attempt number: %w", err)
	}
	a.AttemptNumber = maxNumber + 1

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.CreatedAt = a.CreatedAt.UTC().Truncate(time.Second)

	res, err := tx.Exec(`
		INSERT INTO attempts (question_id, attempt_number, video_path, duration_seconds, timer_setting, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.QuestionID, a.AttemptNumber, a.VideoPath, a.DurationSeconds, a.TimerSetting, formatTime(a.CreatedAt),
	)
	if err != nil {
		return Attempt{}, fmt.Errorf("inserting attempt: %w", err)
	}
	if a.ID, err = res.LastInsertId(); err != nil {
		return Attempt{}, fmt.Errorf("reading attempt id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Attempt{}, fmt.Errorf("committing attempt: %w", err)
	}
	return a, nil
}

const attemptColumns = `id, question_id, attempt_number, video_path, duration_seconds, timer_setting, created_at`

func scanAttempt(row scanner) (Attempt, error) {
	var a Attempt
	var createdAt string
	if err := row.Scan(&a.ID, &a.QuestionID, &a.AttemptNumber, &a.VideoPath, &a.DurationSeconds, &a.TimerSetting, &createdAt); err != nil {
		return Attempt{}, err
	}
	t, err := parseTime("created_at", createdAt)
	if err != nil {
		return Attempt{}, err
	}
	a.CreatedAt = t
	return a, nil
}

func (s *Store) GetAttempt(id int64) (Attempt, error) {
	a, err := scanAttempt(s.db.QueryRow(`SELECT `+attemptColumns+` FROM attempts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Attempt{}, ErrNotFound
	}
	return a, err
}

// ListAttempts returns the most recent attempts across all questions, newest first.
func (s *Store) ListAttempts(limit int) ([]Attempt, error) {
	return s.queryAttempts(`SELECT `+attemptColumns+` FROM attempts ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

// ListAttemptsForQuestion returns a question's attempts, highest attempt number first.
func (s *Store) ListAttemptsForQuestion(questionID int64) ([]Attempt, error) {
	return s.queryAttempts(`SELECT `+attemptColumns+` FROM attempts WHERE question_id = ? ORDER BY attempt_number DESC`, questionID)
}

func (s *Store) queryAttempts(query string, args ...any) ([]Attempt, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
