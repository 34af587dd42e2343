package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const jobColumns = `id, type, attempt_id, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error`

func scanJob(row scanner) (Job, error) {
	var j Job
	var attemptID sql.NullInt64
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	if err := row.Scan(&j.ID, &j.Type, &attemptID, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError); err != nil {
		return Job{}, err
	}
	j.AttemptID = attemptID.Int64
	j.LastError = lastError.String

	var err error
	if j.RunAfter, err = parseTime("run_after for job "+j.ID, runAfter); err != nil {
		return Job{}, err
	}
	if j.CreatedAt, err = parseTime("created_at for job "+j.ID, createdAt); err != nil {
		return Job{}, err
	}
	if j.UpdatedAt, err = parseTime("updated_at for job "+j.ID, updatedAt); err != nil {
		return Job{}, err
	}
	return j, nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertJob(x execer, job Job) error {
	now := formatTime(time.Now())
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = formatTime(job.RunAfter)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	payload := job.PayloadJSON
	if payload == "" {
		payload = "{}"
	}
	var attemptID sql.NullInt64
	if job.AttemptID != 0 {
		attemptID = sql.NullInt64{Int64: job.AttemptID, Valid: true}
	}
	_, err := x.Exec(`
		INSERT INTO jobs (id, type, attempt_id, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, attemptID, payload, maxAttempts, runAfter, now, now,
	)
	return err
}

func (s *Store) EnqueueJob(job Job) error {
	return insertJob(s.db, job)
}

// EnqueueAnalysis queues job for job.AttemptID as one atomic step. It returns
// ErrNotFound when the attempt does not exist and ErrAlreadyAnalyzed when the
// attempt already has a transcript or an active job of the same type.
func (s *Store) EnqueueAnalysis(job Job) error {
	if job.AttemptID == 0 {
		return fmt.Errorf("enqueue %s: missing attempt id", job.Type)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning enqueue transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, transcripts, active int
	err = tx.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM attempts WHERE id = ?),
			(SELECT COUNT(*) FROM transcriptions WHERE attempt_id = ?),
			(SELECT COUNT(*) FROM jobs WHERE type = ? AND attempt_id = ? AND status IN ('pending', 'running'))`,
		job.AttemptID, job.AttemptID, job.Type, job.AttemptID,
	).Scan(&attempts, &transcripts, &active)
	if err != nil {
		return fmt.Errorf("checking attempt %d: %w", job.AttemptID, err)
	}
	switch {
	case attempts == 0:
		return ErrNotFound
	case transcripts > 0, active > 0:
		return ErrAlreadyAnalyzed
	}

	if err := insertJob(tx, job); err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyAnalyzed
		}
		return fmt.Errorf("inserting job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing enqueue: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	code := se.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT
}

// ClaimNextJob marks the oldest runnable pending job of one of the given types
// as running and returns it. It returns nil when nothing is runnable.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := formatTime(time.Now())
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	j, err := scanJob(tx.QueryRow(query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	if j.UpdatedAt, err = parseTime("updated_at for job "+j.ID, now); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed run. The job is rescheduled with exponential backoff
// until it reaches max_attempts, after which it stays failed with errMsg.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++
	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, formatTime(now), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, formatTime(now.Add(backoff)), formatTime(now), id)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// LatestJob returns the most recently created job of jobType for the attempt.
func (s *Store) LatestJob(jobType string, attemptID int64) (Job, error) {
	j, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+`
		FROM jobs WHERE type = ? AND attempt_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, jobType, attemptID))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

// FailStaleJobs marks every running job as failed with reason. It is meant to
// run at startup, when no job can legitimately be running yet.
func (s *Store) FailStaleJobs(reason string) (int64, error) {
	res, err := s.db.Exec(`UPDATE jobs SET status = 'failed', last_error = ?, updated_at = ? WHERE status = 'running'`,
		reason, formatTime(time.Now()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
