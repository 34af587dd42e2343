package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
)

// Dashboard aggregates practice statistics across all questions.
func (s *Store) Dashboard() (DashboardStats, error) {
	stats := DashboardStats{DailyActivity: map[string]int{}}

	err := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM attempts),
			(SELECT COUNT(DISTINCT question_id) FROM attempts),
			(SELECT COUNT(*) FROM questions),
			(SELECT COALESCE(SUM(duration_seconds), 0) FROM attempts)`,
	).Scan(&stats.TotalAttempts, &stats.QuestionsPracticed, &stats.TotalQuestions, &stats.TotalPracticeSeconds)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("reading totals: %w", err)
	}

	var clarity, confidence, structure sql.NullFloat64
	err = s.db.QueryRow(`SELECT AVG(clarity_score), AVG(confidence_score), AVG(structure_score) FROM analytics`).
		Scan(&clarity, &confidence, &structure)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("reading average scores: %w", err)
	}
	stats.AvgClarityScore = roundedAvg(clarity)
	stats.AvgConfidenceScore = roundedAvg(confidence)
	stats.AvgStructureScore = roundedAvg(structure)

	// created_at is RFC3339 UTC, so its first ten characters are the date.
	rows, err := s.db.Query(`SELECT substr(created_at, 1, 10) AS day, COUNT(*) FROM attempts GROUP BY day ORDER BY day`)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("reading daily activity: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var day string
		var count int
		if err := rows.Scan(&day, &count); err != nil {
			return DashboardStats{}, err
		}
		stats.DailyActivity[day] = count
	}
	if err := rows.Err(); err != nil {
		return DashboardStats{}, err
	}
	return stats, nil
}

func roundedAvg(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	r := math.Round(v.Float64*10) / 10
	return &r
}

// ProgressPoints returns a question's attempts in attempt order with their
// heuristic and STAR scores, where present.
func (s *Store) ProgressPoints(questionID int64) ([]ProgressPoint, error) {
	rows, err := s.db.Query(`
		SELECT a.id, a.attempt_number, a.created_at,
			an.clarity_score, an.confidence_score, an.structure_score, f.star_scores
		FROM attempts a
		LEFT JOIN analytics an ON an.attempt_id = a.id
		LEFT JOIN feedback f ON f.attempt_id = a.id
		WHERE a.question_id = ?
		ORDER BY a.attempt_number ASC`, questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProgressPoint
	for rows.Next() {
		var p ProgressPoint
		var createdAt string
		var clarity, confidence, structure sql.NullInt64
		var star sql.NullString
		if err := rows.Scan(&p.AttemptID, &p.AttemptNumber, &createdAt, &clarity, &confidence, &structure, &star); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		p.ClarityScore = nullableInt(clarity)
		p.ConfidenceScore = nullableInt(confidence)
		p.StructureScore = nullableInt(structure)
		if star.Valid && star.String != "" {
			var scores STARScores
			if err := json.Unmarshal([]byte(star.String), &scores); err != nil {
				return nil, fmt.Errorf("decoding star scores: %w", err)
			}
			p.STARScores = &scores
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
