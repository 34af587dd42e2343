package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// DefaultQuestions is the behavioural question catalog seeded into an empty database.
var DefaultQuestions = []Question{
	{
		Category:     "Conflict",
		QuestionText: "Tell me about a time you had a disagreement with a teammate about a technical decision. How did you handle it?",
		Tips:         "Focus on the specific technical disagreement, how you listened to the other perspective, and how you reached a resolution. Highlight collaboration over winning.",
	},
	{
		Category:     "Learning",
		QuestionText: "Describe a project where you had to learn a new technology quickly. How did you approach it?",
		Tips:         "Describe your learning strategy, resources you used, and how you applied the new knowledge. Show intellectual curiosity and self-direction.",
	},
	{
		Category:     "Failure",
		QuestionText: "Tell me about a time you missed a deadline or a project didn't go as planned. What happened?",
		Tips:         "Be honest about what went wrong. Focus on what you learned and how you prevented similar issues in the future. Show accountability.",
	},
	{
		Category:     "Leadership",
		QuestionText: "Describe a situation where you had to lead a project or initiative. What was the outcome?",
		Tips:         "Highlight how you motivated others, made decisions, and handled obstacles. Quantify the outcome if possible.",
	},
	{
		Category:     "Technical",
		QuestionText: "Tell me about a time you had to debug a particularly challenging production issue.",
		Tips:         "Walk through your debugging process step by step. Highlight tools you used, how you narrowed down the issue, and how you communicated with stakeholders.",
	},
	{
		Category:     "Trade-offs",
		QuestionText: "Describe a situation where you had to make a trade-off between speed and quality.",
		Tips:         "Explain the context and constraints. Show your decision-making framework and how you communicated the trade-off to stakeholders.",
	},
	{
		Category:     "Growth",
		QuestionText: "Tell me about a time you received critical feedback. How did you respond?",
		Tips:         "Show that you can receive feedback gracefully. Describe the specific changes you made as a result. Demonstrate growth mindset.",
	},
	{
		Category:     "Impact",
		QuestionText: "Describe a project you're most proud of. What was your specific contribution?",
		Tips:         "Be specific about YOUR contribution vs. the team's. Quantify impact where possible. Show passion and ownership.",
	},
}

// SeedQuestions inserts qs when the catalog is empty and returns how many rows
// were written. A populated catalog is left untouched.
func (s *Store) SeedQuestions(qs []Question) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning seed transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM questions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting questions: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	for _, q := range qs {
		if _, err := tx.Exec(`INSERT INTO questions (category, question_text, tips) VALUES (?, ?, ?)`,
			q.Category, q.QuestionText, q.Tips); err != nil {
			return 0, fmt.Errorf("inserting question %q: %w", q.Category, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing seed: %w", err)
	}
	return len(qs), nil
}

const questionColumns = `q.id, q.category, q.question_text, q.tips,
	(SELECT COUNT(*) FROM attempts a WHERE a.question_id = q.id)`

func scanQuestion(row scanner) (Question, error) {
	var q Question
	err := row.Scan(&q.ID, &q.Category, &q.QuestionText, &q.Tips, &q.AttemptCount)
	return q, err
}

// ListQuestions returns the catalog in id order with per-question attempt counts.
func (s *Store) ListQuestions() ([]Question, error) {
	rows, err := s.db.Query(`SELECT ` + questionColumns + ` FROM questions q ORDER BY q.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *Store) GetQuestion(id int64) (Question, error) {
	q, err := scanQuestion(s.db.QueryRow(`SELECT `+questionColumns+` FROM questions q WHERE q.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Question{}, ErrNotFound
	}
	return q, err
}
