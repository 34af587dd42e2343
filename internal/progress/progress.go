// Package progress summarises how a candidate's answers to one question
// change across attempts.
package progress

import "github.com/kalambet/starcoach/internal/storage"

// Trend is the direction of a question's scores over time.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendSteady    Trend = "steady"
	TrendDeclining Trend = "declining"
)

// trendMargin is how far the latest average must move from the first before
// the trend leaves steady.
const trendMargin = 0.3

// Report is the progress of one question.
type Report struct {
	QuestionID   int64                   `json:"question_id"`
	QuestionText string                  `json:"question_text"`
	Trend        Trend                   `json:"trend"`
	DataPoints   []storage.ProgressPoint `json:"data_points"`
}

// Build assembles the report for q from its attempts in attempt order.
func Build(q storage.Question, points []storage.ProgressPoint) Report {
	if points == nil {
		points = []storage.ProgressPoint{}
	}
	return Report{
		QuestionID:   q.ID,
		QuestionText: q.QuestionText,
		Trend:        TrendOf(points),
		DataPoints:   points,
	}
}

// TrendOf compares the first and last scored attempts. An attempt is scored
// when it has a clarity score; fewer than two scored attempts is steady.
func TrendOf(points []storage.ProgressPoint) Trend {
	var scored []storage.ProgressPoint
	for _, p := range points {
		if p.ClarityScore != nil {
			scored = append(scored, p)
		}
	}
	if len(scored) < 2 {
		return TrendSteady
	}

	first, last := average(scored[0]), average(scored[len(scored)-1])
	switch {
	case last > first+trendMargin:
		return TrendImproving
	case last < first-trendMargin:
		return TrendDeclining
	default:
		return TrendSteady
	}
}

func average(p storage.ProgressPoint) float64 {
	var sum, n int
	for _, s := range []*int{p.ClarityScore, p.ConfidenceScore, p.StructureScore} {
		if s != nil {
			sum += *s
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}
