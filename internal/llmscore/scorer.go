// Package llmscore grades interview answers for clarity, confidence and
// structure with a language model.
package llmscore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/starcoach/internal/engine"
	"github.com/kalambet/starcoach/internal/pipeline"
	"github.com/kalambet/starcoach/internal/storage"
)

// markerPrefix introduces the scores line in free-form replies.
const markerPrefix = "ANALYTICS_JSON:"

// Chatter is the subset of engine.Engine the scorer needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, schema *engine.Schema) (string, error)
}

// Scorer implements pipeline.LLMScorer.
type Scorer struct {
	chat  Chatter
	model string
}

// New creates a Scorer that asks model through chat.
func New(chat Chatter, model string) *Scorer {
	return &Scorer{chat: chat, model: model}
}

type reply struct {
	ClarityScore            *int    `json:"clarity_score"`
	ClarityJustification    *string `json:"clarity_justification"`
	ConfidenceScore         *int    `json:"confidence_score"`
	ConfidenceJustification *string `json:"confidence_justification"`
	StructureScore          *int    `json:"structure_score"`
	StructureJustification  *string `json:"structure_justification"`
}

// Score returns the model's scores for transcript. Every failure wraps
// pipeline.ErrAnalyticsUnavailable.
func (s *Scorer) Score(ctx context.Context, transcript string) (storage.LLMScores, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return storage.LLMScores{}, fmt.Errorf("%w: empty transcript", pipeline.ErrAnalyticsUnavailable)
	}

	raw, err := s.chat.Chat(ctx, s.model, buildMessages(transcript), scoreSchema())
	if err != nil {
		return storage.LLMScores{}, fmt.Errorf("%w: %w", pipeline.ErrAnalyticsUnavailable, err)
	}

	r, err := parseReply(raw)
	if err != nil {
		return storage.LLMScores{}, fmt.Errorf("%w: %w", pipeline.ErrAnalyticsUnavailable, err)
	}
	return r.validate()
}

// parseReply reads the scores from the last ANALYTICS_JSON line when the
// model used that format, otherwise from the reply as a whole.
func parseReply(raw string) (reply, error) {
	var r reply
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		_, after, found := strings.Cut(lines[i], markerPrefix)
		if !found {
			continue
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(after)), &r); err != nil {
			return reply{}, fmt.Errorf("decoding %s line: %w", markerPrefix, err)
		}
		return r, nil
	}
	if err := engine.DecodeJSON(raw, &r); err != nil {
		return reply{}, fmt.Errorf("decoding scores: %w", err)
	}
	return r, nil
}

func (r reply) validate() (storage.LLMScores, error) {
	checks := []struct {
		name  string
		score *int
		why   *string
	}{
		{"clarity", r.ClarityScore, r.ClarityJustification},
		{"confidence", r.ConfidenceScore, r.ConfidenceJustification},
		{"structure", r.StructureScore, r.StructureJustification},
	}
	for _, c := range checks {
		if c.score == nil {
			return storage.LLMScores{}, fmt.Errorf("%w: missing %s_score", pipeline.ErrAnalyticsUnavailable, c.name)
		}
		if *c.score < 1 || *c.score > 5 {
			return storage.LLMScores{}, fmt.Errorf("%w: %s_score %d outside 1-5", pipeline.ErrAnalyticsUnavailable, c.name, *c.score)
		}
		if c.why == nil || strings.TrimSpace(*c.why) == "" {
			return storage.LLMScores{}, fmt.Errorf("%w: missing %s_justification", pipeline.ErrAnalyticsUnavailable, c.name)
		}
	}
	return storage.LLMScores{
		ClarityScore:            *r.ClarityScore,
		ClarityJustification:    strings.TrimSpace(*r.ClarityJustification),
		ConfidenceScore:         *r.ConfidenceScore,
		ConfidenceJustification: strings.TrimSpace(*r.ConfidenceJustification),
		StructureScore:          *r.StructureScore,
		StructureJustification:  strings.TrimSpace(*r.StructureJustification),
	}, nil
}
