// Package coach produces narrative STAR coaching feedback for an answer.
package coach

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/starcoach/internal/engine"
	"github.com/kalambet/starcoach/internal/pipeline"
	"github.com/kalambet/starcoach/internal/storage"
)

// Chatter is the subset of engine.Engine the advisor needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, schema *engine.Schema) (string, error)
}

// Advisor implements pipeline.Advisor.
type Advisor struct {
	chat  Chatter
	model string
}

// New creates an Advisor that asks model through chat.
func New(chat Chatter, model string) *Advisor {
	return &Advisor{chat: chat, model: model}
}

type reply struct {
	FeedbackText string `json:"feedback_text"`
	STARScores   *struct {
		Situation *int `json:"situation"`
		Task      *int `json:"task"`
		Action    *int `json:"action"`
		Result    *int `json:"result"`
	} `json:"star_scores"`
}

// Advise returns coaching feedback on transcript as an answer to question.
// Every failure wraps pipeline.ErrAdviceUnavailable.
func (a *Advisor) Advise(ctx context.Context, question, transcript string) (pipeline.Advice, error) {
	raw, err := a.chat.Chat(ctx, a.model, buildMessages(question, transcript), feedbackSchema())
	if err != nil {
		return pipeline.Advice{}, fmt.Errorf("%w: %w", pipeline.ErrAdviceUnavailable, err)
	}
	if strings.TrimSpace(raw) == "" {
		return pipeline.Advice{}, fmt.Errorf("%w: empty response", pipeline.ErrAdviceUnavailable)
	}

	var r reply
	if err := engine.DecodeJSON(raw, &r); err != nil {
		return pipeline.Advice{}, fmt.Errorf("%w: %w", pipeline.ErrAdviceUnavailable, err)
	}
	return r.validate()
}

func (r reply) validate() (pipeline.Advice, error) {
	narrative := strings.TrimSpace(r.FeedbackText)
	if narrative == "" {
		return pipeline.Advice{}, fmt.Errorf("%w: empty feedback_text", pipeline.ErrAdviceUnavailable)
	}
	if r.STARScores == nil {
		return pipeline.Advice{}, fmt.Errorf("%w: missing star_scores", pipeline.ErrAdviceUnavailable)
	}

	s := r.STARScores
	components := []struct {
		name  string
		score *int
	}{
		{"situation", s.Situation},
		{"task", s.Task},
		{"action", s.Action},
		{"result", s.Result},
	}
	for _, c := range components {
		if c.score == nil {
			return pipeline.Advice{}, fmt.Errorf("%w: missing star_scores.%s", pipeline.ErrAdviceUnavailable, c.name)
		}
		if *c.score < 1 || *c.score > 5 {
			return pipeline.Advice{}, fmt.Errorf("%w: star_scores.%s %d outside 1-5", pipeline.ErrAdviceUnavailable, c.name, *c.score)
		}
	}

	return pipeline.Advice{
		Narrative: narrative,
		STAR: &storage.STARScores{
			Situation: *s.Situation,
			Task:      *s.Task,
			Action:    *s.Action,
			Result:    *s.Result,
		},
	}, nil
}
