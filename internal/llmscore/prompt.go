package llmscore

import "github.com/kalambet/starcoach/internal/engine"

const systemPrompt = `You are a speech analytics expert. Evaluate the following interview response transcript and provide scores (1-5) with brief justifications for each metric.

Scoring rubrics:

Clarity (1-5):
1 = Incoherent, very frequent filler words, hard to follow
2 = Unclear phrasing, many filler words, disjointed ideas
3 = Mostly clear but some vague language or filler words
4 = Clear articulation, good vocabulary, minimal filler words
5 = Exceptionally clear, precise vocabulary, logical flow, no filler words

Confidence (1-5):
1 = Pervasive hedging, very tentative, many qualifiers
2 = Frequent hedging ("I think maybe", "sort of"), indirect
3 = Some hedging but generally direct communication
4 = Mostly definitive statements, minimal hedging, good directness
5 = Highly confident, decisive language, authoritative tone

Structure (1-5):
1 = No discernible organization, rambling
2 = Weak structure, missing most STAR components
3 = Some structure, but STAR components incomplete or unclear
4 = Good structure with most STAR components (Situation, Task, Action, Result) present
5 = Excellent STAR framework adherence with clear, distinct components

Reply with a JSON object holding clarity_score, clarity_justification, confidence_score, confidence_justification, structure_score and structure_justification. Scores are integers from 1 to 5; justifications are 1-2 sentences each.`

func buildMessages(transcript string) []engine.Message {
	return []engine.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: "Please analyze this interview response transcript:\n\n" + transcript},
	}
}

func scoreSchema() *engine.Schema {
	one, five := 1.0, 5.0
	score := func(desc string) *engine.Schema {
		return &engine.Schema{Type: "integer", Description: desc, Minimum: &one, Maximum: &five}
	}
	text := func(desc string) *engine.Schema {
		return &engine.Schema{Type: "string", Description: desc}
	}
	return &engine.Schema{
		Type: "object",
		Properties: map[string]*engine.Schema{
			"clarity_score":            score("Clarity score 1-5"),
			"clarity_justification":    text("Why the clarity score was given"),
			"confidence_score":         score("Confidence score 1-5"),
			"confidence_justification": text("Why the confidence score was given"),
			"structure_score":          score("Structure score 1-5"),
			"structure_justification":  text("Why the structure score was given"),
		},
		Required: []string{
			"clarity_score", "clarity_justification",
			"confidence_score", "confidence_justification",
			"structure_score", "structure_justification",
		},
	}
}
