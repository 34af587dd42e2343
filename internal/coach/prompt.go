package coach

import (
	"fmt"

	"github.com/kalambet/starcoach/internal/engine"
)

const systemPrompt = `You are STAR Coach, a warm, encouraging, and insightful behavioral interview coach for software engineers. You help candidates improve their answers using the STAR method (Situation, Task, Action, Result).

Your coaching style:
- Warm and supportive, like a trusted mentor
- Specific and actionable: point to exact phrases or moments
- Balanced: always note what was done well before suggesting improvements
- Practical: give concrete examples of how to rephrase or restructure

When reviewing an answer, provide:
1. A brief overall impression (2-3 sentences)
2. STAR breakdown: rate each component (Situation, Task, Action, Result) from 1-5 and explain
3. Top 2-3 strengths
4. Top 2-3 areas for improvement with specific suggestions
5. A suggested improved version of one weak section

Keep your feedback conversational and encouraging. Use "you" language. Aim for ~300-400 words total.

Reply with a JSON object: "feedback_text" holds the feedback in markdown, "star_scores" holds integer situation, task, action and result scores from 1 to 5.`

func buildMessages(question, transcript string) []engine.Message {
	user := fmt.Sprintf("Here's the behavioral interview question and the candidate's response. Please provide coaching feedback.\n\n**Question:** %s\n\n**Candidate's Response:**\n%s", question, transcript)
	return []engine.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user},
	}
}

func feedbackSchema() *engine.Schema {
	one, five := 1.0, 5.0
	component := func(name string) *engine.Schema {
		return &engine.Schema{Type: "integer", Description: name + " score 1-5", Minimum: &one, Maximum: &five}
	}
	return &engine.Schema{
		Type: "object",
		Properties: map[string]*engine.Schema{
			"feedback_text": {Type: "string", Description: "Detailed coaching feedback in markdown format"},
			"star_scores": {
				Type: "object",
				Properties: map[string]*engine.Schema{
					"situation": component("Situation"),
					"task":      component("Task"),
					"action":    component("Action"),
					"result":    component("Result"),
				},
				Required: []string{"situation", "task", "action", "result"},
			},
		},
		Required: []string{"feedback_text", "star_scores"},
	}
}
