// Package engine abstracts the chat model backends used to score and coach
// interview answers.
package engine

import "context"

// Engine is a chat completion backend (local Ollama or OpenRouter). Consumers
// such as the LLM scorer and the coach use this interface instead of a
// concrete client.
type Engine interface {
	// Chat sends messages to model and returns the assistant's reply.
	// When schema is non-nil, a single JSON object is requested.
	Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of the models the backend can serve.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model is available.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema describes the JSON object a structured reply must match.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Minimum     *float64           `json:"minimum,omitempty"`
	Maximum     *float64           `json:"maximum,omitempty"`
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string
	Total     int64
	Completed int64
}

// structuredTemperature keeps scoring replies close to deterministic.
const structuredTemperature = 0.2
