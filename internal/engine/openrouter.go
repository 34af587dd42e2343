package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/starcoach/internal/proxy"
)

// ErrPullUnsupported is returned by engines whose models cannot be downloaded.
var ErrPullUnsupported = errors.New("model pull not supported by this backend")

// OpenRouterEngine adapts the internal/proxy.Client to the Engine interface.
type OpenRouterEngine struct {
	client *proxy.Client
	apiKey string
}

// NewOpenRouterEngine creates an engine for the OpenRouter API. An empty
// baseURL selects the public endpoint.
func NewOpenRouterEngine(apiKey, baseURL string) *OpenRouterEngine {
	c := proxy.NewClient(apiKey)
	if baseURL != "" {
		c = proxy.NewClientWithBaseURL(apiKey, baseURL)
	}
	return &OpenRouterEngine{client: c, apiKey: apiKey}
}

// Chat requests a json_object reply when schema is set. OpenRouter does not
// accept the schema itself for every model, so it is appended to the
// instructions as a system message.
func (e *OpenRouterEngine) Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error) {
	msgs := make([]proxy.Message, 0, len(messages)+1)
	for _, m := range messages {
		msgs = append(msgs, proxy.Message{Role: m.Role, Content: m.Content})
	}

	req := proxy.CompletionRequest{Model: model}
	if schema != nil {
		b, err := json.Marshal(schema)
		if err != nil {
			return "", fmt.Errorf("encoding schema: %w", err)
		}
		msgs = append(msgs, proxy.Message{
			Role:    "system",
			Content: "Respond with a single JSON object matching this JSON schema:\n" + string(b),
		})
		t := structuredTemperature
		req.Temperature = &t
		req.ResponseFormat = &proxy.ResponseFormat{Type: "json_object"}
	}
	req.Messages = msgs
	return e.client.Complete(ctx, req)
}

func (e *OpenRouterEngine) IsRunning(ctx context.Context) bool {
	if e.apiKey == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.client.ListModels(ctx)
	return err == nil
}

func (e *OpenRouterEngine) ListModels(ctx context.Context) ([]string, error) {
	models, err := e.client.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(models))
	for i, m := range models {
		names[i] = m.ID
	}
	return names, nil
}

func (e *OpenRouterEngine) HasModel(ctx context.Context, name string) bool {
	names, err := e.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func (e *OpenRouterEngine) PullModel(_ context.Context, name string, _ func(PullProgress)) error {
	return fmt.Errorf("openrouter model %s: %w", name, ErrPullUnsupported)
}
