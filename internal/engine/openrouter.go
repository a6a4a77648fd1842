package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/dailymatch/internal/openrouter"
)

// OpenRouterEngine sends structured chats through OpenRouter.
type OpenRouterEngine struct {
	client *openrouter.Client
}

// NewOpenRouterEngine creates an engine for the given API key. An empty
// baseURL uses the public endpoint.
func NewOpenRouterEngine(apiKey, baseURL string) *OpenRouterEngine {
	return &OpenRouterEngine{client: openrouter.NewClientWithBaseURL(apiKey, baseURL)}
}

func (e *OpenRouterEngine) Name() string { return ProviderOpenRouter }

func (e *OpenRouterEngine) Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error) {
	req := openrouter.ChatRequest{
		Model:    model,
		Messages: make([]openrouter.Message, len(messages)),
	}
	for i, m := range messages {
		req.Messages[i] = openrouter.Message{Role: m.Role, Content: m.Content}
	}
	if schema != nil {
		raw, err := json.Marshal(schema)
		if err != nil {
			return "", fmt.Errorf("encoding schema: %w", err)
		}
		zero := 0.0
		req.Temperature = &zero
		req.ResponseFormat = &openrouter.ResponseFormat{
			Type:       "json_schema",
			JSONSchema: &openrouter.JSONSchema{Name: "response", Strict: true, Schema: raw},
		}
	}
	return e.client.Complete(ctx, req)
}

// IsRunning checks that the model list endpoint answers.
func (e *OpenRouterEngine) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.client.ListModels(ctx)
	return err == nil
}
