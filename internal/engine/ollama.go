package engine

import (
	"context"

	"github.com/kalambet/dailymatch/internal/ollama"
)

// OllamaEngine adapts the internal/ollama.Client to the Engine interface.
type OllamaEngine struct {
	client *ollama.Client
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL)}
}

func (e *OllamaEngine) Name() string { return ProviderOllama }

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error) {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}
	return e.client.Chat(ctx, model, msgs, toOllamaSchema(schema))
}

func toOllamaSchema(s *Schema) *ollama.Schema {
	if s == nil {
		return nil
	}
	out := &ollama.Schema{
		Type:        s.Type,
		Description: s.Description,
		Items:       toOllamaSchema(s.Items),
		Required:    s.Required,
		Enum:        s.Enum,
		Minimum:     s.Minimum,
		Maximum:     s.Maximum,
	}
	if s.Properties != nil {
		out.Properties = make(map[string]*ollama.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = toOllamaSchema(v)
		}
	}
	return out
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	return e.client.ListModels(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}
