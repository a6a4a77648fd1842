// Package engine abstracts the language-model backends the matcher can ask
// for structured JSON: a local Ollama server, OpenRouter, or Gemini.
package engine

import "context"

// Engine is a chat backend. Consumers such as the clustering oracle use this
// interface instead of depending on a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's
	// response. When schema is non-nil, JSON matching it is requested.
	Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool

	// Name identifies the backend in logs and status output.
	Name() string
}

// ModelManager is implemented by backends that host models locally and can
// download missing ones.
type ModelManager interface {
	ListModels(ctx context.Context) ([]string, error)
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
