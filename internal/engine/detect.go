package engine

import (
	"context"
	"fmt"
)

// Provider names accepted by New.
const (
	ProviderOllama     = "ollama"
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

// Options selects and configures a backend.
type Options struct {
	Provider          string
	Model             string
	OllamaBaseURL     string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	GeminiAPIKey      string
}

// New builds the Engine named by opts.Provider.
func New(ctx context.Context, opts Options) (Engine, error) {
	switch opts.Provider {
	case ProviderOllama, "":
		return NewOllamaEngine(opts.OllamaBaseURL), nil
	case ProviderOpenRouter:
		if opts.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("openrouter provider requires an API key")
		}
		return NewOpenRouterEngine(opts.OpenRouterAPIKey, opts.OpenRouterBaseURL), nil
	case ProviderGemini:
		return NewGeminiEngine(ctx, opts.GeminiAPIKey, opts.Model)
	default:
		return nil, fmt.Errorf("unknown engine provider %q", opts.Provider)
	}
}
