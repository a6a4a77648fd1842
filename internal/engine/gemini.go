package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiEngine sends structured chats to the Gemini API.
type GeminiEngine struct {
	client     *genai.Client
	probeModel string
}

// NewGeminiEngine creates a Gemini-backed engine. probeModel is looked up by
// IsRunning.
func NewGeminiEngine(ctx context.Context, apiKey, probeModel string) (*GeminiEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiEngine{client: client, probeModel: probeModel}, nil
}

func (e *GeminiEngine) Name() string { return ProviderGemini }

func (e *GeminiEngine) Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error) {
	cfg := &genai.GenerateContentConfig{}
	var system []string
	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if schema != nil {
		var zero float32
		cfg.Temperature = &zero
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = toGenaiSchema(schema)
	}

	resp, err := e.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned no text")
	}
	return text, nil
}

func toGenaiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        genaiType(s.Type),
		Description: s.Description,
		Items:       toGenaiSchema(s.Items),
		Required:    s.Required,
		Enum:        s.Enum,
		Minimum:     s.Minimum,
		Maximum:     s.Maximum,
	}
	if s.Properties != nil {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = toGenaiSchema(v)
		}
	}
	return out
}

func genaiType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

// IsRunning reports whether the probe model can be resolved with the
// configured key.
func (e *GeminiEngine) IsRunning(ctx context.Context) bool {
	if e.probeModel == "" {
		return true
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.client.Models.Get(ctx, e.probeModel, nil)
	return err == nil
}
