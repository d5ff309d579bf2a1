package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// generateAPI is the slice of the GenAI models service used here.
type generateAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini invokes a Google Gemini model.
type Gemini struct {
	models generateAPI
	model  string
}

// NewGemini creates a Gemini API client.
func NewGemini(ctx context.Context, cfg Config) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create gemini client: %w", err)
	}
	return newGeminiWithModels(client.Models, cfg.Model), nil
}

func newGeminiWithModels(models generateAPI, model string) *Gemini {
	if model == "" {
		model = defaultGeminiModel
	}
	return &Gemini{models: models, model: model}
}

// Invoke implements Invoker.
func (g *Gemini) Invoke(ctx context.Context, req Request) (string, error) {
	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	resp, err := g.models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("llm: gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("llm: gemini: %w", ErrEmptyResponse)
	}
	return text, nil
}
