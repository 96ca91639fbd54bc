package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultModel is used when GEMINI_MODEL is unset.
const DefaultModel = "gemini-1.5-flash"

var _ Completer = (*GeminiCompleter)(nil)

// GeminiCompleter implements Completer with the Gemini API.
type GeminiCompleter struct {
	client *genai.Client
	model  string
}

func NewGeminiCompleter(ctx context.Context, apiKey, model string) (*GeminiCompleter, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("llm: creating gemini client: %w", err)
	}
	return &GeminiCompleter{client: client, model: model}, nil
}

func (g *GeminiCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	m := g.client.GenerativeModel(g.model)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	m.ResponseMIMEType = "application/json"
	m.SetTemperature(0.4)

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("llm: gemini generate: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("llm: gemini returned no candidates")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

func (g *GeminiCompleter) Close() error {
	return g.client.Close()
}
