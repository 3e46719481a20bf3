package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/dossier/internal/core"
)

type GeminiLLM struct {
	client *genai.Client
}

func NewGeminiLLM(ctx context.Context, apiKey string) (*GeminiLLM, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GeminiLLM{client: cl}, nil
}

func (g *GeminiLLM) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiLLM) Generate(ctx context.Context, model, prompt string) (string, error) {
	m := g.client.GenerativeModel(model)

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("%w: gemini generate: %v", core.ErrGeneration, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

// IsAvailable reports whether the model can be described with the configured key.
func (g *GeminiLLM) IsAvailable(ctx context.Context, model string) bool {
	_, err := g.client.GenerativeModel(model).Info(ctx)
	return err == nil
}

var _ core.LLMProvider = (*GeminiLLM)(nil)
