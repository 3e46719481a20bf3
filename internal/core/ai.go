package core

import "context"

type EmbeddingProvider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// LLMProvider generates a complete, non-streamed answer for a prompt.
type LLMProvider interface {
	Generate(ctx context.Context, model string, prompt string) (string, error)
	IsAvailable(ctx context.Context, model string) bool
}
