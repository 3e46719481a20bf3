package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/markdave123-py/dossier/internal/core"
)

// OllamaClient talks to a local Ollama server for generation and embeddings.
type OllamaClient struct {
	baseURL    string
	embedModel string
	httpClient *http.Client
}

func NewOllamaClient(baseURL, embedModel string) *OllamaClient {
	return &OllamaClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		embedModel: embedModel,
		httpClient: &http.Client{},
	}
}

// Generate asks for the full answer in one response (stream disabled).
func (o *OllamaClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  model,
		"prompt": prompt,
		"stream": false,
	}

	var result struct {
		Response string `json:"response"`
	}
	if err := o.postJSON(ctx, "/api/generate", reqBody, &result); err != nil {
		return "", fmt.Errorf("%w: ollama generate: %v", core.ErrGeneration, err)
	}
	return result.Response, nil
}

// IsAvailable reports whether a pulled model matches the name before its tag.
func (o *OllamaClient) IsAvailable(ctx context.Context, model string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}

	base, _, _ := strings.Cut(model, ":")
	for _, m := range tags.Models {
		if strings.Contains(m.Name, base) {
			return true
		}
	}
	return false
}

// EmbedTexts embeds each text with the configured embedding model.
func (o *OllamaClient) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		var result struct {
			Embedding []float32 `json:"embedding"`
		}
		body := map[string]any{"model": o.embedModel, "prompt": t}
		if err := o.postJSON(ctx, "/api/embeddings", body, &result); err != nil {
			return nil, fmt.Errorf("ollama embed: %w", err)
		}
		if len(result.Embedding) == 0 {
			return nil, fmt.Errorf("ollama embed: empty embedding for model %s", o.embedModel)
		}
		out = append(out, result.Embedding)
	}
	return out, nil
}

func (o *OllamaClient) postJSON(ctx context.Context, path string, in, out any) error {
	jsonData, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

var (
	_ core.LLMProvider       = (*OllamaClient)(nil)
	_ core.EmbeddingProvider = (*OllamaClient)(nil)
)
