package embedding

import (
	"context"
	"fmt"
	"net/http"
)

// LocalProvider embeds text through an Ollama-compatible endpoint. The
// endpoint takes one prompt per request.
type LocalProvider struct {
	url    string
	model  string
	client *http.Client
	dims   dims
}

// NewLocalProvider creates a LocalProvider from cfg.
func NewLocalProvider(cfg Config) *LocalProvider {
	return &LocalProvider{
		url:    cfg.Endpoint + "/api/embeddings",
		model:  cfg.Model,
		client: httpClient(cfg),
		dims:   dims{configured: cfg.Dimension},
	}
}

type localRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type localResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns one vector per text, stopping at the first failure.
func (p *LocalProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i, text := range texts {
		var resp localResponse
		if err := postJSON(ctx, p.client, p.url, "", localRequest{Model: p.model, Prompt: text}, &resp); err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		if len(resp.Embedding) == 0 {
			return nil, fmt.Errorf("embedding: empty vector for input %d", i)
		}
		p.dims.observe(resp.Embedding)
		out = append(out, resp.Embedding)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// Dimension returns the observed vector size, or the configured one.
func (p *LocalProvider) Dimension() int { return p.dims.get() }
