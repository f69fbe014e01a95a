package embedding

import (
	"context"
	"fmt"
	"net/http"
)

// APIProvider embeds text through an OpenAI-compatible embeddings API,
// sending at most batchSize inputs per request.
type APIProvider struct {
	url       string
	model     string
	apiKey    string
	batchSize int
	client    *http.Client
	dims      dims
}

// NewAPIProvider creates an APIProvider from cfg.
func NewAPIProvider(cfg Config) *APIProvider {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &APIProvider{
		url:       cfg.Endpoint + "/embeddings",
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		batchSize: batch,
		client:    httpClient(cfg),
		dims:      dims{configured: cfg.Dimension},
	}
}

type apiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type apiEmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type apiResponse struct {
	Data []apiEmbeddingData `json:"data"`
}

// Embed returns one vector per text, in input order.
func (p *APIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.batchSize {
		end := min(start+p.batchSize, len(texts))
		vecs, err := p.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	p.dims.observe(out[0])
	return out, nil
}

// embedBatch places each returned vector by its index field, which the API
// may return out of order.
func (p *APIProvider) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var resp apiResponse
	if err := postJSON(ctx, p.client, p.url, p.apiKey, apiRequest{Model: p.model, Input: batch}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(batch) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d inputs", len(resp.Data), len(batch))
	}
	vecs := make([][]float32, len(batch))
	for i, d := range resp.Data {
		at := d.Index
		if at < 0 || at >= len(vecs) || vecs[at] != nil {
			at = i
		}
		vecs[at] = d.Embedding
	}
	return vecs, nil
}

// Dimension returns the observed vector size, or the configured one before
// the first successful call.
func (p *APIProvider) Dimension() int { return p.dims.get() }
