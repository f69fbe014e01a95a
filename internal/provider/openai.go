package provider

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

const (
	groqEndpoint = "https://api.groq.com/openai/v1"
	groqModel    = "llama-3.1-8b-instant"
)

// OpenAIProvider talks to OpenAI-compatible chat APIs. Groq is the default
// endpoint.
type OpenAIProvider struct {
	config Config
	http   transport
	logger *zap.Logger
}

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(cfg Config, logger *zap.Logger) *OpenAIProvider {
	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	return &OpenAIProvider{
		config: cfg,
		http:   newTransport(cfg, groqEndpoint, header),
		logger: logger,
	}
}

func (p *OpenAIProvider) ID() string   { return p.config.ID }
func (p *OpenAIProvider) Name() string { return p.config.Name }

type openAIChatResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   Usage          `json:"usage"`
}

type openAIChoice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Chat sends a non-streaming chat completion. An empty model resolves to the
// first configured model.
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	out := *req
	out.Model = p.config.model(req.Model, groqModel)

	var resp openAIChatResponse
	if err := p.http.do(ctx, http.MethodPost, "/chat/completions", &out, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: %s returned no choices", ErrUpstream, p.config.ID)
	}
	p.logger.Debug("chat completed",
		zap.String("provider", p.config.ID),
		zap.String("model", resp.Model),
		zap.Int("total_tokens", resp.Usage.TotalTokens))

	choice := resp.Choices[0]
	return &ChatResponse{
		ID:           resp.ID,
		Model:        resp.Model,
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage:        resp.Usage,
	}, nil
}

// HealthCheck lists models, which needs a valid key but no tokens.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	return p.http.do(ctx, http.MethodGet, "/models", nil, nil)
}
