package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Router manages multiple LLM providers and routes requests by purpose
// (for example "reasoning" or "synthesis").
type Router struct {
	providers map[string]Provider
	bindings  map[string]string   // purpose -> providerID
	fallbacks map[string][]string // purpose -> fallback provider chain
	defaults  string
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		fallbacks: make(map[string][]string),
		logger:    logger,
	}
}

// FromConfigs builds providers from configuration entries. Unknown types are
// skipped with a warning.
func FromConfigs(cfgs []Config, logger *zap.Logger) *Router {
	r := NewRouter(logger)
	for _, c := range cfgs {
		switch c.Type {
		case "openai", "groq", "":
			r.Register(NewOpenAIProvider(c, logger))
		case "anthropic":
			r.Register(NewAnthropicProvider(c, logger))
		default:
			logger.Warn("skipping provider with unknown type", zap.String("id", c.ID), zap.String("type", c.Type))
		}
	}
	return r
}

// Register adds a provider to the router.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// Bind routes a purpose to a specific provider.
func (r *Router) Bind(purpose, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[purpose] = providerID
}

// SetFallbacks configures fallback providers for a purpose. The default
// provider's fallbacks are used when a purpose has none.
func (r *Router) SetFallbacks(purpose string, providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[purpose] = providerIDs
}

// Len reports how many providers are registered.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// Route sends a chat request through the provider bound to purpose, walking
// the fallback chain on failure. A cancelled context stops the walk.
func (r *Router) Route(ctx context.Context, purpose string, req *ChatRequest) (*ChatResponse, error) {
	candidates := r.candidates(purpose)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no provider available for %s", ErrUpstream, purpose)
	}

	var err error
	for i, p := range candidates {
		if i > 0 {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("route %s: %w", purpose, ctxErr)
			}
		}
		var resp *ChatResponse
		resp, err = p.Chat(ctx, req)
		if err == nil {
			if i > 0 {
				r.logger.Info("fallback provider answered", zap.String("purpose", purpose), zap.String("provider", p.ID()))
			}
			return resp, nil
		}
		r.logger.Warn("provider failed",
			zap.String("purpose", purpose), zap.String("provider", p.ID()),
			zap.Int("attempt", i+1), zap.Int("candidates", len(candidates)), zap.Error(err))
	}
	return nil, fmt.Errorf("all providers failed for %s: %w", purpose, err)
}

// candidates lists the primary provider followed by its distinct, registered
// fallbacks. Calls happen outside the lock.
func (r *Router) candidates(purpose string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	primary := r.getProvider(purpose)
	if primary == nil {
		return nil
	}
	chain, ok := r.fallbacks[purpose]
	if !ok {
		chain = r.fallbacks[r.defaults]
	}
	out := []Provider{primary}
	seen := map[string]bool{primary.ID(): true}
	for _, id := range chain {
		p, ok := r.providers[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, p)
	}
	return out
}

func (r *Router) getProvider(purpose string) Provider {
	if pid, ok := r.bindings[purpose]; ok {
		if p, ok := r.providers[pid]; ok {
			return p
		}
	}
	if p, ok := r.providers[r.defaults]; ok {
		return p
	}
	return nil
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// HealthCheck checks every registered provider and reports "ok" or
// "unavailable" per provider id. Failures are logged.
func (r *Router) HealthCheck(ctx context.Context) map[string]string {
	r.mu.RLock()
	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	r.mu.RUnlock()

	out := make(map[string]string, len(providers))
	for _, p := range providers {
		if err := p.HealthCheck(ctx); err != nil {
			r.logger.Warn("provider health check failed", zap.String("provider", p.ID()), zap.Error(err))
			out[p.ID()] = "unavailable"
			continue
		}
		out[p.ID()] = "ok"
	}
	return out
}
