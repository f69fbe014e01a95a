// Package retrieval gathers question context from vector collections.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/digitwin/internal/embedding"
	"github.com/nidhogg/digitwin/internal/vectorstore"
	"go.uber.org/zap"
)

const (
	CollProfile       = "profile"
	CollKnowledgeBase = "knowledge_base"
)

// ErrNoIndex is returned by Index when no vector backend is configured.
var ErrNoIndex = errors.New("no vector index configured")

// StaticSources are reported when context is not backed by a vector index.
var StaticSources = []string{"profile", "memory", "knowledge_base"}

// Index is the subset of the vector store used for retrieval.
type Index interface {
	EnsureCollection(ctx context.Context, name string, dimension uint64) error
	Upsert(ctx context.Context, collection string, points ...vectorstore.Point) error
	Search(ctx context.Context, collection string, q vectorstore.Query) ([]vectorstore.Hit, error)
	Delete(ctx context.Context, collection string, ids ...string) error
}

// Passage is one retrieved snippet.
type Passage struct {
	Content string  `json:"content"`
	Source  string  `json:"source"`
	Score   float32 `json:"score"`
}

// Gatherer embeds questions and searches the configured collections. Without
// an embedder or index it returns a static context payload.
type Gatherer struct {
	embedder    embedding.Embedder
	index       Index
	collections []string
	minScore    float32
	logger      *zap.Logger
}

// NewGatherer creates a gatherer. embedder and index may both be nil.
func NewGatherer(embedder embedding.Embedder, index Index, collections []string, logger *zap.Logger) *Gatherer {
	if len(collections) == 0 {
		collections = []string{CollProfile, CollKnowledgeBase}
	}
	return &Gatherer{embedder: embedder, index: index, collections: collections, logger: logger}
}

// SetMinScore drops hits scoring below v. Zero keeps every hit.
func (g *Gatherer) SetMinScore(v float32) {
	g.minScore = v
}

// Enabled reports whether a vector backend is wired.
func (g *Gatherer) Enabled() bool {
	return g.embedder != nil && g.index != nil
}

// InitCollections ensures every configured collection exists.
func (g *Gatherer) InitCollections(ctx context.Context) error {
	if !g.Enabled() {
		return nil
	}
	dim := uint64(g.embedder.Dimension())
	if dim == 0 {
		dim = 1024
	}
	for _, name := range g.collections {
		if err := g.index.EnsureCollection(ctx, name, dim); err != nil {
			return fmt.Errorf("init collection %s: %w", name, err)
		}
	}
	return nil
}

// GatherContext implements the reasoning engine's context collaborator.
func (g *Gatherer) GatherContext(ctx context.Context, question string, depth int) (map[string]any, error) {
	if !g.Enabled() {
		return staticContext(question, depth), nil
	}
	passages, err := g.Search(ctx, question, depth)
	if err != nil {
		return nil, err
	}
	if len(passages) == 0 {
		return staticContext(question, depth), nil
	}

	parts := make([]string, len(passages))
	for i, p := range passages {
		parts[i] = p.Content
	}
	return map[string]any{
		"relevant_info": strings.Join(parts, "\n\n"),
		"depth_level":   depth,
		"sources":       append([]string(nil), g.collections...),
		"passages":      passages,
	}, nil
}

// Search embeds the query and returns the top-K passages across all
// collections sorted by descending score.
func (g *Gatherer) Search(ctx context.Context, query string, topK int) ([]Passage, error) {
	if topK <= 0 {
		topK = 1
	}
	vectors, err := g.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}

	var all []Passage
	for _, coll := range g.collections {
		hits, err := g.index.Search(ctx, coll, vectorstore.Query{
			Vector:   vectors[0],
			Limit:    uint64(topK),
			MinScore: g.minScore,
		})
		if err != nil {
			g.logger.Warn("context search failed", zap.String("collection", coll), zap.Error(err))
			continue
		}
		for _, h := range hits {
			all = append(all, Passage{
				Content: h.Payload["content"],
				Source:  coll + ":" + h.ID,
				Score:   h.Score,
			})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > topK {
		all = all[:topK]
	}
	return all, nil
}

// Index embeds content and stores it in collection. It returns the point id.
func (g *Gatherer) Index(ctx context.Context, collection, content string, metadata map[string]string) (string, error) {
	if !g.Enabled() {
		return "", ErrNoIndex
	}
	vectors, err := g.embedder.Embed(ctx, []string{content})
	if err != nil {
		return "", fmt.Errorf("embed content: %w", err)
	}
	if len(vectors) == 0 {
		return "", fmt.Errorf("empty embedding result")
	}

	id := uuid.New().String()
	payload := make(map[string]string, len(metadata)+2)
	for k, v := range metadata {
		payload[k] = v
	}
	payload["content"] = content
	payload["indexed_at"] = time.Now().UTC().Format(time.RFC3339)

	if err := g.index.Upsert(ctx, collection, vectorstore.Point{ID: id, Vector: vectors[0], Payload: payload}); err != nil {
		return "", err
	}
	g.logger.Debug("passage indexed", zap.String("collection", collection), zap.String("id", id))
	return id, nil
}

// Forget removes a previously indexed passage.
func (g *Gatherer) Forget(ctx context.Context, collection, id string) error {
	if !g.Enabled() {
		return ErrNoIndex
	}
	return g.index.Delete(ctx, collection, id)
}

func staticContext(question string, depth int) map[string]any {
	return map[string]any{
		"relevant_info": "Context for: " + question,
		"depth_level":   depth,
		"sources":       append([]string(nil), StaticSources...),
	}
}
