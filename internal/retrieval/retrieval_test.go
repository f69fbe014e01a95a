package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/nidhogg/digitwin/internal/vectorstore"
	"go.uber.org/zap"
)

type fakeEmbedder struct {
	err error
}

func (f fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (fakeEmbedder) Dimension() int { return 3 }

type fakeIndex struct {
	hits    map[string][]vectorstore.Hit
	failing map[string]bool
	upserts map[string]map[string]string
	deleted []string
	ensured []string
	lastQ   vectorstore.Query
}

func (f *fakeIndex) EnsureCollection(_ context.Context, name string, _ uint64) error {
	f.ensured = append(f.ensured, name)
	return nil
}

func (f *fakeIndex) Upsert(_ context.Context, collection string, points ...vectorstore.Point) error {
	if f.upserts == nil {
		f.upserts = make(map[string]map[string]string)
	}
	for _, p := range points {
		f.upserts[collection+"/"+p.ID] = p.Payload
	}
	return nil
}

func (f *fakeIndex) Delete(_ context.Context, collection string, ids ...string) error {
	for _, id := range ids {
		f.deleted = append(f.deleted, collection+"/"+id)
	}
	return nil
}

func (f *fakeIndex) Search(_ context.Context, collection string, q vectorstore.Query) ([]vectorstore.Hit, error) {
	f.lastQ = q
	if f.failing[collection] {
		return nil, errors.New("collection offline")
	}
	return f.hits[collection], nil
}

func TestStaticContextWithoutBackend(t *testing.T) {
	g := NewGatherer(nil, nil, nil, zap.NewNop())
	got, err := g.GatherContext(context.Background(), "What is Earl's background?", 4)
	if err != nil {
		t.Fatal(err)
	}
	if got["relevant_info"] != "Context for: What is Earl's background?" || got["depth_level"] != 4 {
		t.Errorf("payload = %v", got)
	}
	if src, _ := got["sources"].([]string); len(src) != 3 || src[2] != "knowledge_base" {
		t.Errorf("sources = %v", got["sources"])
	}
	if _, err := g.Index(context.Background(), CollProfile, "x", nil); !errors.Is(err, ErrNoIndex) {
		t.Errorf("index err = %v", err)
	}
	if err := g.Forget(context.Background(), CollProfile, "x"); !errors.Is(err, ErrNoIndex) {
		t.Errorf("forget err = %v", err)
	}
}

func TestGatherMergesCollectionsByScore(t *testing.T) {
	idx := &fakeIndex{
		hits: map[string][]vectorstore.Hit{
			CollProfile: {
				{ID: "p1", Score: 0.4, Payload: map[string]string{"content": "Earl lives in Manila"}},
			},
			CollKnowledgeBase: {
				{ID: "k1", Score: 0.9, Payload: map[string]string{"content": "Earl writes Go"}},
				{ID: "k2", Score: 0.1, Payload: map[string]string{"content": "unrelated"}},
			},
		},
		failing: map[string]bool{},
	}
	g := NewGatherer(fakeEmbedder{}, idx, nil, zap.NewNop())
	g.SetMinScore(0.05)

	got, err := g.GatherContext(context.Background(), "background", 2)
	if err != nil {
		t.Fatal(err)
	}
	if idx.lastQ.Limit != 2 || idx.lastQ.MinScore != 0.05 || len(idx.lastQ.Vector) != 3 {
		t.Errorf("query = %+v, want depth 2 and threshold 0.05", idx.lastQ)
	}
	passages := got["passages"].([]Passage)
	if len(passages) != 2 || passages[0].Source != "knowledge_base:k1" || passages[1].Source != "profile:p1" {
		t.Errorf("passages = %+v", passages)
	}
	if got["relevant_info"] != "Earl writes Go\n\nEarl lives in Manila" {
		t.Errorf("relevant_info = %q", got["relevant_info"])
	}
}

func TestGatherSkipsFailingCollection(t *testing.T) {
	idx := &fakeIndex{
		hits: map[string][]vectorstore.Hit{
			CollKnowledgeBase: {{ID: "k1", Score: 0.5, Payload: map[string]string{"content": "ok"}}},
		},
		failing: map[string]bool{CollProfile: true},
	}
	g := NewGatherer(fakeEmbedder{}, idx, nil, zap.NewNop())
	got, err := g.GatherContext(context.Background(), "q", 3)
	if err != nil {
		t.Fatal(err)
	}
	if got["relevant_info"] != "ok" {
		t.Errorf("payload = %v", got)
	}
}

func TestGatherFallsBackWhenNothingFound(t *testing.T) {
	g := NewGatherer(fakeEmbedder{}, &fakeIndex{}, nil, zap.NewNop())
	got, err := g.GatherContext(context.Background(), "q", 1)
	if err != nil {
		t.Fatal(err)
	}
	if got["relevant_info"] != "Context for: q" {
		t.Errorf("payload = %v", got)
	}
}

func TestGatherEmbedFailure(t *testing.T) {
	boom := errors.New("embedding service down")
	g := NewGatherer(fakeEmbedder{err: boom}, &fakeIndex{}, nil, zap.NewNop())
	if _, err := g.GatherContext(context.Background(), "q", 1); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestIndexAndInitCollections(t *testing.T) {
	idx := &fakeIndex{}
	g := NewGatherer(fakeEmbedder{}, idx, []string{"notes"}, zap.NewNop())
	if err := g.InitCollections(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(idx.ensured) != 1 || idx.ensured[0] != "notes" {
		t.Errorf("ensured = %v", idx.ensured)
	}

	id, err := g.Index(context.Background(), "notes", "Earl likes hiking", map[string]string{"kind": "hobby"})
	if err != nil {
		t.Fatal(err)
	}
	payload := idx.upserts["notes/"+id]
	if payload["content"] != "Earl likes hiking" || payload["kind"] != "hobby" || payload["indexed_at"] == "" {
		t.Errorf("payload = %v", payload)
	}

	if err := g.Forget(context.Background(), "notes", id); err != nil {
		t.Fatal(err)
	}
	if len(idx.deleted) != 1 || idx.deleted[0] != "notes/"+id {
		t.Errorf("deleted = %v", idx.deleted)
	}
}
