package chroma

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/chirino/chat-memory/internal/config"
	"github.com/chirino/chat-memory/internal/plugin/embed/cached"
	registryembed "github.com/chirino/chat-memory/internal/registry/embed"
	registrymemory "github.com/chirino/chat-memory/internal/registry/memory"
	chromem "github.com/philippgille/chromem-go"
)

func init() {
	registrymemory.Register(registrymemory.Plugin{
		Name:   "chroma",
		Loader: load,
	})
}

func load(ctx context.Context) (registrymemory.MemoryStore, error) {
	cfg := config.FromContext(ctx)
	embedder, err := cached.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("chroma memory: %w", err)
	}
	if cfg == nil || cfg.ChromaPath == "" {
		return New(chromem.NewDB(), embedder), nil
	}
	db, err := chromem.NewPersistentDB(cfg.ChromaPath, cfg.ChromaCompress)
	if err != nil {
		return nil, fmt.Errorf("chroma memory: open %s: %w", cfg.ChromaPath, err)
	}
	return New(db, embedder), nil
}

// ChromaStore keeps one chromem collection per index. Every document carries
// the embedding computed by the configured embedder.
type ChromaStore struct {
	db       *chromem.DB
	embedder registryembed.Embedder
}

// New wraps an open chromem database.
func New(db *chromem.DB, embedder registryembed.Embedder) *ChromaStore {
	return &ChromaStore{db: db, embedder: embedder}
}

func (s *ChromaStore) Name() string { return "chroma" }

func (s *ChromaStore) embedFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedOne(ctx, text)
	}
}

func (s *ChromaStore) embedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.embedder.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *ChromaStore) Put(ctx context.Context, index, key, text string) error {
	col, err := s.db.GetOrCreateCollection(index, nil, s.embedFunc())
	if err != nil {
		return fmt.Errorf("chroma memory: collection %s: %w", index, err)
	}
	vector, err := s.embedOne(ctx, text)
	if err != nil {
		return fmt.Errorf("chroma memory: embed: %w", err)
	}
	doc := chromem.Document{ID: key, Content: text, Embedding: vector}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("chroma memory: put: %w", err)
	}
	return nil
}

func (s *ChromaStore) Get(ctx context.Context, index, key string) (*registrymemory.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	col := s.db.GetCollection(index, s.embedFunc())
	if col == nil {
		return nil, nil
	}
	doc, err := col.GetByID(ctx, key)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil, nil
		}
		return nil, fmt.Errorf("chroma memory: get: %w", err)
	}
	return &registrymemory.Record{Index: index, Key: doc.ID, Text: doc.Content, Relevance: 1}, nil
}

// Search queries the collection by embedding. chromem has no listing API, so
// the wildcard query fetches every document and orders them by key; wildcard
// hits carry relevance 1 like a plain scan.
func (s *ChromaStore) Search(ctx context.Context, index, query string, limit int, minScore float64) iter.Seq2[registrymemory.Record, error] {
	wildcard := registrymemory.IsWildcard(query)
	return func(yield func(registrymemory.Record, error) bool) {
		if wildcard && minScore > 1 {
			return
		}
		col := s.db.GetCollection(index, s.embedFunc())
		if col == nil {
			return
		}
		n := col.Count()
		if n == 0 {
			return
		}
		if !wildcard && limit > 0 && limit < n {
			n = limit
		}
		if wildcard {
			query = registrymemory.Wildcard
		}
		vector, err := s.embedOne(ctx, query)
		if err != nil {
			yield(registrymemory.Record{}, fmt.Errorf("chroma memory: embed: %w", err))
			return
		}
		results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
		if err != nil {
			yield(registrymemory.Record{}, fmt.Errorf("chroma memory: query: %w", err))
			return
		}
		if wildcard {
			slices.SortFunc(results, func(a, b chromem.Result) int { return strings.Compare(a.ID, b.ID) })
		}
		emitted := 0
		for _, r := range results {
			rec := registrymemory.Record{Index: index, Key: r.ID, Text: r.Content, Relevance: 1}
			if !wildcard {
				rec.Relevance = float64(r.Similarity)
				if rec.Relevance < minScore {
					continue
				}
			}
			if !yield(rec, nil) {
				return
			}
			emitted++
			if limit > 0 && emitted >= limit {
				return
			}
		}
	}
}

var _ registrymemory.MemoryStore = (*ChromaStore)(nil)
