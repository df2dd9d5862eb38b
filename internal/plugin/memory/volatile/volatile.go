package volatile

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/chirino/chat-memory/internal/config"
	"github.com/chirino/chat-memory/internal/plugin/embed/cached"
	registryembed "github.com/chirino/chat-memory/internal/registry/embed"
	registrymemory "github.com/chirino/chat-memory/internal/registry/memory"
)

func init() {
	registrymemory.Register(registrymemory.Plugin{
		Name:   "volatile",
		Loader: load,
	})
}

func load(ctx context.Context) (registrymemory.MemoryStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.EmbedType == "" || cfg.EmbedType == "none" {
		return New(nil), nil
	}
	embedder, err := cached.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("volatile memory: %w", err)
	}
	return New(embedder), nil
}

type entry struct {
	text      string
	embedding []float32
}

// Store keeps memory indices in process memory. It is meant for single-node
// development and tests; nothing survives a restart.
type Store struct {
	mu       sync.RWMutex
	indices  map[string]map[string]entry
	embedder registryembed.Embedder
}

// New creates an empty volatile store. When embedder is nil, non-wildcard
// searches fall back to case-insensitive substring matching.
func New(embedder registryembed.Embedder) *Store {
	return &Store{
		indices:  map[string]map[string]entry{},
		embedder: embedder,
	}
}

func (s *Store) Name() string { return "volatile" }

func (s *Store) Put(ctx context.Context, index, key, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := entry{text: text}
	if s.embedder != nil {
		vectors, err := s.embedder.EmbedTexts(ctx, []string{text})
		if err != nil {
			return err
		}
		e.embedding = vectors[0]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indices[index]
	if !ok {
		idx = map[string]entry{}
		s.indices[index] = idx
	}
	idx[key] = e
	return nil
}

func (s *Store) Get(ctx context.Context, index, key string) (*registrymemory.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.indices[index][key]
	if !ok {
		return nil, nil
	}
	return &registrymemory.Record{Index: index, Key: key, Text: e.text, Relevance: 1}, nil
}

func (s *Store) Search(ctx context.Context, index, query string, limit int, minScore float64) iter.Seq2[registrymemory.Record, error] {
	return func(yield func(registrymemory.Record, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(registrymemory.Record{}, err)
			return
		}

		var queryVec []float32
		wildcard := registrymemory.IsWildcard(query)
		if !wildcard && s.embedder != nil {
			vectors, err := s.embedder.EmbedTexts(ctx, []string{query})
			if err != nil {
				yield(registrymemory.Record{}, err)
				return
			}
			queryVec = vectors[0]
		}

		// Snapshot so yield can call back into the store.
		s.mu.RLock()
		keys := make([]string, 0, len(s.indices[index]))
		for k := range s.indices[index] {
			keys = append(keys, k)
		}
		snapshot := make(map[string]entry, len(keys))
		for _, k := range keys {
			snapshot[k] = s.indices[index][k]
		}
		s.mu.RUnlock()

		var results []registrymemory.Record
		for _, k := range keys {
			e := snapshot[k]
			score := 1.0
			switch {
			case wildcard:
			case queryVec != nil:
				score = registrymemory.CosineSimilarity(queryVec, e.embedding)
			case strings.Contains(strings.ToLower(e.text), strings.ToLower(query)):
			default:
				score = 0
			}
			if score < minScore {
				continue
			}
			results = append(results, registrymemory.Record{Index: index, Key: k, Text: e.text, Relevance: score})
		}

		if wildcard {
			sort.Slice(results, func(i, j int) bool { return results[i].Key < results[j].Key })
		} else {
			slices.SortStableFunc(results, func(a, b registrymemory.Record) int {
				switch {
				case a.Relevance > b.Relevance:
					return -1
				case a.Relevance < b.Relevance:
					return 1
				}
				return strings.Compare(a.Key, b.Key)
			})
		}

		for i, r := range results {
			if limit > 0 && i >= limit {
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

var _ registrymemory.MemoryStore = (*Store)(nil)
