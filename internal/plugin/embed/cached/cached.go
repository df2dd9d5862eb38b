// Package cached loads the configured embedder and optionally fronts it with
// an in-process ristretto cache keyed by model and text.
package cached

import (
	"context"
	"fmt"

	"github.com/chirino/chat-memory/internal/config"
	"github.com/chirino/chat-memory/internal/metrics"
	registryembed "github.com/chirino/chat-memory/internal/registry/embed"
	"github.com/dgraph-io/ristretto/v2"
)

// Load selects the embedder named by config and wraps it with a cache when
// EmbedCacheSize is positive.
func Load(ctx context.Context) (registryembed.Embedder, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("embedder: missing config in context")
	}
	loader, err := registryembed.Select(cfg.EmbedType)
	if err != nil {
		return nil, err
	}
	embedder, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	if cfg.EmbedCacheSize <= 0 {
		return embedder, nil
	}
	return Wrap(embedder, cfg.EmbedCacheSize)
}

// Embedder caches embeddings of an underlying Embedder.
type Embedder struct {
	next  registryembed.Embedder
	cache *ristretto.Cache[string, []float32]
}

// Wrap returns an Embedder holding up to size embeddings.
func Wrap(next registryembed.Embedder, size int64) (*Embedder, error) {
	if size <= 0 {
		return nil, fmt.Errorf("embedding cache: size must be positive")
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
		// Cost counts entries, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	return &Embedder{next: next, cache: cache}, nil
}

func (e *Embedder) ModelName() string { return e.next.ModelName() }
func (e *Embedder) Dimension() int    { return e.next.Dimension() }

func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if v, ok := e.cache.Get(e.key(text)); ok {
			out[i] = v
			metrics.ObserveEmbedCache(true)
			continue
		}
		metrics.ObserveEmbedCache(false)
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := e.next.EmbedTexts(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, fmt.Errorf("embedding cache: expected %d embeddings, got %d", len(missTexts), len(vectors))
	}
	for j, i := range missIdx {
		out[i] = vectors[j]
		e.cache.Set(e.key(missTexts[j]), vectors[j], 1)
	}
	return out, nil
}

// Close releases the cache's background goroutines.
func (e *Embedder) Close() {
	e.cache.Close()
}

func (e *Embedder) key(text string) string {
	return e.next.ModelName() + "\x00" + text
}

var _ registryembed.Embedder = (*Embedder)(nil)
