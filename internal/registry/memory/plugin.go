package memory

import (
	"context"
	"fmt"
	"iter"
	"math"
	"strings"
)

const (
	// Wildcard is the search query that matches every record in an index.
	Wildcard = "*"
	// AnyRelevance disables relevance filtering when passed as minScore.
	AnyRelevance = -1.0
	// Unbounded asks Search for every matching record.
	Unbounded = 0
)

// Record is a single text entry in a memory index.
type Record struct {
	Index     string  `json:"index"`
	Key       string  `json:"key"`
	Text      string  `json:"text"`
	Relevance float64 `json:"relevance"`
}

// MemoryStore is the narrow key/value-with-search interface shared by the
// memory backends. Writes are keyed upserts: putting the same (index, key)
// twice overwrites in place.
type MemoryStore interface {
	// Put stores text under (index, key), replacing any previous value.
	Put(ctx context.Context, index, key, text string) error
	// Get returns the record stored under (index, key), or nil if absent.
	Get(ctx context.Context, index, key string) (*Record, error)
	// Search lazily enumerates records of index matching query. The returned
	// sequence re-runs the enumeration on every range and fetches pages on
	// demand. A Wildcard query with AnyRelevance yields every record; limit
	// <= 0 means no limit. Iteration stops after the first yielded error.
	Search(ctx context.Context, index, query string, limit int, minScore float64) iter.Seq2[Record, error]
	// Name returns the plugin name (e.g. "qdrant", "redis").
	Name() string
}

// Loader creates a MemoryStore from config.
type Loader func(ctx context.Context) (MemoryStore, error)

// Plugin represents a memory store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a memory store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered memory store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named memory store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown memory store %q; valid: %v", name, Names())
}

// IsWildcard reports whether query asks for every record.
func IsWildcard(query string) bool {
	q := strings.TrimSpace(query)
	return q == "" || q == Wildcard
}

// ErrorSeq returns a sequence that yields err once.
func ErrorSeq(err error) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		yield(Record{}, err)
	}
}

// CosineSimilarity returns the cosine similarity of a and b, or 0 when either
// vector is empty, zero, or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
