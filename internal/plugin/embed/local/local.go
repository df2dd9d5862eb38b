package local

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/chirino/chat-memory/internal/config"
	registryembed "github.com/chirino/chat-memory/internal/registry/embed"
)

// DefaultDimensions is used when no dimension is configured.
const DefaultDimensions = 384

// Phrases weigh less than single words.
const phraseWeight = 0.5

func init() {
	registryembed.Register(registryembed.Plugin{
		Name:   "local",
		Loader: load,
	})
}

func load(ctx context.Context) (registryembed.Embedder, error) {
	dim := DefaultDimensions
	if cfg := config.FromContext(ctx); cfg != nil && cfg.LocalEmbedDimensions != 0 {
		dim = cfg.LocalEmbedDimensions
	}
	if dim < 2 {
		return nil, fmt.Errorf("local embedder: dimensions must be at least 2, got %d", dim)
	}
	return New(dim), nil
}

// LocalEmbedder maps chat memory text onto a signed feature-hashing vector of
// words and adjacent word pairs. The zero value uses DefaultDimensions.
type LocalEmbedder struct {
	dimensions int
}

// New returns an embedder producing vectors of the given length.
func New(dimensions int) *LocalEmbedder {
	return &LocalEmbedder{dimensions: dimensions}
}

// ModelName carries the dimension so cached vectors of different lengths
// never mix.
func (e *LocalEmbedder) ModelName() string {
	return fmt.Sprintf("local-feature-hash-%d", e.Dimension())
}

func (e *LocalEmbedder) Dimension() int {
	if e.dimensions <= 0 {
		return DefaultDimensions
	}
	return e.dimensions
}

func (e *LocalEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, e.embed(text))
	}
	return out, nil
}

// embed returns a unit vector. Text without words maps onto the first axis so
// cosine distance stays defined for every stored record.
func (e *LocalEmbedder) embed(text string) []float32 {
	vector := make([]float32, e.Dimension())
	words := words(text)
	for i, w := range words {
		e.add(vector, w, 1)
		if i > 0 {
			e.add(vector, words[i-1]+" "+w, phraseWeight)
		}
	}

	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		vector[0] = 1
		return vector
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range vector {
		vector[i] *= inv
	}
	return vector
}

// add hashes feature into a bucket; the top hash bit picks the sign so
// colliding features tend to cancel instead of piling up.
func (e *LocalEmbedder) add(vector []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	if sum>>63 == 1 {
		weight = -weight
	}
	vector[sum%uint64(len(vector))] += weight
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

var _ registryembed.Embedder = (*LocalEmbedder)(nil)
