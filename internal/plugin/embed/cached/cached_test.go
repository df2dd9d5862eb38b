package cached

import (
	"context"
	"testing"

	"github.com/chirino/chat-memory/internal/config"
	_ "github.com/chirino/chat-memory/internal/plugin/embed/local"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls [][]string
}

func (c *countingEmbedder) ModelName() string { return "counting" }
func (c *countingEmbedder) Dimension() int    { return 1 }
func (c *countingEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	c.calls = append(c.calls, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestEmbedTexts_OnlyMissesReachUnderlyingEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	e, err := Wrap(inner, 100)
	require.NoError(t, err)
	defer e.Close()

	ctx := context.Background()
	first, err := e.EmbedTexts(ctx, []string{"a", "bb"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1}, {2}}, first)
	e.cache.Wait()

	second, err := e.EmbedTexts(ctx, []string{"bb", "ccc", "a"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{2}, {3}, {1}}, second)

	require.Equal(t, [][]string{{"a", "bb"}, {"ccc"}}, inner.calls)
}

func TestWrap_RejectsNonPositiveSize(t *testing.T) {
	_, err := Wrap(&countingEmbedder{}, 0)
	require.Error(t, err)
}

func TestLoad_WrapsWhenCacheSizeConfigured(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.EmbedType = "local"
	ctx := config.WithContext(context.Background(), &cfg)

	plain, err := Load(ctx)
	require.NoError(t, err)
	_, isCached := plain.(*Embedder)
	require.False(t, isCached)

	cfg.EmbedCacheSize = 32
	wrapped, err := Load(ctx)
	require.NoError(t, err)
	_, isCached = wrapped.(*Embedder)
	require.True(t, isCached)
	require.Equal(t, 384, wrapped.Dimension())
}

func TestLoad_UnknownEmbedder(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.EmbedType = "nope"
	_, err := Load(config.WithContext(context.Background(), &cfg))
	require.Error(t, err)
}
