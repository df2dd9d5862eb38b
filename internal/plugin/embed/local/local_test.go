package local

import (
	"context"
	"math"
	"testing"

	"github.com/chirino/chat-memory/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func norm(v []float32) float64 {
	var n float64
	for _, x := range v {
		n += float64(x) * float64(x)
	}
	return math.Sqrt(n)
}

func dot(a, b []float32) float64 {
	var d float64
	for i := range a {
		d += float64(a[i]) * float64(b[i])
	}
	return d
}

func TestEmbedTexts_UnitVectors(t *testing.T) {
	e := &LocalEmbedder{}
	vectors, err := e.EmbedTexts(context.Background(), []string{"The user prefers dark mode", "*", ""})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for _, v := range vectors {
		require.Len(t, v, DefaultDimensions)
		require.InDelta(t, 1.0, norm(v), 1e-5)
	}
	require.Equal(t, float32(1), vectors[1][0])
}

func TestEmbedTexts_Deterministic(t *testing.T) {
	e := &LocalEmbedder{}
	a, err := e.EmbedTexts(context.Background(), []string{"Hello, World"})
	require.NoError(t, err)
	b, err := e.EmbedTexts(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	require.Equal(t, a[0], b[0])
}

func TestEmbedTexts_WordOrderMatters(t *testing.T) {
	e := New(1024)
	v, err := e.EmbedTexts(context.Background(), []string{"dark mode", "mode dark", "dark mode"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, dot(v[0], v[2]), 1e-5)
	assert.Less(t, dot(v[0], v[1]), 0.999)
}

func TestEmbedTexts_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&LocalEmbedder{}).EmbedTexts(ctx, []string{"a"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNew_Dimensions(t *testing.T) {
	e := New(16)
	assert.Equal(t, 16, e.Dimension())
	assert.NotEqual(t, (&LocalEmbedder{}).ModelName(), e.ModelName())
	v, err := e.EmbedTexts(context.Background(), []string{"user likes tea"})
	require.NoError(t, err)
	require.Len(t, v[0], 16)
}

func TestLoad_UsesConfiguredDimensions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LocalEmbedDimensions = 64
	e, err := load(config.WithContext(context.Background(), &cfg))
	require.NoError(t, err)
	assert.Equal(t, 64, e.Dimension())

	cfg.LocalEmbedDimensions = 1
	_, err = load(config.WithContext(context.Background(), &cfg))
	require.ErrorContains(t, err, "at least 2")

	e, err = load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultDimensions, e.Dimension())
}
