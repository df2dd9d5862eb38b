package disabled

import (
	"context"
	"testing"

	"github.com/chirino/chat-memory/internal/registry/embed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoneEmbedder(t *testing.T) {
	loader, err := embed.Select("none")
	require.NoError(t, err)
	e, err := loader(context.Background())
	require.NoError(t, err)

	_, err = e.EmbedTexts(context.Background(), []string{"x"})
	assert.ErrorIs(t, err, embed.ErrDisabled)
	assert.Equal(t, 0, e.Dimension())
}
