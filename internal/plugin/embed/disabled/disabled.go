// Package disabled registers the "none" embedder, used with stores that do
// not need vectors (volatile, redis without similarity search).
package disabled

import (
	"context"

	"github.com/chirino/chat-memory/internal/registry/embed"
)

func init() {
	embed.Register(embed.Plugin{
		Name: "none",
		Loader: func(context.Context) (embed.Embedder, error) {
			return Embedder{}, nil
		},
	})
}

// Embedder fails every call with embed.ErrDisabled.
type Embedder struct{}

func (Embedder) EmbedTexts(context.Context, []string) ([][]float32, error) {
	return nil, embed.ErrDisabled
}

func (Embedder) ModelName() string { return "none" }
func (Embedder) Dimension() int    { return 0 }
