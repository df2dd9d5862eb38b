package embed

import (
	"context"
	"errors"
	"fmt"
)

// ErrDisabled is returned by the "none" embedder.
var ErrDisabled = errors.New("embedding is disabled")

// Embedder turns memory text into vectors for the similarity-capable stores.
type Embedder interface {
	// EmbedTexts returns one vector per input text, in input order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	// ModelName identifies the model; cached vectors are keyed by it.
	ModelName() string
	// Dimension is the vector length, or 0 when unknown until the first call.
	Dimension() int
}

// Loader creates an Embedder from the config carried by ctx.
type Loader func(ctx context.Context) (Embedder, error)

// Plugin is a named embedder.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds an embedder plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns the registered embedder names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader registered under name.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown embedder %q; valid: %v", name, Names())
}
