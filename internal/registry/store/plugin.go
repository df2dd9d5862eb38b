package store

import (
	"context"
	"fmt"

	"github.com/chirino/chat-memory/internal/model"
)

// ChatDirectory lists the chat sessions whose memories are migrated.
type ChatDirectory interface {
	// ListChats returns every known chat session.
	ListChats(ctx context.Context) ([]model.Chat, error)
	// CreateChat inserts or replaces a chat session.
	CreateChat(ctx context.Context, chat model.Chat) error
}

// MemorySourceStore tracks the documents imported into chat memories.
type MemorySourceStore interface {
	// ListMemorySources returns every document-source tracking record.
	ListMemorySources(ctx context.Context) ([]model.MemorySource, error)
	// AddMemorySource inserts or replaces a tracking record.
	AddMemorySource(ctx context.Context, src model.MemorySource) error
	// DeleteMemorySource removes a tracking record. Deleting a missing record
	// returns a *NotFoundError.
	DeleteMemorySource(ctx context.Context, src model.MemorySource) error
}

// ChatStore is the datastore backing the chat directory and document-source tracking.
type ChatStore interface {
	ChatDirectory
	MemorySourceStore
	// Close releases the underlying connections.
	Close(ctx context.Context) error
}

// Loader creates a ChatStore from config.
type Loader func(ctx context.Context) (ChatStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
