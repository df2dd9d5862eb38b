// Package volatile provides an in-process chat store for development and tests.
package volatile

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/chirino/chat-memory/internal/model"
	registrystore "github.com/chirino/chat-memory/internal/registry/store"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "volatile",
		Loader: func(ctx context.Context) (registrystore.ChatStore, error) {
			return New(), nil
		},
	})
}

// Store keeps chats and memory sources in maps guarded by a mutex.
type Store struct {
	mu      sync.RWMutex
	chats   map[string]model.Chat
	sources map[string]model.MemorySource
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		chats:   map[string]model.Chat{},
		sources: map[string]model.MemorySource{},
	}
}

func (s *Store) ListChats(ctx context.Context) ([]model.Chat, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	chats := make([]model.Chat, 0, len(s.chats))
	for _, c := range s.chats {
		chats = append(chats, c)
	}
	slices.SortFunc(chats, func(a, b model.Chat) int { return strings.Compare(a.ID, b.ID) })
	return chats, nil
}

func (s *Store) CreateChat(ctx context.Context, chat model.Chat) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(chat.ID) == "" {
		return &registrystore.ValidationError{Field: "id", Message: "chat id is required"}
	}
	if chat.CreatedOn.IsZero() {
		chat.CreatedOn = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chat.ID] = chat
	return nil
}

func (s *Store) ListMemorySources(ctx context.Context) ([]model.MemorySource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sources := make([]model.MemorySource, 0, len(s.sources))
	for _, src := range s.sources {
		sources = append(sources, src)
	}
	slices.SortFunc(sources, func(a, b model.MemorySource) int {
		if c := strings.Compare(a.ChatID, b.ChatID); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return sources, nil
}

func (s *Store) AddMemorySource(ctx context.Context, src model.MemorySource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(src.ID) == "" {
		return &registrystore.ValidationError{Field: "id", Message: "memory source id is required"}
	}
	if src.CreatedOn.IsZero() {
		src.CreatedOn = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.ID] = src
	return nil
}

func (s *Store) DeleteMemorySource(ctx context.Context, src model.MemorySource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[src.ID]; !ok {
		return &registrystore.NotFoundError{Resource: "memory source", ID: src.ID}
	}
	delete(s.sources, src.ID)
	return nil
}

func (s *Store) Close(context.Context) error { return nil }

var _ registrystore.ChatStore = (*Store)(nil)
