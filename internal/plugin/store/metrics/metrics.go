package metrics

import (
	"context"
	"time"

	"github.com/chirino/chat-memory/internal/metrics"
	"github.com/chirino/chat-memory/internal/model"
	"github.com/chirino/chat-memory/internal/registry/store"
)

// Wrap returns a ChatStore that records operation latency for every call.
func Wrap(inner store.ChatStore) store.ChatStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.ChatStore
}

func (m *metricsStore) ListChats(ctx context.Context) ([]model.Chat, error) {
	defer metrics.ObserveStoreLatency("list_chats", time.Now())
	return m.inner.ListChats(ctx)
}

func (m *metricsStore) CreateChat(ctx context.Context, chat model.Chat) error {
	defer metrics.ObserveStoreLatency("create_chat", time.Now())
	return m.inner.CreateChat(ctx, chat)
}

func (m *metricsStore) ListMemorySources(ctx context.Context) ([]model.MemorySource, error) {
	defer metrics.ObserveStoreLatency("list_memory_sources", time.Now())
	return m.inner.ListMemorySources(ctx)
}

func (m *metricsStore) AddMemorySource(ctx context.Context, src model.MemorySource) error {
	defer metrics.ObserveStoreLatency("add_memory_source", time.Now())
	return m.inner.AddMemorySource(ctx, src)
}

func (m *metricsStore) DeleteMemorySource(ctx context.Context, src model.MemorySource) error {
	defer metrics.ObserveStoreLatency("delete_memory_source", time.Now())
	return m.inner.DeleteMemorySource(ctx, src)
}

func (m *metricsStore) Close(ctx context.Context) error {
	return m.inner.Close(ctx)
}
