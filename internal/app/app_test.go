package app

import (
	"context"
	"testing"

	"github.com/chirino/chat-memory/internal/config"
	"github.com/chirino/chat-memory/internal/migration"
	"github.com/chirino/chat-memory/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_VolatileEndToEnd(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.EmbedType = "none"
	cfg.ClaimGraceWindow = 0
	ctx := config.WithContext(context.Background(), &cfg)

	require.NoError(t, InitMetrics(&cfg))
	require.NoError(t, Migrate(ctx))
	a, err := Load(ctx, &cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })
	assert.Same(t, a.Memory, a.Target)

	require.NoError(t, a.Chats.CreateChat(ctx, model.Chat{ID: "chat-1"}))
	require.NoError(t, a.Chats.AddMemorySource(ctx, model.MemorySource{ID: "src", ChatID: "chat-1"}))
	require.NoError(t, a.Memory.Put(ctx, "chat-1LongTermMemory", "r1", "prefers dark mode"))

	require.NoError(t, a.Coordinator.Run(ctx))
	assert.Equal(t, migration.StateCompleted, a.Coordinator.Status().State)

	var texts []string
	for m, err := range a.Memories.SearchMemories(ctx, cfg.ConsolidatedIndex, "chat-1", "", "*", 0, -1) {
		require.NoError(t, err)
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{"prefers dark mode"}, texts)

	sources, err := a.Chats.ListMemorySources(ctx)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestLoad_UnknownKinds(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MemoryType = "nope"
	ctx := config.WithContext(context.Background(), &cfg)
	_, err := Load(ctx, &cfg)
	require.ErrorContains(t, err, "unknown memory store")

	cfg = config.DefaultConfig()
	cfg.EmbedType = "none"
	cfg.StoreType = "nope"
	ctx = config.WithContext(context.Background(), &cfg)
	_, err = Load(ctx, &cfg)
	require.ErrorContains(t, err, "unknown store")
}
