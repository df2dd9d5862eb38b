package gormstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/chirino/chat-memory/internal/config"
	"github.com/chirino/chat-memory/internal/model"
	_ "github.com/chirino/chat-memory/internal/plugin/store/gormstore"
	registrymigrate "github.com/chirino/chat-memory/internal/registry/migrate"
	registrystore "github.com/chirino/chat-memory/internal/registry/store"
	"github.com/chirino/chat-memory/internal/testutil/containers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T, kind, dsn string) (registrystore.ChatStore, context.Context) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.StoreType = kind
	cfg.DBURL = dsn
	ctx := config.WithContext(context.Background(), &cfg)

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select(kind)
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(ctx) })
	return store, ctx
}

func exerciseStore(t *testing.T, store registrystore.ChatStore, ctx context.Context) {
	require.NoError(t, store.CreateChat(ctx, model.Chat{ID: "b", Title: "Bravo"}))
	require.NoError(t, store.CreateChat(ctx, model.Chat{ID: "a", Title: "Alpha"}))
	require.NoError(t, store.CreateChat(ctx, model.Chat{ID: "a", Title: "Alpha renamed"}))

	chats, err := store.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, "a", chats[0].ID)
	assert.Equal(t, "Alpha renamed", chats[0].Title)

	var verr *registrystore.ValidationError
	require.True(t, errors.As(store.CreateChat(ctx, model.Chat{}), &verr))

	src := model.MemorySource{ID: "s1", ChatID: "a", Name: "notes.pdf", SourceType: model.MemorySourceFile, SharedBy: "user", Size: 42, Tokens: 7}
	require.NoError(t, store.AddMemorySource(ctx, src))
	require.NoError(t, store.AddMemorySource(ctx, model.MemorySource{ID: "s2", ChatID: "b", Name: "site", Hyperlink: "https://example.com", SourceType: model.MemorySourceURL}))

	sources, err := store.ListMemorySources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "notes.pdf", sources[0].Name)
	assert.Equal(t, int64(42), sources[0].Size)

	require.NoError(t, store.DeleteMemorySource(ctx, src))
	var nf *registrystore.NotFoundError
	require.True(t, errors.As(store.DeleteMemorySource(ctx, src), &nf))

	sources, err = store.ListMemorySources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "s2", sources[0].ID)
}

func TestSQLiteStore(t *testing.T) {
	store, ctx := setupStore(t, "sqlite", filepath.Join(t.TempDir(), "chat-memory.db"))
	exerciseStore(t, store, ctx)
}

func TestPostgresStore(t *testing.T) {
	store, ctx := setupStore(t, "postgres", containers.Postgres(t))
	exerciseStore(t, store, ctx)
}

func TestLoad_RequiresURL(t *testing.T) {
	cfg := config.DefaultConfig()
	ctx := config.WithContext(context.Background(), &cfg)
	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	_, err = loader(ctx)
	require.Error(t, err)
}
