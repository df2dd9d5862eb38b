package redis

import (
	"context"
	"testing"

	"github.com/chirino/chat-memory/internal/config"
	_ "github.com/chirino/chat-memory/internal/plugin/embed/local"
	registrymemory "github.com/chirino/chat-memory/internal/registry/memory"
	"github.com/chirino/chat-memory/internal/testutil/containers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T, embedType string) (*RedisStore, context.Context) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.RedisURL = containers.Redis(t)
	cfg.EmbedType = embedType
	cfg.RedisScanCount = 2
	ctx := config.WithContext(context.Background(), &cfg)

	store, err := load(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.(*RedisStore).Close() })
	return store.(*RedisStore), ctx
}

func TestLoad_RequiresURL(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := load(config.WithContext(context.Background(), &cfg))
	require.Error(t, err)
}

func TestRedisStore_PutGetScan(t *testing.T) {
	store, ctx := setupStore(t, "none")

	rec, err := store.Get(ctx, "idx", "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, store.Put(ctx, "idx", k, "memory "+k))
	}
	require.NoError(t, store.Put(ctx, "idx", "c", "memory c again"))

	rec, err = store.Get(ctx, "idx", "c")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "memory c again", rec.Text)

	seen := map[string]bool{}
	for r, err := range store.Search(ctx, "idx", registrymemory.Wildcard, registrymemory.Unbounded, registrymemory.AnyRelevance) {
		require.NoError(t, err)
		assert.False(t, seen[r.Key], "duplicate key %s", r.Key)
		seen[r.Key] = true
	}
	assert.Len(t, seen, 5)

	var matched []string
	for r, err := range store.Search(ctx, "idx", "again", registrymemory.Unbounded, 0.5) {
		require.NoError(t, err)
		matched = append(matched, r.Key)
	}
	assert.Equal(t, []string{"c"}, matched)
}

func TestRedisStore_SimilarityWithEmbeddings(t *testing.T) {
	store, ctx := setupStore(t, "local")
	require.NoError(t, store.Put(ctx, "idx", "go", "the user writes go services"))
	require.NoError(t, store.Put(ctx, "idx", "tea", "the user drinks green tea"))

	var keys []string
	for r, err := range store.Search(ctx, "idx", "go services", 1, registrymemory.AnyRelevance) {
		require.NoError(t, err)
		keys = append(keys, r.Key)
	}
	assert.Equal(t, []string{"go"}, keys)
}
