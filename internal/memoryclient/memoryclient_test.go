package memoryclient

import (
	"context"
	"testing"

	"github.com/chirino/chat-memory/internal/plugin/memory/volatile"
	registrymemory "github.com/chirino/chat-memory/internal/registry/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKey_RoundTrip(t *testing.T) {
	key, err := MemoryKey("chat-1", "LongTermMemory", "rec/with/slashes")
	require.NoError(t, err)
	assert.Equal(t, "chat-1/LongTermMemory/rec/with/slashes", key)

	chat, mt, id, err := ParseMemoryKey(key)
	require.NoError(t, err)
	assert.Equal(t, "chat-1", chat)
	assert.Equal(t, "LongTermMemory", mt)
	assert.Equal(t, "rec/with/slashes", id)
}

func TestMemoryKey_Invalid(t *testing.T) {
	for _, c := range [][3]string{
		{"", "LongTermMemory", "r"},
		{"a/b", "LongTermMemory", "r"},
		{"a", "", "r"},
		{"a", "x/y", "r"},
		{"a", "LongTermMemory", ""},
	} {
		_, err := MemoryKey(c[0], c[1], c[2])
		assert.Error(t, err, "%v", c)
	}
	for _, k := range []string{"", "a", "a/b", "a//c", "/b/c"} {
		_, _, _, err := ParseMemoryKey(k)
		assert.Error(t, err, k)
	}
}

func TestStoreAndSearchMemories(t *testing.T) {
	ctx := context.Background()
	store := volatile.New(nil)
	c := New(store)

	require.NoError(t, c.StoreMemory(ctx, "chatmemory", "a", "LongTermMemory", "1", "likes go"))
	require.NoError(t, c.StoreMemory(ctx, "chatmemory", "a", "WorkingMemory", "2", "writing tests"))
	require.NoError(t, c.StoreMemory(ctx, "chatmemory", "b", "LongTermMemory", "1", "likes tea"))
	require.NoError(t, c.StoreMemory(ctx, "chatmemory", "a", "LongTermMemory", "1", "likes go a lot"))
	require.Error(t, c.StoreMemory(ctx, "chatmemory", "", "LongTermMemory", "1", "x"))

	var got []Memory
	for m, err := range c.SearchMemories(ctx, "chatmemory", "a", "", registrymemory.Wildcard, 0, registrymemory.AnyRelevance) {
		require.NoError(t, err)
		got = append(got, m)
	}
	require.Len(t, got, 2)
	assert.Equal(t, Memory{ChatID: "a", MemoryType: "LongTermMemory", RecordID: "1", Text: "likes go a lot", Relevance: 1}, got[0])

	got = nil
	for m, err := range c.SearchMemories(ctx, "chatmemory", "a", "WorkingMemory", registrymemory.Wildcard, 0, registrymemory.AnyRelevance) {
		require.NoError(t, err)
		got = append(got, m)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].RecordID)

	n := 0
	for _, err := range c.SearchMemories(ctx, "chatmemory", "a", "", registrymemory.Wildcard, 1, registrymemory.AnyRelevance) {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 1, n)
}
