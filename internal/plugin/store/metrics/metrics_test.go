package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/chirino/chat-memory/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStore struct {
	calls []string
	err   error
}

func (r *recordingStore) ListChats(context.Context) ([]model.Chat, error) {
	r.calls = append(r.calls, "ListChats")
	return []model.Chat{{ID: "a"}}, r.err
}

func (r *recordingStore) CreateChat(context.Context, model.Chat) error {
	r.calls = append(r.calls, "CreateChat")
	return r.err
}

func (r *recordingStore) ListMemorySources(context.Context) ([]model.MemorySource, error) {
	r.calls = append(r.calls, "ListMemorySources")
	return nil, r.err
}

func (r *recordingStore) AddMemorySource(context.Context, model.MemorySource) error {
	r.calls = append(r.calls, "AddMemorySource")
	return r.err
}

func (r *recordingStore) DeleteMemorySource(context.Context, model.MemorySource) error {
	r.calls = append(r.calls, "DeleteMemorySource")
	return r.err
}

func (r *recordingStore) Close(context.Context) error {
	r.calls = append(r.calls, "Close")
	return nil
}

func TestWrap_DelegatesAndPropagatesErrors(t *testing.T) {
	ctx := context.Background()
	inner := &recordingStore{}
	s := Wrap(inner)

	chats, err := s.ListChats(ctx)
	require.NoError(t, err)
	assert.Len(t, chats, 1)
	require.NoError(t, s.CreateChat(ctx, model.Chat{ID: "b"}))
	_, err = s.ListMemorySources(ctx)
	require.NoError(t, err)
	require.NoError(t, s.AddMemorySource(ctx, model.MemorySource{ID: "s"}))

	inner.err = errors.New("boom")
	require.EqualError(t, s.DeleteMemorySource(ctx, model.MemorySource{ID: "s"}), "boom")
	require.NoError(t, s.Close(ctx))

	assert.Equal(t, []string{"ListChats", "CreateChat", "ListMemorySources", "AddMemorySource", "DeleteMemorySource", "Close"}, inner.calls)
}
