package migration

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chirino/chat-memory/internal/memorytypes"
	"github.com/chirino/chat-memory/internal/model"
	storevolatile "github.com/chirino/chat-memory/internal/plugin/store/volatile"
	registrymemory "github.com/chirino/chat-memory/internal/registry/memory"
	"github.com/stretchr/testify/require"
)

const (
	testSentinelIndex = "chat-memory-migration"
	testSentinelKey   = "migrate-00000000-0000-0000-0000-000000000000"
	testTargetIndex   = "chatmemory"
)

type op struct {
	kind  string
	index string
	key   string
	text  string
}

// journal records every write, in order, across the fake stores.
type journal struct {
	mu  sync.Mutex
	ops []op
}

func (j *journal) add(o op) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ops = append(j.ops, o)
}

func (j *journal) snapshot() []op {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.ops)
}

func (j *journal) reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ops = nil
}

// fakeStore is a memory store whose writes are serialized per key: the last
// Put to complete wins. Hooks inject failures and delays.
type fakeStore struct {
	mu      sync.Mutex
	data    map[string]map[string]string
	journal *journal

	putHook    func(index, key, text string) error
	getHook    func(index, key string) (*registrymemory.Record, bool, error)
	searchErrs map[string]error
	// upperReads makes Get return upper-cased text, like a store that
	// normalizes values.
	upperReads bool
}

func newFakeStore(j *journal) *fakeStore {
	return &fakeStore{data: map[string]map[string]string{}, journal: j, searchErrs: map[string]error{}}
}

func (s *fakeStore) Name() string { return "fake" }

func (s *fakeStore) Put(ctx context.Context, index, key, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.putHook != nil {
		if err := s.putHook(index, key, text); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[index] == nil {
		s.data[index] = map[string]string{}
	}
	s.data[index][key] = text
	s.journal.add(op{kind: "put", index: index, key: key, text: text})
	return nil
}

func (s *fakeStore) Get(ctx context.Context, index, key string) (*registrymemory.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.getHook != nil {
		if rec, handled, err := s.getHook(index, key); handled || err != nil {
			return rec, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.data[index][key]
	if !ok {
		return nil, nil
	}
	if s.upperReads {
		text = strings.ToUpper(text)
	}
	return &registrymemory.Record{Index: index, Key: key, Text: text, Relevance: 1}, nil
}

func (s *fakeStore) Search(ctx context.Context, index, query string, limit int, minScore float64) iter.Seq2[registrymemory.Record, error] {
	return func(yield func(registrymemory.Record, error) bool) {
		if err := s.searchErrs[index]; err != nil {
			yield(registrymemory.Record{}, err)
			return
		}
		s.mu.Lock()
		keys := make([]string, 0, len(s.data[index]))
		for k := range s.data[index] {
			keys = append(keys, k)
		}
		s.mu.Unlock()
		slices.Sort(keys)

		for i, k := range keys {
			if limit > 0 && i >= limit {
				return
			}
			s.mu.Lock()
			text, ok := s.data[index][k]
			s.mu.Unlock()
			if !ok {
				continue
			}
			if !yield(registrymemory.Record{Index: index, Key: k, Text: text, Relevance: 1}, nil) {
				return
			}
		}
	}
}

func (s *fakeStore) index(name string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	for k, v := range s.data[name] {
		out[k] = v
	}
	return out
}

func (s *fakeStore) value(index, key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[index][key]
	return v, ok
}

// journaledSources records source deletions in the shared journal.
type journaledSources struct {
	*storevolatile.Store
	journal *journal
}

func (s *journaledSources) DeleteMemorySource(ctx context.Context, src model.MemorySource) error {
	if err := s.Store.DeleteMemorySource(ctx, src); err != nil {
		return err
	}
	s.journal.add(op{kind: "delete-source", key: src.ID})
	return nil
}

type fixture struct {
	journal *journal
	store   *fakeStore
	chats   *storevolatile.Store
	sources *journaledSources
	types   *memorytypes.Registry
}

// newFixture seeds chats × types legacy indices with perType records each
// and one tracking record per chat.
func newFixture(t *testing.T, chats []string, labels []string, perType int) *fixture {
	t.Helper()
	f, err := seedFixture(chats, labels, perType)
	require.NoError(t, err)
	return f
}

func seedFixture(chats []string, labels []string, perType int) (*fixture, error) {
	ctx := context.Background()
	j := &journal{}
	f := &fixture{
		journal: j,
		store:   newFakeStore(j),
		chats:   storevolatile.New(),
		sources: &journaledSources{Store: storevolatile.New(), journal: j},
	}
	var types []memorytypes.MemoryType
	for _, l := range labels {
		types = append(types, memorytypes.MemoryType{Label: l})
	}
	var err error
	if f.types, err = memorytypes.New(types...); err != nil {
		return nil, err
	}

	for _, chat := range chats {
		if err := f.chats.CreateChat(ctx, model.Chat{ID: chat, Title: "Chat " + chat}); err != nil {
			return nil, err
		}
		if err := f.sources.AddMemorySource(ctx, model.MemorySource{ID: "src-" + chat, ChatID: chat, Name: chat + ".pdf", SourceType: model.MemorySourceFile}); err != nil {
			return nil, err
		}
		for _, label := range labels {
			for i := 1; i <= perType; i++ {
				index := memorytypes.LegacyIndex(chat, label)
				if err := f.store.Put(ctx, index, fmt.Sprintf("rec-%d", i), fmt.Sprintf("%s %s memory %d", chat, label, i)); err != nil {
					return nil, err
				}
			}
		}
	}
	j.reset()
	return f, nil
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func (f *fixture) coordinator(opts Options) *Coordinator {
	if opts.SentinelIndex == "" {
		opts.SentinelIndex = testSentinelIndex
	}
	if opts.SentinelKey == "" {
		opts.SentinelKey = testSentinelKey
	}
	if opts.ConsolidatedIndex == "" {
		opts.ConsolidatedIndex = testTargetIndex
	}
	if opts.Sleeper == nil {
		opts.Sleeper = SleeperFunc(noSleep)
	}
	return New(f.store, f.store, f.chats, f.sources, f.types, opts)
}

func (f *fixture) sentinel() (string, bool) {
	return f.store.value(testSentinelIndex, testSentinelKey)
}

// writes returns journal entries other than sentinel writes.
func (f *fixture) writes() []op {
	var out []op
	for _, o := range f.journal.snapshot() {
		if o.index == testSentinelIndex {
			continue
		}
		out = append(out, o)
	}
	return out
}
