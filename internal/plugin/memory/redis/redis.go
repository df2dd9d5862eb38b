package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/chirino/chat-memory/internal/config"
	"github.com/chirino/chat-memory/internal/plugin/embed/cached"
	registryembed "github.com/chirino/chat-memory/internal/registry/embed"
	registrymemory "github.com/chirino/chat-memory/internal/registry/memory"
	goredis "github.com/redis/go-redis/v9"
)

const (
	fieldText      = "text"
	fieldEmbedding = "embedding"
)

func init() {
	registrymemory.Register(registrymemory.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrymemory.MemoryStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis memory: CHAT_MEMORY_REDIS_URL is required")
	}
	var embedder registryembed.Embedder
	if cfg.EmbedType != "" && cfg.EmbedType != "none" {
		var err error
		if embedder, err = cached.Load(ctx); err != nil {
			return nil, fmt.Errorf("redis memory: %w", err)
		}
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis memory: invalid URL: %w", err)
	}
	return LoadFromOptions(ctx, opts, cfg.RedisKeyPrefix, cfg.RedisScanCount, embedder)
}

// LoadFromOptions creates a RedisStore from go-redis Options and pings the server.
func LoadFromOptions(ctx context.Context, opts *goredis.Options, prefix string, scanCount int64, embedder registryembed.Embedder) (*RedisStore, error) {
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis memory: ping failed: %w", err)
	}
	if scanCount <= 0 {
		scanCount = 100
	}
	if prefix == "" {
		prefix = "chat-memory"
	}
	return &RedisStore{client: client, prefix: prefix, scanCount: scanCount, embedder: embedder}, nil
}

// RedisStore keeps one hash per record and one set of keys per index. When an
// embedder is configured, embeddings are stored alongside the text and
// similarity is scored client-side.
type RedisStore struct {
	client    *goredis.Client
	prefix    string
	scanCount int64
	embedder  registryembed.Embedder
}

func (s *RedisStore) Name() string { return "redis" }

// Close closes the underlying client.
func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) recordKey(index, key string) string {
	return fmt.Sprintf("%s:rec:%s:%s", s.prefix, index, key)
}

func (s *RedisStore) indexKey(index string) string {
	return fmt.Sprintf("%s:idx:%s", s.prefix, index)
}

func (s *RedisStore) Put(ctx context.Context, index, key, text string) error {
	fields := map[string]any{fieldText: text}
	if s.embedder != nil {
		vectors, err := s.embedder.EmbedTexts(ctx, []string{text})
		if err != nil {
			return fmt.Errorf("redis memory: embed: %w", err)
		}
		data, err := json.Marshal(vectors[0])
		if err != nil {
			return err
		}
		fields[fieldEmbedding] = data
	}
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, s.recordKey(index, key), fields)
		pipe.SAdd(ctx, s.indexKey(index), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis memory: put: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, index, key string) (*registrymemory.Record, error) {
	text, err := s.client.HGet(ctx, s.recordKey(index, key), fieldText).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis memory: get: %w", err)
	}
	return &registrymemory.Record{Index: index, Key: key, Text: text, Relevance: 1}, nil
}

func (s *RedisStore) Search(ctx context.Context, index, query string, limit int, minScore float64) iter.Seq2[registrymemory.Record, error] {
	if registrymemory.IsWildcard(query) {
		return s.scan(ctx, index, limit, minScore)
	}
	return s.similar(ctx, index, query, limit, minScore)
}

// keyBatches walks the index set with SSCAN. SSCAN may repeat members across
// batches, so repeats are filtered out.
func (s *RedisStore) keyBatches(ctx context.Context, index string) iter.Seq2[[]string, error] {
	return func(yield func([]string, error) bool) {
		seen := map[string]struct{}{}
		var cursor uint64
		for {
			keys, next, err := s.client.SScan(ctx, s.indexKey(index), cursor, "", s.scanCount).Result()
			if err != nil {
				yield(nil, fmt.Errorf("redis memory: scan: %w", err))
				return
			}
			batch := keys[:0]
			for _, k := range keys {
				if _, dup := seen[k]; dup {
					continue
				}
				seen[k] = struct{}{}
				batch = append(batch, k)
			}
			if len(batch) > 0 && !yield(batch, nil) {
				return
			}
			if next == 0 {
				return
			}
			cursor = next
		}
	}
}

// fetch loads the text (and embedding when wanted) of every key in batch.
// Keys whose hash disappeared between SSCAN and HMGET are skipped.
func (s *RedisStore) fetch(ctx context.Context, index string, batch []string, withEmbedding bool) ([]registrymemory.Record, [][]float32, error) {
	fields := []string{fieldText}
	if withEmbedding {
		fields = append(fields, fieldEmbedding)
	}
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.SliceCmd, len(batch))
	for i, k := range batch {
		cmds[i] = pipe.HMGet(ctx, s.recordKey(index, k), fields...)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, nil, fmt.Errorf("redis memory: fetch: %w", err)
	}

	records := make([]registrymemory.Record, 0, len(batch))
	var vectors [][]float32
	for i, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 || vals[0] == nil {
			continue
		}
		text, _ := vals[0].(string)
		records = append(records, registrymemory.Record{Index: index, Key: batch[i], Text: text, Relevance: 1})
		if withEmbedding {
			var vec []float32
			if len(vals) > 1 && vals[1] != nil {
				raw, _ := vals[1].(string)
				_ = json.Unmarshal([]byte(raw), &vec)
			}
			vectors = append(vectors, vec)
		}
	}
	return records, vectors, nil
}

func (s *RedisStore) scan(ctx context.Context, index string, limit int, minScore float64) iter.Seq2[registrymemory.Record, error] {
	return func(yield func(registrymemory.Record, error) bool) {
		if minScore > 1 {
			return
		}
		emitted := 0
		for batch, err := range s.keyBatches(ctx, index) {
			if err != nil {
				yield(registrymemory.Record{}, err)
				return
			}
			records, _, err := s.fetch(ctx, index, batch, false)
			if err != nil {
				yield(registrymemory.Record{}, err)
				return
			}
			for _, r := range records {
				if !yield(r, nil) {
					return
				}
				emitted++
				if limit > 0 && emitted >= limit {
					return
				}
			}
		}
	}
}

// similar scores every record of the index and yields the best matches
// first. Unlike scan it has to hold the scored set in memory.
func (s *RedisStore) similar(ctx context.Context, index, query string, limit int, minScore float64) iter.Seq2[registrymemory.Record, error] {
	return func(yield func(registrymemory.Record, error) bool) {
		var queryVec []float32
		if s.embedder != nil {
			vectors, err := s.embedder.EmbedTexts(ctx, []string{query})
			if err != nil {
				yield(registrymemory.Record{}, fmt.Errorf("redis memory: embed: %w", err))
				return
			}
			queryVec = vectors[0]
		}

		var matches []registrymemory.Record
		for batch, err := range s.keyBatches(ctx, index) {
			if err != nil {
				yield(registrymemory.Record{}, err)
				return
			}
			records, vectors, err := s.fetch(ctx, index, batch, queryVec != nil)
			if err != nil {
				yield(registrymemory.Record{}, err)
				return
			}
			for i, r := range records {
				switch {
				case queryVec != nil:
					r.Relevance = registrymemory.CosineSimilarity(queryVec, vectors[i])
				case strings.Contains(strings.ToLower(r.Text), strings.ToLower(query)):
					r.Relevance = 1
				default:
					r.Relevance = 0
				}
				if r.Relevance >= minScore {
					matches = append(matches, r)
				}
			}
		}

		slices.SortStableFunc(matches, func(a, b registrymemory.Record) int {
			switch {
			case a.Relevance > b.Relevance:
				return -1
			case a.Relevance < b.Relevance:
				return 1
			}
			return strings.Compare(a.Key, b.Key)
		})
		for i, r := range matches {
			if limit > 0 && i >= limit {
				return
			}
			if !yield(r, nil) {
				return
			}
		}
	}
}

var _ registrymemory.MemoryStore = (*RedisStore)(nil)
