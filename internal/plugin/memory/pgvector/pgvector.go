package pgvector

import (
	"context"
	_ "embed"
	"fmt"
	"iter"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-memory/internal/config"
	"github.com/chirino/chat-memory/internal/plugin/embed/cached"
	registryembed "github.com/chirino/chat-memory/internal/registry/embed"
	registrymemory "github.com/chirino/chat-memory/internal/registry/memory"
	registrymigrate "github.com/chirino/chat-memory/internal/registry/migrate"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//go:embed db/schema.sql
var schemaSQL string

// pgvectorMigrator implements migrate.Migrator for the memory_records table.
type pgvectorMigrator struct{}

func (m *pgvectorMigrator) Name() string { return "pgvector" }
func (m *pgvectorMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.MigrateAtStart || cfg.DBURL == "" || (cfg.MemoryType != "pgvector" && cfg.EffectiveTargetMemoryType() != "pgvector") {
		return nil
	}
	log.Info("Running migration", "name", m.Name())
	db, err := openDB(cfg.DBURL)
	if err != nil {
		return fmt.Errorf("pgvector migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if err := db.WithContext(ctx).Exec(schemaSQL).Error; err != nil {
		return fmt.Errorf("pgvector migrate: %w", err)
	}
	return nil
}

func init() {
	registrymemory.Register(registrymemory.Plugin{
		Name:   "pgvector",
		Loader: load,
	})
	registrymigrate.Register(registrymigrate.Plugin{Order: 200, Migrator: &pgvectorMigrator{}})
}

func load(ctx context.Context) (registrymemory.MemoryStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("pgvector memory: missing config in context")
	}
	embedder, err := cached.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("pgvector memory: %w", err)
	}
	db, err := openDB(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector memory: %w", err)
	}
	pageSize := cfg.PgvectorPageSize
	if pageSize <= 0 {
		pageSize = 500
	}
	return &PgvectorStore{db: db, embedder: embedder, pageSize: pageSize}, nil
}

func openDB(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Discard,
	})
}

// PgvectorStore keeps every memory index in one table keyed by (index_name, key).
type PgvectorStore struct {
	db       *gorm.DB
	embedder registryembed.Embedder
	pageSize int
}

func (s *PgvectorStore) Name() string { return "pgvector" }

// Close closes the connection pool.
func (s *PgvectorStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *PgvectorStore) Put(ctx context.Context, index, key, text string) error {
	vectors, err := s.embedder.EmbedTexts(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("pgvector memory: embed: %w", err)
	}
	vec := pgvec.NewVector(vectors[0])
	err = s.db.WithContext(ctx).Exec(`
		INSERT INTO memory_records (index_name, key, text, embedding, model, updated_at)
		VALUES (?, ?, ?, ?::vector, ?, now())
		ON CONFLICT (index_name, key)
		DO UPDATE SET text = EXCLUDED.text, embedding = EXCLUDED.embedding,
		              model = EXCLUDED.model, updated_at = EXCLUDED.updated_at`,
		index, key, text, vec, s.embedder.ModelName(),
	).Error
	if err != nil {
		return fmt.Errorf("pgvector memory: upsert: %w", err)
	}
	return nil
}

func (s *PgvectorStore) Get(ctx context.Context, index, key string) (*registrymemory.Record, error) {
	var rows []struct {
		Text string
	}
	err := s.db.WithContext(ctx).Raw(
		"SELECT text FROM memory_records WHERE index_name = ? AND key = ?", index, key,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("pgvector memory: get: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &registrymemory.Record{Index: index, Key: key, Text: rows[0].Text, Relevance: 1}, nil
}

type scoredRow struct {
	Key   string
	Text  string
	Score float64
}

func (s *PgvectorStore) Search(ctx context.Context, index, query string, limit int, minScore float64) iter.Seq2[registrymemory.Record, error] {
	if registrymemory.IsWildcard(query) {
		return s.scan(ctx, index, limit, minScore)
	}
	return s.similar(ctx, index, query, limit, minScore)
}

// scan walks the index in key order, one keyset page per query.
func (s *PgvectorStore) scan(ctx context.Context, index string, limit int, minScore float64) iter.Seq2[registrymemory.Record, error] {
	return func(yield func(registrymemory.Record, error) bool) {
		if minScore > 1 {
			return
		}
		after := ""
		emitted := 0
		for {
			var rows []scoredRow
			err := s.db.WithContext(ctx).Raw(`
				SELECT key, text, 1.0 AS score
				FROM memory_records
				WHERE index_name = ? AND key > ?
				ORDER BY key
				LIMIT ?`,
				index, after, s.pageSize,
			).Scan(&rows).Error
			if err != nil {
				yield(registrymemory.Record{}, fmt.Errorf("pgvector memory: scan: %w", err))
				return
			}
			for _, r := range rows {
				if !yield(registrymemory.Record{Index: index, Key: r.Key, Text: r.Text, Relevance: r.Score}, nil) {
					return
				}
				emitted++
				if limit > 0 && emitted >= limit {
					return
				}
			}
			if len(rows) < s.pageSize {
				return
			}
			after = rows[len(rows)-1].Key
		}
	}
}

// similar pages through rows ordered by cosine distance to the embedded query.
func (s *PgvectorStore) similar(ctx context.Context, index, query string, limit int, minScore float64) iter.Seq2[registrymemory.Record, error] {
	return func(yield func(registrymemory.Record, error) bool) {
		vectors, err := s.embedder.EmbedTexts(ctx, []string{query})
		if err != nil {
			yield(registrymemory.Record{}, fmt.Errorf("pgvector memory: embed: %w", err))
			return
		}
		vec := pgvec.NewVector(vectors[0])
		emitted := 0
		for offset := 0; ; offset += s.pageSize {
			var rows []scoredRow
			err := s.db.WithContext(ctx).Raw(`
				SELECT key, text, 1 - (embedding <=> ?::vector) AS score
				FROM memory_records
				WHERE index_name = ? AND embedding IS NOT NULL
				  AND 1 - (embedding <=> ?::vector) >= ?
				ORDER BY embedding <=> ?::vector, key
				LIMIT ? OFFSET ?`,
				vec, index, vec, minScore, vec, s.pageSize, offset,
			).Scan(&rows).Error
			if err != nil {
				yield(registrymemory.Record{}, fmt.Errorf("pgvector memory: search: %w", err))
				return
			}
			for _, r := range rows {
				if !yield(registrymemory.Record{Index: index, Key: r.Key, Text: r.Text, Relevance: r.Score}, nil) {
					return
				}
				emitted++
				if limit > 0 && emitted >= limit {
					return
				}
			}
			if len(rows) < s.pageSize {
				return
			}
		}
	}
}

var _ registrymemory.MemoryStore = (*PgvectorStore)(nil)
