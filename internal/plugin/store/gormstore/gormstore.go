// Package gormstore implements the chat directory and document-source
// tracking store on top of gorm. It registers the "postgres" and "sqlite"
// store plugins.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-memory/internal/config"
	"github.com/chirino/chat-memory/internal/metrics"
	"github.com/chirino/chat-memory/internal/model"
	registrymigrate "github.com/chirino/chat-memory/internal/registry/migrate"
	registrystore "github.com/chirino/chat-memory/internal/registry/store"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

func init() {
	for _, name := range []string{"postgres", "sqlite"} {
		registrystore.Register(registrystore.Plugin{
			Name: name,
			Loader: func(ctx context.Context) (registrystore.ChatStore, error) {
				return load(ctx, name)
			},
		})
	}
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &schemaMigrator{}})
}

func dialector(kind, dsn string) (gorm.Dialector, error) {
	switch kind {
	case "postgres":
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("gorm store: unsupported dialect %q", kind)
}

func open(kind, dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("gorm store: CHAT_MEMORY_DB_URL is required for %s", kind)
	}
	d, err := dialector(kind, dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(d, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", kind, err)
	}
	return db, nil
}

func load(ctx context.Context, kind string) (registrystore.ChatStore, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("gorm store: missing config in context")
	}
	db, err := open(kind, cfg.DBURL)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying db: %w", err)
	}
	maxOpen := cfg.DBMaxOpenConns
	if kind == "sqlite" {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY.
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)

	poolCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			metrics.SetDBPool(sqlDB.Stats().OpenConnections, maxOpen)
			select {
			case <-poolCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return &Store{db: db, kind: kind, stopPool: stop}, nil
}

type schemaMigrator struct{}

func (m *schemaMigrator) Name() string { return "gorm-schema" }

func (m *schemaMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.MigrateAtStart {
		return nil
	}
	if cfg.StoreType != "postgres" && cfg.StoreType != "sqlite" {
		return nil
	}
	log.Info("Running migration", "name", m.Name(), "dialect", cfg.StoreType)
	db, err := open(cfg.StoreType, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if err := db.WithContext(ctx).AutoMigrate(&model.Chat{}, &model.MemorySource{}); err != nil {
		return fmt.Errorf("migration: auto-migrate: %w", err)
	}
	log.Info("Chat store schema migration complete", "dialect", cfg.StoreType)
	return nil
}

// Store implements registrystore.ChatStore using gorm.
type Store struct {
	db       *gorm.DB
	kind     string
	stopPool context.CancelFunc
}

// New wraps an already opened gorm connection. The schema must exist.
func New(db *gorm.DB) *Store {
	return &Store{db: db, kind: db.Dialector.Name(), stopPool: func() {}}
}

func (s *Store) ListChats(ctx context.Context) ([]model.Chat, error) {
	var chats []model.Chat
	if err := s.db.WithContext(ctx).Order("id").Find(&chats).Error; err != nil {
		return nil, fmt.Errorf("list chats: %w", classify(err))
	}
	return chats, nil
}

func (s *Store) CreateChat(ctx context.Context, chat model.Chat) error {
	if strings.TrimSpace(chat.ID) == "" {
		return &registrystore.ValidationError{Field: "id", Message: "chat id is required"}
	}
	if chat.CreatedOn.IsZero() {
		chat.CreatedOn = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&chat).Error
	if err != nil {
		return fmt.Errorf("create chat: %w", classify(err))
	}
	return nil
}

func (s *Store) ListMemorySources(ctx context.Context) ([]model.MemorySource, error) {
	var sources []model.MemorySource
	if err := s.db.WithContext(ctx).Order("chat_id, id").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("list memory sources: %w", classify(err))
	}
	return sources, nil
}

func (s *Store) AddMemorySource(ctx context.Context, src model.MemorySource) error {
	if strings.TrimSpace(src.ID) == "" {
		return &registrystore.ValidationError{Field: "id", Message: "memory source id is required"}
	}
	if src.CreatedOn.IsZero() {
		src.CreatedOn = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&src).Error
	if err != nil {
		return fmt.Errorf("add memory source: %w", classify(err))
	}
	return nil
}

func (s *Store) DeleteMemorySource(ctx context.Context, src model.MemorySource) error {
	result := s.db.WithContext(ctx).Where("id = ?", src.ID).Delete(&model.MemorySource{})
	if result.Error != nil {
		return fmt.Errorf("delete memory source: %w", classify(result.Error))
	}
	if result.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "memory source", ID: src.ID}
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	s.stopPool()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// classify maps driver errors onto the registry error types.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return &registrystore.ConflictError{Message: pgErr.Message, Code: pgErr.Code}
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return &registrystore.ConflictError{Message: err.Error(), Code: "duplicate"}
	}
	return err
}

var _ registrystore.ChatStore = (*Store)(nil)
