package mongo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-memory/internal/config"
	"github.com/chirino/chat-memory/internal/model"
	registrymigrate "github.com/chirino/chat-memory/internal/registry/migrate"
	registrystore "github.com/chirino/chat-memory/internal/registry/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	chatsCollection   = "chats"
	sourcesCollection = "memory_sources"
)

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context) (registrystore.ChatStore, error) {
			cfg := config.FromContext(ctx)
			if cfg == nil || cfg.DBURL == "" {
				return nil, fmt.Errorf("mongo store: CHAT_MEMORY_DB_URL is required")
			}
			opts := options.Client().ApplyURI(cfg.DBURL)
			if cfg.DBMaxOpenConns > 0 {
				opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
			}
			if cfg.DBMaxIdleConns > 0 {
				opts.SetMinPoolSize(uint64(cfg.DBMaxIdleConns))
			}
			client, err := mongo.Connect(opts)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
			}
			if err := client.Ping(ctx, nil); err != nil {
				_ = client.Disconnect(ctx)
				return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
			}
			return &MongoStore{client: client, db: client.Database(databaseName(cfg))}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &mongoMigrator{}})
}

func databaseName(cfg *config.Config) string {
	if cfg.MongoDatabase != "" {
		return cfg.MongoDatabase
	}
	return "chat_memory"
}

type mongoMigrator struct{}

func (m *mongoMigrator) Name() string { return "mongo-schema" }
func (m *mongoMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.MigrateAtStart || cfg.StoreType != "mongo" {
		return nil
	}

	log.Info("Running migration", "name", m.Name())
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DBURL))
	if err != nil {
		return fmt.Errorf("mongo migration: failed to connect: %w", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(databaseName(cfg))
	collections := map[string][]mongo.IndexModel{
		chatsCollection: nil,
		sourcesCollection: {
			{Keys: bson.D{{Key: "chat_id", Value: 1}}},
		},
	}
	for name, indexes := range collections {
		// Already existing collections are fine.
		_ = db.CreateCollection(ctx, name)
		if len(indexes) > 0 {
			if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
				return fmt.Errorf("mongo migration: failed to create indexes for %s: %w", name, err)
			}
		}
	}

	log.Info("MongoDB schema migration complete")
	return nil
}

// MongoStore implements registrystore.ChatStore using MongoDB.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func (s *MongoStore) ListChats(ctx context.Context) ([]model.Chat, error) {
	var chats []model.Chat
	if err := s.findAll(ctx, chatsCollection, &chats); err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

func (s *MongoStore) CreateChat(ctx context.Context, chat model.Chat) error {
	if strings.TrimSpace(chat.ID) == "" {
		return &registrystore.ValidationError{Field: "id", Message: "chat id is required"}
	}
	if chat.CreatedOn.IsZero() {
		chat.CreatedOn = time.Now().UTC()
	}
	if err := s.upsert(ctx, chatsCollection, chat.ID, chat); err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	return nil
}

func (s *MongoStore) ListMemorySources(ctx context.Context) ([]model.MemorySource, error) {
	var sources []model.MemorySource
	if err := s.findAll(ctx, sourcesCollection, &sources); err != nil {
		return nil, fmt.Errorf("list memory sources: %w", err)
	}
	return sources, nil
}

func (s *MongoStore) AddMemorySource(ctx context.Context, src model.MemorySource) error {
	if strings.TrimSpace(src.ID) == "" {
		return &registrystore.ValidationError{Field: "id", Message: "memory source id is required"}
	}
	if src.CreatedOn.IsZero() {
		src.CreatedOn = time.Now().UTC()
	}
	if err := s.upsert(ctx, sourcesCollection, src.ID, src); err != nil {
		return fmt.Errorf("add memory source: %w", err)
	}
	return nil
}

func (s *MongoStore) DeleteMemorySource(ctx context.Context, src model.MemorySource) error {
	result, err := s.db.Collection(sourcesCollection).DeleteOne(ctx, bson.M{"_id": src.ID})
	if err != nil {
		return fmt.Errorf("delete memory source: %w", err)
	}
	if result.DeletedCount == 0 {
		return &registrystore.NotFoundError{Resource: "memory source", ID: src.ID}
	}
	return nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) upsert(ctx context.Context, collection, id string, doc any) error {
	_, err := s.db.Collection(collection).ReplaceOne(ctx,
		bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return &registrystore.ConflictError{Message: err.Error(), Code: "duplicate"}
	}
	return err
}

func (s *MongoStore) findAll(ctx context.Context, collection string, out any) error {
	cursor, err := s.db.Collection(collection).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return err
	}
	return cursor.All(ctx, out)
}

var _ registrystore.ChatStore = (*MongoStore)(nil)
