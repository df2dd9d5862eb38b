package config

import (
	"context"
	"strings"
	"time"
)

// ListenerConfig holds the network/TLS settings for the management listener.
type ListenerConfig struct {
	Port              int
	EnablePlainText   bool
	EnableTLS         bool
	TLSCertFile       string
	TLSKeyFile        string
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	// DefaultSentinelIndex is the index holding the migration sentinel record.
	DefaultSentinelIndex = "chat-memory-migration"
	// DefaultSentinelKey is the fixed key of the migration sentinel record.
	DefaultSentinelKey = "migrate-00000000-0000-0000-0000-000000000000"
	// DefaultConsolidatedIndex is the index that replaces the per-chat legacy indices.
	DefaultConsolidatedIndex = "chatmemory"
)

// Config holds all configuration for the chat memory service.
type Config struct {
	// Memory store holding the sentinel and the legacy per-chat indices.
	MemoryType string // "volatile", "qdrant", "pgvector", "redis", or "chroma"

	// Memory store receiving the consolidated index. Empty reuses MemoryType.
	TargetMemoryType string

	// Chat directory and document-source tracking store.
	StoreType string // "volatile", "postgres", "sqlite", or "mongo"

	// Database (postgres/pgvector DSN, sqlite path, or mongo URI).
	DBURL string

	// Mongo database name.
	MongoDatabase string

	// Run datastore/vector schema migrations on startup.
	MigrateAtStart bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Redis
	RedisURL       string
	RedisKeyPrefix string
	RedisScanCount int64

	// Qdrant
	QdrantHost             string
	QdrantPort             int
	QdrantAPIKey           string
	QdrantUseTLS           bool
	QdrantCollectionPrefix string
	QdrantStartupTimeout   time.Duration
	QdrantPageSize         int

	// Chroma (chromem-go). Empty path keeps the collections in memory.
	ChromaPath     string
	ChromaCompress bool

	// pgvector keyset page size for wildcard enumeration.
	PgvectorPageSize int

	// Embedding type
	EmbedType string // "none", "local", or "openai"

	// Number of embeddings kept by the embedding cache; 0 disables it.
	EmbedCacheSize int64

	// Vector length of the local hashing embedder.
	LocalEmbedDimensions int

	// OpenAI
	OpenAIAPIKey     string
	OpenAIModelName  string
	OpenAIBaseURL    string
	OpenAIDimensions int

	// Migration
	MigrationEnabled       bool
	SentinelIndex          string
	SentinelKey            string
	ConsolidatedIndex      string
	MemoryTypes            string // comma-separated, ordered
	ClaimGraceWindow       time.Duration
	MigrationRetryInterval time.Duration

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	MetricsLabels string

	// Management server (health, readiness, maintenance status, metrics).
	ManagementListener  ListenerConfig
	ManagementAccessLog bool

	// Request body limit for the memory routes (bytes); 0 disables it.
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MemoryType:             "volatile",
		StoreType:              "volatile",
		MongoDatabase:          "chat_memory",
		MigrateAtStart:         true,
		DBMaxOpenConns:         25,
		DBMaxIdleConns:         5,
		RedisKeyPrefix:         "chat-memory",
		RedisScanCount:         100,
		QdrantHost:             "localhost",
		QdrantPort:             6334,
		QdrantCollectionPrefix: "",
		QdrantStartupTimeout:   30 * time.Second,
		QdrantPageSize:         256,
		PgvectorPageSize:       500,
		EmbedType:              "local",
		LocalEmbedDimensions:   384,
		OpenAIModelName:        "text-embedding-3-small",
		OpenAIBaseURL:          "https://api.openai.com/v1",
		MigrationEnabled:       true,
		SentinelIndex:          DefaultSentinelIndex,
		SentinelKey:            DefaultSentinelKey,
		ConsolidatedIndex:      DefaultConsolidatedIndex,
		MemoryTypes:            "LongTermMemory,WorkingMemory",
		ClaimGraceWindow:       3 * time.Second,
		MigrationRetryInterval: time.Minute,
		MetricsLabels:          "service=chat-memory",
		ManagementListener: ListenerConfig{
			Port:              9090,
			EnablePlainText:   true,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize:  1 << 20,
		DrainTimeout: 30,
	}
}

// EffectiveTargetMemoryType returns the store kind used for the consolidated index.
func (c *Config) EffectiveTargetMemoryType() string {
	if c == nil {
		return ""
	}
	if t := strings.TrimSpace(c.TargetMemoryType); t != "" {
		return t
	}
	return c.MemoryType
}

// MemoryTypeLabels splits MemoryTypes into trimmed labels, keeping their order.
func (c *Config) MemoryTypeLabels() []string {
	if c == nil {
		return nil
	}
	var labels []string
	for _, l := range strings.Split(c.MemoryTypes, ",") {
		if l = strings.TrimSpace(l); l != "" {
			labels = append(labels, l)
		}
	}
	return labels
}
