package app

import (
	"strings"

	"github.com/chirino/chat-memory/internal/config"
	registryembed "github.com/chirino/chat-memory/internal/registry/embed"
	registrymemory "github.com/chirino/chat-memory/internal/registry/memory"
	registrystore "github.com/chirino/chat-memory/internal/registry/store"
	"github.com/urfave/cli/v3"
)

// Flags returns the store, embedding and migration flags shared by the
// serve and migrate commands.
func Flags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{

		// ── Memory Store ──────────────────────────────────────────
		&cli.StringFlag{
			Name:        "memory-kind",
			Category:    "Memory Store:",
			Sources:     cli.EnvVars("CHAT_MEMORY_MEMORY_KIND"),
			Destination: &cfg.MemoryType,
			Value:       cfg.MemoryType,
			Usage:       "Memory store holding the legacy indices and the migration sentinel (" + strings.Join(registrymemory.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "target-memory-kind",
			Category:    "Memory Store:",
			Sources:     cli.EnvVars("CHAT_MEMORY_TARGET_MEMORY_KIND"),
			Destination: &cfg.TargetMemoryType,
			Usage:       "Memory store receiving the consolidated index; defaults to --memory-kind",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Memory Store:",
			Sources:     cli.EnvVars("CHAT_MEMORY_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis URL (e.g. redis://localhost:6379/0)",
		},
		&cli.StringFlag{
			Name:        "qdrant-host",
			Category:    "Memory Store:",
			Sources:     cli.EnvVars("CHAT_MEMORY_QDRANT_HOST"),
			Destination: &cfg.QdrantHost,
			Value:       cfg.QdrantAddress(),
			Usage:       "Qdrant host or host:port",
		},
		&cli.StringFlag{
			Name:        "qdrant-api-key",
			Category:    "Memory Store:",
			Sources:     cli.EnvVars("CHAT_MEMORY_QDRANT_API_KEY"),
			Destination: &cfg.QdrantAPIKey,
			Usage:       "Qdrant API key",
		},
		&cli.BoolFlag{
			Name:        "qdrant-use-tls",
			Category:    "Memory Store:",
			Sources:     cli.EnvVars("CHAT_MEMORY_QDRANT_USE_TLS"),
			Destination: &cfg.QdrantUseTLS,
			Usage:       "Dial Qdrant over TLS",
		},
		&cli.StringFlag{
			Name:        "chroma-path",
			Category:    "Memory Store:",
			Sources:     cli.EnvVars("CHAT_MEMORY_CHROMA_PATH"),
			Destination: &cfg.ChromaPath,
			Usage:       "Directory persisting the chroma collections; empty keeps them in memory",
		},

		// ── Database ──────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_MEMORY_DB_KIND"),
			Destination: &cfg.StoreType,
			Value:       cfg.StoreType,
			Usage:       "Chat and memory-source store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("CHAT_MEMORY_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database URL (postgres DSN, sqlite path or mongodb URI); also used by --memory-kind=pgvector",
		},

		// ── Embedding ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embedding-kind",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("CHAT_MEMORY_EMBEDDING_KIND"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedding provider (" + strings.Join(registryembed.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "embedding-openai-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("CHAT_MEMORY_EMBEDDING_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key",
		},
		&cli.Int64Flag{
			Name:        "embedding-cache-size",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("CHAT_MEMORY_EMBEDDING_CACHE_SIZE"),
			Destination: &cfg.EmbedCacheSize,
			Value:       cfg.EmbedCacheSize,
			Usage:       "Number of embeddings kept in memory; 0 disables the cache",
		},
		&cli.IntFlag{
			Name:        "embedding-local-dimensions",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("CHAT_MEMORY_EMBEDDING_LOCAL_DIMENSIONS"),
			Destination: &cfg.LocalEmbedDimensions,
			Value:       cfg.LocalEmbedDimensions,
			Usage:       "Vector length of the local hashing embedder",
		},

		// ── Memory Migration ──────────────────────────────────────
		&cli.StringFlag{
			Name:        "consolidated-index",
			Category:    "Memory Migration:",
			Sources:     cli.EnvVars("CHAT_MEMORY_CONSOLIDATED_INDEX"),
			Destination: &cfg.ConsolidatedIndex,
			Value:       cfg.ConsolidatedIndex,
			Usage:       "Index receiving every chat memory",
		},
		&cli.StringFlag{
			Name:        "memory-types",
			Category:    "Memory Migration:",
			Sources:     cli.EnvVars("CHAT_MEMORY_MEMORY_TYPES"),
			Destination: &cfg.MemoryTypes,
			Value:       cfg.MemoryTypes,
			Usage:       "Comma-separated memory type labels naming the legacy indices",
		},
		&cli.DurationFlag{
			Name:        "claim-grace-window",
			Category:    "Memory Migration:",
			Sources:     cli.EnvVars("CHAT_MEMORY_CLAIM_GRACE_WINDOW"),
			Destination: &cfg.ClaimGraceWindow,
			Value:       cfg.ClaimGraceWindow,
			Usage:       "Delay between writing a claim token and re-reading it",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("CHAT_MEMORY_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}
