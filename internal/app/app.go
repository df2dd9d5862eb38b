// Package app loads the configured plugins and assembles the memory
// migration coordinator shared by the serve and migrate commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-memory/internal/config"
	"github.com/chirino/chat-memory/internal/memoryclient"
	"github.com/chirino/chat-memory/internal/memorytypes"
	"github.com/chirino/chat-memory/internal/metrics"
	"github.com/chirino/chat-memory/internal/migration"
	storemetrics "github.com/chirino/chat-memory/internal/plugin/store/metrics"
	registrymemory "github.com/chirino/chat-memory/internal/registry/memory"
	registrymigrate "github.com/chirino/chat-memory/internal/registry/migrate"
	registrystore "github.com/chirino/chat-memory/internal/registry/store"

	// Import all plugins to trigger init() registration
	_ "github.com/chirino/chat-memory/internal/plugin/embed/disabled"
	_ "github.com/chirino/chat-memory/internal/plugin/embed/local"
	_ "github.com/chirino/chat-memory/internal/plugin/embed/openai"
	_ "github.com/chirino/chat-memory/internal/plugin/memory/chroma"
	_ "github.com/chirino/chat-memory/internal/plugin/memory/pgvector"
	_ "github.com/chirino/chat-memory/internal/plugin/memory/qdrant"
	_ "github.com/chirino/chat-memory/internal/plugin/memory/redis"
	_ "github.com/chirino/chat-memory/internal/plugin/memory/volatile"
	_ "github.com/chirino/chat-memory/internal/plugin/store/gormstore"
	_ "github.com/chirino/chat-memory/internal/plugin/store/mongo"
	_ "github.com/chirino/chat-memory/internal/plugin/store/volatile"
)

// App holds the loaded stores and the coordinator built on them.
type App struct {
	Config      *config.Config
	Memory      registrymemory.MemoryStore
	Target      registrymemory.MemoryStore
	Chats       registrystore.ChatStore
	Types       *memorytypes.Registry
	Memories    *memoryclient.Client
	Coordinator *migration.Coordinator
}

// InitMetrics registers the Prometheus metrics with the configured labels.
func InitMetrics(cfg *config.Config) error {
	labels, err := metrics.ParseLabels(cfg.MetricsLabels)
	if err != nil {
		return fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	metrics.Init(labels)
	return nil
}

// Migrate runs the schema migrators of the configured backends.
func Migrate(ctx context.Context) error {
	if err := registrymigrate.RunAll(ctx); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	return nil
}

// Load opens every configured store. ctx must carry cfg.
func Load(ctx context.Context, cfg *config.Config) (*App, error) {
	types, err := memorytypes.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Types: types}

	if a.Memory, err = loadMemory(ctx, cfg.MemoryType); err != nil {
		return nil, err
	}
	if target := cfg.EffectiveTargetMemoryType(); target == cfg.MemoryType {
		a.Target = a.Memory
	} else if a.Target, err = loadMemory(ctx, target); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	storeLoader, err := registrystore.Select(cfg.StoreType)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	chats, err := storeLoader(ctx)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	a.Chats = storemetrics.Wrap(chats)
	a.Memories = memoryclient.New(a.Target)

	a.Coordinator = migration.New(a.Memory, a.Target, a.Chats, a.Chats, types, migration.Options{
		SentinelIndex:     cfg.SentinelIndex,
		SentinelKey:       cfg.SentinelKey,
		ConsolidatedIndex: cfg.ConsolidatedIndex,
		GraceWindow:       cfg.ClaimGraceWindow,
	})

	log.Info("Stores loaded",
		"memory", a.Memory.Name(),
		"target", a.Target.Name(),
		"store", cfg.StoreType,
		"memoryTypes", types.Labels(),
	)
	return a, nil
}

func loadMemory(ctx context.Context, kind string) (registrymemory.MemoryStore, error) {
	loader, err := registrymemory.Select(kind)
	if err != nil {
		return nil, err
	}
	store, err := loader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s memory store: %w", kind, err)
	}
	return store, nil
}

// Close releases every opened store.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Chats != nil {
		errs = append(errs, a.Chats.Close(ctx))
	}
	if c, ok := a.Target.(io.Closer); ok && a.Target != a.Memory {
		errs = append(errs, c.Close())
	}
	if c, ok := a.Memory.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
