package serve

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-memory/internal/app"
	"github.com/chirino/chat-memory/internal/config"
	"github.com/chirino/chat-memory/internal/metrics"
	"github.com/chirino/chat-memory/internal/plugin/route/memories"
	routesystem "github.com/chirino/chat-memory/internal/plugin/route/system"
	registryroute "github.com/chirino/chat-memory/internal/registry/route"
	"github.com/chirino/chat-memory/internal/service"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config   *config.Config
	App      *app.App
	Router   *gin.Engine
	Listener *Listener
	Runner   *service.MigrationRunner

	stopRunner context.CancelFunc
}

// Shutdown stops the migration runner, drains the listener and closes the stores.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.stopRunner != nil {
		s.stopRunner()
	}
	var errs []error
	if s.Listener != nil {
		errs = append(errs, s.Listener.Close(ctx))
	}
	if s.Runner != nil {
		select {
		case <-s.Runner.Done():
		case <-ctx.Done():
			log.Warn("Migration runner did not stop before the drain timeout")
		}
	}
	errs = append(errs, s.App.Close(ctx))
	return errors.Join(errs...)
}

// StartServer loads the stores, starts the memory migration in the background
// and serves HTTP. Use cfg.ManagementListener.Port=0 for a random port; the
// bound port is Server.Listener.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting chat memory service",
		"port", cfg.ManagementListener.Port,
		"memory", cfg.MemoryType,
		"target", cfg.EffectiveTargetMemoryType(),
		"db", cfg.StoreType,
		"embedding", cfg.EmbedType,
		"migration", cfg.MigrationEnabled,
	)

	if err := app.InitMetrics(cfg); err != nil {
		return nil, err
	}
	if cfg.MigrateAtStart {
		if err := app.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	a, err := app.Load(ctx, cfg)
	if err != nil {
		return nil, err
	}

	router, err := newRouter(cfg, a)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	srv := &Server{Config: cfg, App: a, Router: router}
	if cfg.MigrationEnabled {
		routesystem.TrackMigration(a.Coordinator.Status)
		runnerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		srv.stopRunner = cancel
		srv.Runner = service.NewMigrationRunner(a.Coordinator, cfg.MigrationRetryInterval)
		go srv.Runner.Start(runnerCtx)
	} else {
		routesystem.TrackMigration(nil)
		log.Info("Memory migration disabled")
	}

	srv.Listener, err = startListener(cfg.ManagementListener, router)
	if err != nil {
		_ = srv.Shutdown(ctx)
		return nil, err
	}
	log.Info("Server listening",
		"port", srv.Listener.Port,
		"plaintext", cfg.ManagementListener.EnablePlainText,
		"tls", cfg.ManagementListener.EnableTLS,
	)

	routesystem.MarkReady()
	return srv, nil
}

// newRouter mounts the management routes ungated and every chat-facing route
// behind the maintenance middleware.
func newRouter(cfg *config.Config, a *app.App) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(accessLog())
	} else {
		router.Use(accessLog("/health", "/ready", "/metrics", "/maintenanceStatus"))
	}
	router.Use(metrics.Middleware())

	for _, loader := range registryroute.ManagementRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load management routes: %w", err)
		}
	}

	gated := router.Group("/", routesystem.MaintenanceMiddleware(), maxBodySize(cfg.MaxBodySize))
	memories.MountRoutes(gated, a.Memories, a.Types, cfg.ConsolidatedIndex)
	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(gated); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}
	return router, nil
}
