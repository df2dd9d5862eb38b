package migrate

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-memory/internal/app"
	"github.com/chirino/chat-memory/internal/config"
	"github.com/urfave/cli/v3"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the store schemas and migrate legacy chat memories into the consolidated index",
		Flags: app.Flags(&cfg),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, err := prepare(ctx, &cfg)
			if err != nil {
				return err
			}
			// The migrators gate on MigrateAtStart; this command always runs them.
			cfg.MigrateAtStart = true
			log.Info("Running schema migrations...")
			if err := app.Migrate(ctx); err != nil {
				return err
			}
			return withApp(ctx, &cfg, func(a *app.App) error {
				if err := a.Coordinator.Run(ctx); err != nil {
					return err
				}
				st := a.Coordinator.Status()
				log.Info("Memory migration finished",
					"state", st.State,
					"chats", st.ChatsMigrated,
					"records", st.RecordsCopied,
					"sourcesDeleted", st.SourcesDeleted,
				)
				return nil
			})
		},
		Commands: []*cli.Command{
			statusCommand(&cfg),
			resetClaimCommand(&cfg),
		},
	}
}

func statusCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Print the migration sentinel and what it means",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, err := prepare(ctx, cfg)
			if err != nil {
				return err
			}
			return withApp(ctx, cfg, func(a *app.App) error {
				s, err := a.Coordinator.ReadSentinel(ctx)
				if err != nil {
					return err
				}
				return printSentinel(cmd.Root().Writer, s.Index, s.Key, s.Describe())
			})
		},
	}
}

func resetClaimCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "reset-claim",
		Usage: "Clear a stale claim left by an instance that died while migrating",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, err := prepare(ctx, cfg)
			if err != nil {
				return err
			}
			return withApp(ctx, cfg, func(a *app.App) error {
				previous, err := a.Coordinator.ResetClaim(ctx)
				if err != nil {
					return err
				}
				if previous == "" {
					log.Info("No claim to reset")
					return nil
				}
				log.Warn("Cleared migration claim; the next instance to start will migrate again", "token", previous)
				return nil
			})
		},
	}
}

func prepare(ctx context.Context, cfg *config.Config) (context.Context, error) {
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := app.InitMetrics(cfg); err != nil {
		return nil, err
	}
	return config.WithContext(ctx, cfg), nil
}

func withApp(ctx context.Context, cfg *config.Config, fn func(*app.App) error) error {
	a, err := app.Load(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(ctx); err != nil {
			log.Warn("Failed to close stores", "err", err)
		}
	}()
	return fn(a)
}

func printSentinel(w io.Writer, index, key, description string) error {
	_, err := fmt.Fprintf(w, "index: %s\nkey:   %s\nstate: %s\n", index, key, description)
	return err
}
