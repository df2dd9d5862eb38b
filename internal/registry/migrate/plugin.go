// Package migrate holds the schema migrators contributed by store plugins.
// These prepare tables, collections and vector indices; they are unrelated
// to the one-time memory migration in internal/migration.
package migrate

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/charmbracelet/log"
)

// Migrator prepares the schema of one backend.
type Migrator interface {
	Name() string
	Migrate(ctx context.Context) error
}

// Plugin pairs a Migrator with its position in the run order. Chat stores use
// 100, memory stores 200.
type Plugin struct {
	Order    int
	Migrator Migrator
}

var plugins []Plugin

// Register adds a migrator. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names lists the registered migrators in run order.
func Names() []string {
	sorted := ordered()
	names := make([]string, len(sorted))
	for i, p := range sorted {
		names[i] = p.Migrator.Name()
	}
	return names
}

func ordered() []Plugin {
	sorted := slices.Clone(plugins)
	slices.SortStableFunc(sorted, func(a, b Plugin) int { return cmp.Compare(a.Order, b.Order) })
	return sorted
}

// RunAll runs every registered migrator by ascending Order and stops at the
// first failure. Migrators decide from the config in ctx whether they apply.
func RunAll(ctx context.Context) error {
	for _, p := range ordered() {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Debug("Schema migrator", "name", p.Migrator.Name(), "order", p.Order)
		if err := p.Migrator.Migrate(ctx); err != nil {
			return fmt.Errorf("schema migration %s failed: %w", p.Migrator.Name(), err)
		}
	}
	return nil
}
