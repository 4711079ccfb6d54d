package storage

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// Migrator wraps bun's migration runner over this package's schema.
type Migrator struct {
	migrator *migrate.Migrator
}

// NewMigrator discovers migrations under migrationsFS and binds them to db.
func NewMigrator(db *bun.DB, migrationsFS fs.FS) (*Migrator, error) {
	migrations := migrate.NewMigrations()
	if err := migrations.Discover(migrationsFS); err != nil {
		return nil, fmt.Errorf("failed to discover migrations: %w", err)
	}
	return &Migrator{migrator: migrate.NewMigrator(db, migrations)}, nil
}

// Init creates bun's migration tracking tables.
func (m *Migrator) Init(ctx context.Context) error {
	return m.migrator.Init(ctx)
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	group, err := m.migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	if group.IsZero() {
		slog.Info("no new migrations to run")
		return nil
	}
	slog.Info("migrations applied", slog.Int64("group", group.ID), slog.Int("count", len(group.Migrations)))
	return nil
}

// Down rolls back the most recently applied migration group.
func (m *Migrator) Down(ctx context.Context) error {
	group, err := m.migrator.Rollback(ctx)
	if err != nil {
		return fmt.Errorf("failed to rollback: %w", err)
	}
	if group.IsZero() {
		slog.Info("no migrations to rollback")
		return nil
	}
	slog.Info("migration group rolled back", slog.Int64("group", group.ID))
	return nil
}

// Status reports every migration's applied/pending state.
func (m *Migrator) Status(ctx context.Context) (migrate.MigrationSlice, error) {
	ms, err := m.migrator.MigrationsWithStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get migration status: %w", err)
	}
	return ms, nil
}
