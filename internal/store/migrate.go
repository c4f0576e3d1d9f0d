package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations applies all pending schema migrations to the database at dsn.
func RunMigrations(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("read migration version: %w", err)
	}
	slog.Info("database schema up to date", "version", version, "dirty", dirty)
	return nil
}

// MigrateWithRetry runs RunMigrations under policy, so a database that is
// still starting up does not fail the caller on the first attempt.
func MigrateWithRetry(ctx context.Context, dsn string, policy RetryPolicy) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := RunMigrations(dsn)
		if err != nil {
			slog.Warn("migration attempt failed", "attempt", attempt, "error", err)
		}
		return err
	}, policy.backOff(ctx))
}

// KeepMigrating repeats MigrateWithRetry until it succeeds or ctx ends.
func KeepMigrating(ctx context.Context, dsn string, policy RetryPolicy) {
	pause := max(policy.MaxInterval, time.Second)
	for {
		if err := MigrateWithRetry(ctx, dsn, policy); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(pause):
		}
	}
}
