package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const runTimeout = time.Minute

// Runner applies the delivery log schema with goose.
type Runner struct {
	dsn           string
	migrationsDir string
	log           *slog.Logger
}

// New returns a migration runner for the database at dsn.
func New(dsn, migrationsDir string, log *slog.Logger) (Runner, error) {
	if dsn == "" {
		return Runner{}, errors.New("empty database dsn")
	}
	if migrationsDir == "" {
		return Runner{}, errors.New("empty migrations directory")
	}
	if _, err := os.Stat(migrationsDir); err != nil {
		return Runner{}, fmt.Errorf("locate migrations dir: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return Runner{dsn: dsn, migrationsDir: migrationsDir, log: log.With("component", "migrate")}, nil
}

// Ensure applies pending migrations.
func (r Runner) Ensure(ctx context.Context) error {
	return r.withDB(ctx, func(ctx context.Context, db *sql.DB) error {
		r.log.Info("applying migrations", "dir", r.migrationsDir)
		if err := goose.UpContext(ctx, db, r.migrationsDir); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		version, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return fmt.Errorf("read schema version: %w", err)
		}
		r.log.Info("migrations applied", "version", version)
		return nil
	})
}

// Status prints applied and pending migrations.
func (r Runner) Status(ctx context.Context) error {
	return r.withDB(ctx, func(ctx context.Context, db *sql.DB) error {
		r.log.Info("migration status", "dir", r.migrationsDir)
		if err := goose.StatusContext(ctx, db, r.migrationsDir); err != nil {
			return fmt.Errorf("migration status: %w", err)
		}
		return nil
	})
}

// Down rolls back the latest migration, or down to targetVersion when positive.
func (r Runner) Down(ctx context.Context, targetVersion int64) error {
	return r.withDB(ctx, func(ctx context.Context, db *sql.DB) error {
		if targetVersion > 0 {
			r.log.Info("rolling back migrations", "target", targetVersion)
			if err := goose.DownToContext(ctx, db, r.migrationsDir, targetVersion); err != nil {
				return fmt.Errorf("rollback to version %d: %w", targetVersion, err)
			}
		} else {
			r.log.Info("rolling back latest migration")
			if err := goose.DownContext(ctx, db, r.migrationsDir); err != nil {
				return fmt.Errorf("rollback latest migration: %w", err)
			}
		}
		r.log.Info("rollback complete")
		return nil
	})
}

func (r Runner) withDB(ctx context.Context, fn func(context.Context, *sql.DB) error) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}
	db, err := sql.Open("pgx", r.dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer db.Close()

	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()
	if err := db.PingContext(runCtx); err != nil {
		return fmt.Errorf("ping sql connection: %w", err)
	}
	return fn(runCtx, db)
}
