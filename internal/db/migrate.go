// Package db holds the PostgreSQL schema for the transaction store and runs
// its goose migrations.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	dialect = "postgres"

	// SourceDir is where new migration files are created, relative to the
	// repository root
	SourceDir = "internal/db/migrations"
)

// Migrate runs a goose command (up, down, status, ...) against dsn using the
// migrations compiled into the binary. create writes a new file under dir
// on disk instead.
func Migrate(ctx context.Context, dsn, command, dir string, args ...string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}

	if command == "create" {
		goose.SetBaseFS(nil)
	} else {
		goose.SetBaseFS(migrations)
		dir = "migrations"
	}

	if err := goose.RunContext(ctx, command, db, dir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}
