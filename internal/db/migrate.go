package db

import (
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

// Migration directories inside EmbedMigrations.
const (
	sqliteMigrationsDir   = "migrations"
	postgresMigrationsDir = "migrations/postgres"
)

// RunMigrations applies pending SQLite migrations to the registry database.
func RunMigrations(db *sql.DB) error {
	return runGoose(db, "sqlite3", sqliteMigrationsDir)
}

// RunPostgresMigrations applies pending PostgreSQL migrations. db must be a
// database/sql handle, e.g. from stdlib.OpenDBFromPool.
func RunPostgresMigrations(db *sql.DB) error {
	return runGoose(db, "postgres", postgresMigrationsDir)
}

func runGoose(db *sql.DB, dialect, dir string) error {
	goose.SetBaseFS(EmbedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}

	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("goose up (%s): %w", dialect, err)
	}

	return nil
}
