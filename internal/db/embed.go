package db

import "embed"

// EmbedMigrations contains the SQLite migrations at migrations/ and the
// PostgreSQL migrations at migrations/postgres/.
//
//go:embed migrations/*.sql migrations/postgres/*.sql
var EmbedMigrations embed.FS
