// Package db opens the registry databases and applies their migrations.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver
)

// Mode selects the pool shape of a SQLite handle.
type Mode string

// SQLite pool modes. A write pool holds a single connection so that writers
// serialize in Go instead of spinning on SQLITE_BUSY.
const (
	ModeWrite Mode = "write"
	ModeRead  Mode = "read"
)

// SQLite DSN parameters.
const (
	defaultBusyTimeout = "5000" // ms
	defaultSynchronous = "NORMAL"
	defaultJournalMode = "WAL"
	defaultReadConns   = 4
)

// OpenSQLite opens a *sql.DB pool for the given SQLite file path.
//
// A write pool has one connection and begins transactions with
// BEGIN IMMEDIATE. A read pool has maxOpen connections (0 means 4).
func OpenSQLite(path string, mode Mode, maxOpen int) (*sql.DB, error) {
	if mode != ModeRead && mode != ModeWrite {
		return nil, fmt.Errorf("invalid SQLite mode %q: must be %q or %q", mode, ModeRead, ModeWrite)
	}

	db, err := sql.Open("sqlite3", buildDSN(path, mode))
	if err != nil {
		return nil, fmt.Errorf("open sqlite (%s): %w", mode, err)
	}

	if mode == ModeWrite {
		maxOpen = 1
	} else if maxOpen <= 0 {
		maxOpen = defaultReadConns
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite (%s): %w", mode, err)
	}

	return db, nil
}

// Pair is a write pool and a read pool over the same SQLite file.
type Pair struct {
	Write *sql.DB
	Read  *sql.DB
}

// OpenSQLitePair opens both pools for path. The write pool is opened first so
// that it creates the file and switches it to WAL before readers attach.
func OpenSQLitePair(path string, readMaxOpen int) (*Pair, error) {
	writeDB, err := OpenSQLite(path, ModeWrite, 0)
	if err != nil {
		return nil, err
	}

	readDB, err := OpenSQLite(path, ModeRead, readMaxOpen)
	if err != nil {
		_ = writeDB.Close()
		return nil, err
	}

	return &Pair{Write: writeDB, Read: readDB}, nil
}

// Close closes both pools.
func (p *Pair) Close() error {
	return errors.Join(p.Read.Close(), p.Write.Close())
}

func buildDSN(path string, mode Mode) string {
	params := url.Values{}
	params.Set("_journal_mode", defaultJournalMode)
	params.Set("_busy_timeout", defaultBusyTimeout)
	params.Set("_synchronous", defaultSynchronous)
	params.Set("_foreign_keys", "on")

	if mode == ModeWrite {
		params.Set("_txlock", "immediate")
	}

	return path + "?" + params.Encode()
}
