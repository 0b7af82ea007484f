// Package sqlite implements the knowledge store driver on an embedded SQLite
// database. There is no pgvector equivalent, so similarity search scans
// candidate embeddings in process. Intended for dev and small deployments;
// use PostgreSQL in production.
package sqlite

import (
	"database/sql"

	// Import the pure-Go SQLite driver.
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/attuneai/attune/store"
)

// DB is the SQLite-backed knowledge store driver.
type DB struct {
	db *sql.DB
}

// NewDB opens the database file at the given DSN.
func NewDB(dsn string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open sqlite database")
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping sqlite database")
	}
	return &DB{db: db}, nil
}

// Close releases the database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

var _ store.Driver = (*DB)(nil)
