// Package postgres implements the knowledge store driver on PostgreSQL with
// the pgvector extension.
package postgres

import (
	"database/sql"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/attuneai/attune/store"
)

// DB is the PostgreSQL-backed knowledge store driver.
type DB struct {
	db *sql.DB
}

// NewDB opens a connection pool against the given DSN.
func NewDB(dsn string) (*DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres connection")
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping postgres")
	}
	return &DB{db: db}, nil
}

// Close releases the connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}

var _ store.Driver = (*DB)(nil)
