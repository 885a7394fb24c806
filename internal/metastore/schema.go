// Package metastore provides the SQLite-backed object and metadata store
// the replication engine reads from and the replica API persists into.
package metastore

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS objects (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'draft',
	title      TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	slug       TEXT NOT NULL DEFAULT '',
	template   TEXT NOT NULL DEFAULT '',
	mime_type  TEXT NOT NULL DEFAULT '',
	parent     INTEGER NOT NULL DEFAULT 0,
	featured   INTEGER NOT NULL DEFAULT 0,
	author     INTEGER NOT NULL DEFAULT 0,
	date       DATETIME,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS object_meta (
	object_id  INTEGER NOT NULL,
	meta_type  TEXT NOT NULL DEFAULT 'post',
	meta_key   TEXT NOT NULL,
	meta_value TEXT NOT NULL DEFAULT '[]',
	UNIQUE(object_id, meta_type, meta_key)
);

CREATE INDEX IF NOT EXISTS idx_meta_object ON object_meta(object_id, meta_type);

CREATE TABLE IF NOT EXISTS terms (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	taxonomy TEXT NOT NULL,
	name     TEXT NOT NULL DEFAULT '',
	slug     TEXT NOT NULL DEFAULT '',
	parent   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_terms_parent ON terms(parent);

CREATE TABLE IF NOT EXISTS object_terms (
	object_id INTEGER NOT NULL,
	term_id   INTEGER NOT NULL,
	UNIQUE(object_id, term_id)
);
`

// DB wraps a sql.DB with metastore operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("metastore: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("metastore: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("metastore: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
