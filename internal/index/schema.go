// Package index provides the SQLite-backed durable image of the graph store
// and the literal text search index over source documents.
package index

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/starford/plotweave/internal/apperr"
)

// schemaVersion is bumped whenever coreSchemaSQL changes incompatibly.
const schemaVersion = 1

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
	id         TEXT PRIMARY KEY,
	seq        INTEGER NOT NULL,
	label      TEXT NOT NULL,
	name       TEXT NOT NULL,
	properties TEXT NOT NULL DEFAULT '{}',
	UNIQUE(label, name)
);

CREATE TABLE IF NOT EXISTS edges (
	seq            INTEGER PRIMARY KEY,
	source         TEXT NOT NULL,
	predicate      TEXT NOT NULL,
	target         TEXT NOT NULL,
	properties     TEXT NOT NULL DEFAULT '{}',
	origin_file    TEXT NOT NULL,
	origin_version TEXT NOT NULL DEFAULT '',
	UNIQUE(source, predicate, target, origin_file)
);

CREATE INDEX IF NOT EXISTS idx_edges_origin ON edges(origin_file);

CREATE TABLE IF NOT EXISTS node_files (
	node_id     TEXT NOT NULL,
	origin_file TEXT NOT NULL,
	pos         INTEGER NOT NULL,
	UNIQUE(node_id, origin_file)
);

CREATE INDEX IF NOT EXISTS idx_node_files_origin ON node_files(origin_file);

CREATE TABLE IF NOT EXISTS documents (
	path       TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	version    TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL DEFAULT '',
	folded     TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Meta keys.
const (
	metaSchemaVersion = "schema_version"
	metaGraphVersion  = "graph_version"
	metaNextNodeSeq   = "next_node_seq"
	metaNextEdgeSeq   = "next_edge_seq"
)

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database, verifies its integrity and
// applies the schema. A database that exists but cannot be read back is
// reported as apperr.ErrCorruptIndex rather than silently recreated.
func Open(path string) (*DB, error) {
	conn, err := sql.Open(driverName, dsn(path))
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, apperr.Corrupt("ping "+path, err)
	}
	if err := checkIntegrity(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, apperr.Corrupt("apply core schema", err)
	}
	if err := checkSchemaVersion(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &DB{conn: conn}, nil
}

func checkIntegrity(conn *sql.DB) error {
	var res string
	if err := conn.QueryRow(`PRAGMA quick_check`).Scan(&res); err != nil {
		return apperr.Corrupt("integrity check", err)
	}
	if res != "ok" {
		return apperr.Corrupt("integrity check: "+res, nil)
	}
	return nil
}

func checkSchemaVersion(conn *sql.DB) error {
	var raw string
	err := conn.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaSchemaVersion).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = conn.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, metaSchemaVersion, strconv.Itoa(schemaVersion))
		if err != nil {
			return fmt.Errorf("index: write schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return apperr.Corrupt("read schema version", err)
	}
	if v, convErr := strconv.Atoi(raw); convErr != nil || v != schemaVersion {
		return apperr.Corrupt(fmt.Sprintf("schema version %q, want %d", raw, schemaVersion), nil)
	}
	return nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
