// Package store is the embedded relational knowledge store: subsystems,
// disciplines, tasks, task comments, and signals, with the invariants and
// cascade policies from spec §3.2/§4.1/§4.2. Grounded on
// internal/memory/operational.go and internal/memory/learning.go's
// //go:embed schema.sql + WAL + single-connection pattern.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// DB is the single-writer, multi-reader handle over the knowledge store.
// One process owns one DB; multi-process access is explicitly unsupported
// (spec §5's shared-resource policy).
type DB struct {
	conn *sql.DB
}

// Open creates or opens the sqlite-backed knowledge store at path and
// applies the embedded schema. WAL mode + a single pooled connection keep
// writes serialized the way spec §5 requires without external locking.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge store: %w", err)
	}

	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -64000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply pragma %q: %w", p, err)
		}
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Printf("[STORE] opened knowledge store at %s", path)
	return &DB{conn: conn}, nil
}

// Close releases the underlying database handle.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn exposes the raw *sql.DB for components (embedstore) that
// share this same database file as additional tables.
func (d *DB) Conn() *sql.DB {
	return d.conn
}
