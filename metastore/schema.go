package metastore

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is bumped whenever the persisted layout changes.
const SchemaVersion = 1

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Schema returns the DDL statements for the record tables.
func Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS memories (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    id            TEXT NOT NULL UNIQUE,
    content       TEXT NOT NULL,
    content_hash  TEXT NOT NULL,
    metadata      TEXT NOT NULL DEFAULT '{}',
    created_at    INTEGER NOT NULL,
    updated_at    INTEGER NOT NULL,
    tombstoned_at INTEGER
)`,
		`CREATE INDEX IF NOT EXISTS memories_content_hash ON memories(content_hash)`,
		`CREATE INDEX IF NOT EXISTS memories_created ON memories(created_at, seq)`,
		`CREATE TABLE IF NOT EXISTS memory_tags (
    memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
    tag       TEXT NOT NULL,
    PRIMARY KEY(memory_id, tag)
)`,
		`CREATE INDEX IF NOT EXISTS memory_tags_tag ON memory_tags(tag, memory_id)`,
		`CREATE TABLE IF NOT EXISTS memvec_info (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`,
	}
}

// Ensure creates the record tables when missing.
func Ensure(ctx context.Context, q Querier) error {
	for _, stmt := range Schema() {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("metastore: schema: %w", err)
		}
	}
	return nil
}
