package postgres

import (
	"fmt"

	"github.com/viant/memvec/vecsync"
)

// tables holds the schema-qualified table names.
type tables struct {
	memories string
	tags     string
	info     string
	log      string
}

func newTables(schema string) tables {
	prefix := ""
	if schema != "" {
		prefix = schema + "."
	}
	return tables{
		memories: prefix + "memories",
		tags:     prefix + "memory_tags",
		info:     prefix + "memvec_info",
		log:      prefix + vecsync.DefaultLogTable,
	}
}

func (t tables) ddl(schema string, dim int) []string {
	var out []string
	out = append(out, `CREATE EXTENSION IF NOT EXISTS vector`)
	if schema != "" {
		out = append(out, `CREATE SCHEMA IF NOT EXISTS `+schema)
	}
	out = append(out,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    seq           BIGSERIAL PRIMARY KEY,
    id            TEXT NOT NULL UNIQUE,
    content       TEXT NOT NULL,
    content_hash  TEXT NOT NULL,
    metadata      JSONB NOT NULL DEFAULT '{}'::jsonb,
    embedding     vector(%d) NOT NULL,
    created_at    BIGINT NOT NULL,
    updated_at    BIGINT NOT NULL,
    tombstoned_at BIGINT
)`, t.memories, dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS memories_content_hash ON %s(content_hash)`, t.memories),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS memories_created ON %s(created_at, seq)`, t.memories),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    memory_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
    tag       TEXT NOT NULL,
    PRIMARY KEY(memory_id, tag)
)`, t.tags, t.memories),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS memory_tags_tag ON %s(tag, memory_id)`, t.tags),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`, t.info),
	)
	return append(out, vecsync.PostgresLogDDL(t.memories, t.log)...)
}
