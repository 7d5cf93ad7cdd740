// Package backend defines the storage abstraction behind the memory engine:
// a metadata reader, a vector searcher and a transactional writer that keeps
// both consistent.
package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/viant/memvec/index"
	"github.com/viant/memvec/model"
	"github.com/viant/memvec/vecsync"
)

// Kind names a backend implementation.
type Kind string

const (
	KindSQLiteVec Kind = "sqlite_vec"
	KindChromem   Kind = "chromem"
	KindPostgres  Kind = "postgres"
)

// ParseKind resolves a backend name; empty selects sqlite_vec.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite_vec", "sqlite-vec", "sqlite":
		return KindSQLiteVec, nil
	case "chromem", "chroma":
		return KindChromem, nil
	case "postgres", "pgvector":
		return KindPostgres, nil
	}
	return "", fmt.Errorf("%w: unknown storage backend %q", model.ErrInvalidArgument, name)
}

// MetadataReader answers record and filter queries.
type MetadataReader interface {
	// Get returns a record in any state with its embedding, or ErrNotFound.
	Get(ctx context.Context, id string) (*model.Record, error)
	// GetMany returns the listed records keyed by id without embeddings.
	GetMany(ctx context.Context, ids []string) (map[string]*model.Record, error)
	// FindByHash returns the oldest active record with the content hash.
	FindByHash(ctx context.Context, hash string) (string, bool, error)
	// Candidates returns ids matching the filter; never nil.
	Candidates(ctx context.Context, f model.Filter) ([]string, error)
	// List returns records matching the filter newest first.
	List(ctx context.Context, f model.Filter, limit int) ([]*model.Record, error)
	Counts(ctx context.Context) (active, tombstoned int, err error)
}

// VectorSearcher answers similarity queries over active records.
type VectorSearcher interface {
	// Search returns up to k matches by descending cosine similarity, ties
	// broken by smaller id. candidates nil means every active record; an
	// empty slice yields no matches.
	Search(ctx context.Context, query []float32, k int, candidates []string) ([]model.Scored, error)
	// Indexed returns the number of searchable vectors.
	Indexed() int
}

// Tx is a write transaction over metadata and vectors. Nothing it does is
// observable to readers before Commit returns.
type Tx interface {
	FindByHash(ctx context.Context, hash string) (string, bool, error)
	// Insert writes rec and its embedding; rec.CreatedAt may be clamped.
	Insert(ctx context.Context, rec *model.Record) error
	// UpdateMeta replaces tags when non-nil and metadata when non-nil.
	UpdateMeta(ctx context.Context, id string, tags []string, meta map[string]any, at time.Time) error
	Tombstone(ctx context.Context, id string, at time.Time) (bool, error)
	Restore(ctx context.Context, id string, at time.Time) (bool, error)
	// Purge hard-deletes records tombstoned at or before cutoff.
	Purge(ctx context.Context, cutoff time.Time) (int, error)
	Commit() error
	Rollback() error
}

// Backend is a storage location holding records and their vectors.
type Backend interface {
	MetadataReader
	VectorSearcher
	Kind() Kind
	Begin(ctx context.Context) (Tx, error)
	// Dimension is the embedding dimension bound to the storage.
	Dimension() int
	Close() error
}

// LogPruner is implemented by backends whose change log can be trimmed.
type LogPruner interface {
	// PruneLog deletes change-log entries recorded before cutoff.
	PruneLog(ctx context.Context, cutoff time.Time) (int64, error)
}

// Reindexer is implemented by backends that keep derived vector state which
// can be rebuilt from durable storage. Reindex returns the number of vectors
// indexed afterwards.
type Reindexer interface {
	Reindex(ctx context.Context) (int, error)
}

// ChangeLogReader exposes the record change log in SCN order.
type ChangeLogReader interface {
	ReadLog(ctx context.Context, after int64, limit int) ([]vecsync.LogEntry, error)
}

// Config describes the storage location and the embedder bound to it.
type Config struct {
	Kind Kind
	// Path is a SQLite file (sqlite_vec) or a directory (chromem).
	Path string
	// DSN is the Postgres connection string.
	DSN string
	// Schema is the Postgres schema holding the tables.
	Schema    string
	Model     string
	Dimension int
	IndexKind index.Kind
	// BusyTimeout bounds how long SQLite waits for a lock.
	BusyTimeout time.Duration
}
