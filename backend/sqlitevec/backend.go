package sqlitevec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/viant/memvec/backend"
	"github.com/viant/memvec/engine"
	"github.com/viant/memvec/index"
	"github.com/viant/memvec/metastore"
	"github.com/viant/memvec/model"
	"github.com/viant/memvec/vecadmin"
	"github.com/viant/memvec/vecsync"
	"github.com/viant/memvec/vector"
)

// VectorTable holds one embedding per record, including tombstoned ones so
// they can be restored.
const VectorTable = "memory_vectors"

const vectorDDL = `CREATE TABLE IF NOT EXISTS ` + VectorTable + ` (
    id        TEXT PRIMARY KEY REFERENCES memories(id) ON DELETE CASCADE,
    embedding BLOB NOT NULL,
    dim       INTEGER NOT NULL
)`

// sqlScanLimit is the largest candidate set scored in SQL instead of the
// in-memory index.
const sqlScanLimit = 64

// Backend implements backend.Backend on SQLite.
type Backend struct {
	db        *sql.DB
	cfg       backend.Config
	indexKind index.Kind

	mu  sync.RWMutex
	idx index.Index

	closed atomic.Bool
}

// Open opens or creates the store at cfg.Path, verifies it and loads the index.
func Open(ctx context.Context, cfg backend.Config) (*Backend, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: sqlite_vec: embedding dimension is required", model.ErrInvalidArgument)
	}
	if fi, err := os.Stat(cfg.Path); err == nil && fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory, sqlite_vec storage is a file", model.ErrBackendMismatch, cfg.Path)
	}
	if err := engine.RegisterVectorFunctions(); err != nil {
		return nil, err
	}
	opts := engine.DefaultOptions
	opts.ImmediateTx = true
	if cfg.BusyTimeout > 0 {
		opts.BusyTimeout = cfg.BusyTimeout
	}
	db, err := engine.OpenWith(cfg.Path, opts)
	if err != nil {
		return nil, engine.Classify(err)
	}
	b := &Backend{db: db, cfg: cfg, indexKind: cfg.IndexKind}
	if err := b.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) init(ctx context.Context) error {
	if err := vecadmin.QuickCheck(ctx, b.db); err != nil {
		return engine.Classify(err)
	}
	if err := b.ensureSchema(ctx); err != nil {
		return engine.Classify(err)
	}
	dims, err := b.vectorDims(ctx)
	if err != nil {
		return engine.Classify(err)
	}
	report, err := vecadmin.Consistency(ctx, b.db, dims, b.cfg.Dimension)
	if err != nil {
		return engine.Classify(err)
	}
	if err := report.Err(); err != nil {
		return err
	}
	gen, err := metastore.Generation(ctx, b.db)
	if err != nil {
		return engine.Classify(err)
	}
	idx, err := vecadmin.LoadSnapshot(ctx, b.db, VectorTable, gen)
	if err != nil {
		return engine.Classify(err)
	}
	if idx == nil {
		if idx, _, err = vecadmin.Reindex(ctx, b.db, vecadmin.Target{VectorTable: VectorTable, Kind: b.indexKind}); err != nil {
			return engine.Classify(err)
		}
	}
	b.idx = idx
	return nil
}

func (b *Backend) ensureSchema(ctx context.Context) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := metastore.Ensure(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, vectorDDL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, vecadmin.StorageDDL); err != nil {
		return err
	}
	if err := vecsync.Install(ctx, tx); err != nil {
		return err
	}
	info := &metastore.Info{
		Backend:       string(backend.KindSQLiteVec),
		SchemaVersion: metastore.SchemaVersion,
		Model:         b.cfg.Model,
		Dimension:     b.cfg.Dimension,
	}
	if err := metastore.Bind(ctx, tx, info); err != nil {
		return err
	}
	return tx.Commit()
}

func (b *Backend) vectorDims(ctx context.Context) (map[string]int, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT id, dim FROM `+VectorTable)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	dims := map[string]int{}
	for rows.Next() {
		var id string
		var dim int
		if err := rows.Scan(&id, &dim); err != nil {
			return nil, err
		}
		dims[id] = dim
	}
	return dims, rows.Err()
}

func (b *Backend) Kind() backend.Kind { return backend.KindSQLiteVec }
func (b *Backend) Dimension() int     { return b.cfg.Dimension }

// DB exposes the underlying handle for maintenance tooling.
func (b *Backend) DB() *sql.DB { return b.db }

func (b *Backend) Indexed() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.idx.Len()
}

func (b *Backend) check() error {
	if b.closed.Load() {
		return model.ErrClosed
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, id string) (*model.Record, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	rec, err := metastore.Get(ctx, b.db, id)
	if err != nil {
		return nil, engine.Classify(err)
	}
	var blob []byte
	err = b.db.QueryRowContext(ctx, `SELECT embedding FROM `+VectorTable+` WHERE id = ?`, id).Scan(&blob)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, engine.Classify(err)
	default:
		if rec.Embedding, err = vector.DecodeEmbedding(blob); err != nil {
			return nil, fmt.Errorf("%w: embedding of %s: %v", model.ErrCorrupted, id, err)
		}
	}
	return rec, nil
}

func (b *Backend) GetMany(ctx context.Context, ids []string) (map[string]*model.Record, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	recs, err := metastore.GetMany(ctx, b.db, ids)
	return recs, engine.Classify(err)
}

func (b *Backend) FindByHash(ctx context.Context, hash string) (string, bool, error) {
	if err := b.check(); err != nil {
		return "", false, err
	}
	id, ok, err := metastore.FindByHash(ctx, b.db, hash)
	return id, ok, engine.Classify(err)
}

func (b *Backend) Candidates(ctx context.Context, f model.Filter) ([]string, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	ids, err := metastore.Candidates(ctx, b.db, f)
	return ids, engine.Classify(err)
}

func (b *Backend) List(ctx context.Context, f model.Filter, limit int) ([]*model.Record, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	recs, err := metastore.List(ctx, b.db, f, limit)
	return recs, engine.Classify(err)
}

func (b *Backend) Counts(ctx context.Context) (int, int, error) {
	if err := b.check(); err != nil {
		return 0, 0, err
	}
	active, tombstoned, err := metastore.Counts(ctx, b.db)
	return active, tombstoned, engine.Classify(err)
}

func (b *Backend) Search(ctx context.Context, query []float32, k int, candidates []string) ([]model.Scored, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	if len(query) != b.cfg.Dimension {
		return nil, &model.DimensionError{Expected: b.cfg.Dimension, Actual: len(query)}
	}
	if k <= 0 || (candidates != nil && len(candidates) == 0) {
		return []model.Scored{}, nil
	}
	if candidates != nil && len(candidates) <= sqlScanLimit {
		return b.searchSQL(ctx, query, k, candidates)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.idx.Search(query, k, candidates)
}

// searchSQL scores a small candidate set with vec_cosine.
func (b *Backend) searchSQL(ctx context.Context, query []float32, k int, candidates []string) ([]model.Scored, error) {
	blob, err := vector.EncodeEmbedding(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidArgument, err)
	}
	args := make([]any, 0, len(candidates)+2)
	args = append(args, blob)
	for _, id := range candidates {
		args = append(args, id)
	}
	args = append(args, k)
	rows, err := b.db.QueryContext(ctx, `SELECT v.id, vec_cosine(v.embedding, ?) AS score
FROM `+VectorTable+` v JOIN memories m ON m.id = v.id
WHERE m.tombstoned_at IS NULL AND v.id IN (`+strings.TrimSuffix(strings.Repeat("?,", len(candidates)), ",")+`)
ORDER BY score DESC, v.id LIMIT ?`, args...)
	if err != nil {
		return nil, engine.Classify(err)
	}
	defer rows.Close()
	out := make([]model.Scored, 0, min(k, len(candidates)))
	for rows.Next() {
		var s model.Scored
		if err := rows.Scan(&s.ID, &s.Score); err != nil {
			return nil, engine.Classify(err)
		}
		s.Score = vector.Clamp(s.Score)
		out = append(out, s)
	}
	return out, engine.Classify(rows.Err())
}

// PruneLog deletes change-log entries recorded before cutoff.
func (b *Backend) PruneLog(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	n, err := vecsync.Prune(ctx, b.db, cutoff)
	return n, engine.Classify(err)
}

func (b *Backend) Begin(ctx context.Context) (backend.Tx, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	sqlTx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, engine.Classify(err)
	}
	return &tx{b: b, tx: sqlTx}, nil
}

// Snapshot persists the current index so the next open can skip the rebuild.
func (b *Backend) Snapshot(ctx context.Context) error {
	if err := b.check(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	gen, err := metastore.Generation(ctx, b.db)
	if err != nil {
		return engine.Classify(err)
	}
	kind := index.Resolve(b.indexKind, b.idx.Len(), b.idx.Dim())
	return engine.Classify(vecadmin.Persist(ctx, b.db, VectorTable, b.idx, kind, gen))
}

// Reindex rebuilds the in-memory index from the embeddings table and drops
// the persisted snapshot; Close writes a fresh one.
func (b *Backend) Reindex(ctx context.Context) (int, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, n, err := vecadmin.Reindex(ctx, b.db, vecadmin.Target{VectorTable: VectorTable, Kind: b.indexKind})
	if err != nil {
		return 0, engine.Classify(err)
	}
	b.idx = idx
	if err := vecadmin.Invalidate(ctx, b.db, VectorTable); err != nil {
		return n, engine.Classify(err)
	}
	return n, nil
}

// ReadLog returns change-log entries with SCN greater than after.
func (b *Backend) ReadLog(ctx context.Context, after int64, limit int) ([]vecsync.LogEntry, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	entries, err := vecsync.ReadLog(ctx, b.db, after, limit)
	return entries, engine.Classify(err)
}

// Close persists an index snapshot and closes the database.
func (b *Backend) Close() error {
	if b.closed.Load() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	snapErr := b.Snapshot(ctx)
	b.closed.Store(true)
	if err := b.db.Close(); err != nil {
		return err
	}
	return snapErr
}
