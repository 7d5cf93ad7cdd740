package chromem

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/viant/memvec/backend"
	"github.com/viant/memvec/engine"
	"github.com/viant/memvec/metastore"
	"github.com/viant/memvec/model"
	"github.com/viant/memvec/vecadmin"
	"github.com/viant/memvec/vecsync"
	"github.com/viant/memvec/vector"
)

const (
	metaFile       = "meta.db"
	vectorDir      = "vectors"
	collectionName = "memories"

	activeKey = "active"
	activeYes = "1"
	activeNo  = "0"
)

// localScoreLimit is the largest candidate set scored from per-id lookups
// instead of a collection query.
const localScoreLimit = 256

// collection is the subset of *chromem.Collection the backend uses.
type collection interface {
	AddDocument(ctx context.Context, doc chromem.Document) error
	GetByID(ctx context.Context, id string) (chromem.Document, error)
	Delete(ctx context.Context, where, whereDocument map[string]string, ids ...string) error
	QueryEmbedding(ctx context.Context, queryEmbedding []float32, nResults int, where, whereDocument map[string]string) ([]chromem.Result, error)
	Count() int
}

var errNoEmbedder = errors.New("chromem: documents must carry embeddings")

// Backend implements backend.Backend with chromem-go vectors.
type Backend struct {
	db     *sql.DB
	col    collection
	cfg    backend.Config
	closed atomic.Bool
}

// Open opens or creates the store directory at cfg.Path.
func Open(ctx context.Context, cfg backend.Config) (*Backend, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: chromem: embedding dimension is required", model.ErrInvalidArgument)
	}
	if fi, err := os.Stat(cfg.Path); err == nil && !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is a file, chromem storage is a directory", model.ErrBackendMismatch, cfg.Path)
	}
	if err := os.MkdirAll(filepath.Join(cfg.Path, vectorDir), 0o755); err != nil {
		return nil, classify(err)
	}
	opts := engine.DefaultOptions
	opts.ImmediateTx = true
	if cfg.BusyTimeout > 0 {
		opts.BusyTimeout = cfg.BusyTimeout
	}
	db, err := engine.OpenWith(filepath.Join(cfg.Path, metaFile), opts)
	if err != nil {
		return nil, engine.Classify(err)
	}
	b := &Backend{db: db, cfg: cfg}
	if err := b.initMeta(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	vdb, err := chromem.NewPersistentDB(filepath.Join(cfg.Path, vectorDir), false)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: chromem: %v", model.ErrCorrupted, err)
	}
	col, err := vdb.GetOrCreateCollection(collectionName, map[string]string{"model": cfg.Model}, func(context.Context, string) ([]float32, error) {
		return nil, errNoEmbedder
	})
	if err != nil {
		_ = db.Close()
		return nil, classify(err)
	}
	b.col = col
	if err := b.reconcile(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) initMeta(ctx context.Context) error {
	if err := vecadmin.QuickCheck(ctx, b.db); err != nil {
		return engine.Classify(err)
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return engine.Classify(err)
	}
	defer tx.Rollback()
	if err := metastore.Ensure(ctx, tx); err != nil {
		return engine.Classify(err)
	}
	if err := vecsync.Install(ctx, tx); err != nil {
		return engine.Classify(err)
	}
	info := &metastore.Info{
		Backend:       string(backend.KindChromem),
		SchemaVersion: metastore.SchemaVersion,
		Model:         b.cfg.Model,
		Dimension:     b.cfg.Dimension,
	}
	if err := metastore.Bind(ctx, tx, info); err != nil {
		return err
	}
	return engine.Classify(tx.Commit())
}

// allDocuments lists every document in the collection.
func (b *Backend) allDocuments(ctx context.Context) ([]chromem.Result, error) {
	n := b.col.Count()
	if n == 0 {
		return nil, nil
	}
	probe := make([]float32, b.cfg.Dimension)
	probe[0] = 1
	return b.col.QueryEmbedding(ctx, probe, n, nil, nil)
}

// reconcile removes vectors without metadata, realigns the active flag with
// tombstone state and fails with ErrCorrupted when active records have no
// vector.
func (b *Backend) reconcile(ctx context.Context) error {
	docs, err := b.allDocuments(ctx)
	if err != nil {
		return classify(err)
	}
	dims := make(map[string]int, len(docs))
	flags := make(map[string]string, len(docs))
	for _, d := range docs {
		dims[d.ID] = len(d.Embedding)
		flags[d.ID] = d.Metadata[activeKey]
	}
	report, err := vecadmin.Consistency(ctx, b.db, dims, b.cfg.Dimension)
	if err != nil {
		return engine.Classify(err)
	}
	if len(report.Orphans) > 0 {
		if err := b.col.Delete(ctx, nil, nil, report.Orphans...); err != nil {
			return classify(err)
		}
	}
	if len(report.Missing) > 0 || len(report.BadDimension) > 0 {
		report.Orphans = nil
		return report.Err()
	}
	ids := make([]string, 0, len(flags))
	for id := range flags {
		ids = append(ids, id)
	}
	recs, err := metastore.GetMany(ctx, b.db, ids)
	if err != nil {
		return engine.Classify(err)
	}
	for id, rec := range recs {
		want := activeYes
		if rec.Tombstoned {
			want = activeNo
		}
		if flags[id] != want {
			if err := b.setActive(ctx, id, want); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *Backend) setActive(ctx context.Context, id, flag string) error {
	doc, err := b.col.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: no vector stored for %s", model.ErrCorrupted, id)
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]string{}
	}
	doc.Metadata[activeKey] = flag
	return classify(b.col.AddDocument(ctx, doc))
}

func (b *Backend) Kind() backend.Kind { return backend.KindChromem }
func (b *Backend) Dimension() int     { return b.cfg.Dimension }

func (b *Backend) Indexed() int {
	n, err := b.activeCount(context.Background())
	if err != nil {
		return 0
	}
	return n
}

func (b *Backend) activeCount(ctx context.Context) (int, error) {
	active, _, err := metastore.Counts(ctx, b.db)
	return active, err
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
	if doc, err := b.col.GetByID(ctx, id); err == nil {
		rec.Embedding = doc.Embedding
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
	q := vector.Normalize(query)
	if vector.Magnitude(q) == 0 {
		return []model.Scored{}, nil
	}
	if candidates != nil && len(candidates) <= localScoreLimit {
		return b.scoreLocal(ctx, q, k, candidates), nil
	}
	total := b.col.Count()
	if total == 0 {
		return []model.Scored{}, nil
	}
	// fetch past k so ties at the cut are ordered by id, not by the collection
	n := total
	if k < total/2 {
		n = 2*k + 8
	}
	var allow map[string]bool
	if candidates != nil {
		n = total
		allow = make(map[string]bool, len(candidates))
		for _, id := range candidates {
			allow[id] = true
		}
	}
	if n > total {
		n = total
	}
	results, err := b.col.QueryEmbedding(ctx, q, n, map[string]string{activeKey: activeYes}, nil)
	if err != nil {
		return nil, classify(err)
	}
	out := make([]model.Scored, 0, len(results))
	for _, r := range results {
		if allow != nil && !allow[r.ID] {
			continue
		}
		out = append(out, model.Scored{ID: r.ID, Score: vector.Clamp(vector.Dot(q, r.Embedding))})
	}
	model.SortScored(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (b *Backend) scoreLocal(ctx context.Context, q []float32, k int, candidates []string) []model.Scored {
	out := make([]model.Scored, 0, len(candidates))
	for _, id := range candidates {
		doc, err := b.col.GetByID(ctx, id)
		if err != nil || doc.Metadata[activeKey] != activeYes {
			continue
		}
		out = append(out, model.Scored{ID: id, Score: vector.Clamp(vector.Dot(q, doc.Embedding))})
	}
	model.SortScored(out)
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// PruneLog deletes change-log entries recorded before cutoff.
func (b *Backend) PruneLog(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	n, err := vecsync.Prune(ctx, b.db, cutoff)
	return n, engine.Classify(err)
}

// Reindex repeats the open-time reconciliation between metadata and the
// collection. Callers must hold off writers.
func (b *Backend) Reindex(ctx context.Context) (int, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	if err := b.reconcile(ctx); err != nil {
		return 0, err
	}
	return b.Indexed(), nil
}

// ReadLog returns change-log entries with SCN greater than after.
func (b *Backend) ReadLog(ctx context.Context, after int64, limit int) ([]vecsync.LogEntry, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	entries, err := vecsync.ReadLog(ctx, b.db, after, limit)
	return entries, engine.Classify(err)
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

// Close closes the metadata database. Vectors are persisted per write.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}

// classify maps collection errors onto the model kinds.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, syscall.ENOSPC):
		return fmt.Errorf("%w: %v", model.ErrStorageFull, err)
	case model.KindOf(err) != model.ErrBackendUnavailable:
		return err
	}
	return fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
}
