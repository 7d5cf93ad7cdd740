package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/viant/memvec/backend"
	"github.com/viant/memvec/metastore"
	"github.com/viant/memvec/model"
	"github.com/viant/memvec/vecsync"
	"github.com/viant/memvec/vector"
)

var schemaName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// writerLock is the advisory lock key serializing writers across processes.
const writerLock = 0x6d656d766563

// Backend implements backend.Backend on Postgres with pgvector.
type Backend struct {
	pool   *pgxpool.Pool
	cfg    backend.Config
	s      store
	closed atomic.Bool
}

// Open connects to cfg.DSN, creates the schema when missing and verifies
// the recorded backend, model and dimension.
func Open(ctx context.Context, cfg backend.Config) (*Backend, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: postgres: embedding dimension is required", model.ErrInvalidArgument)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: postgres: DSN is required", model.ErrInvalidArgument)
	}
	if cfg.Schema != "" && !schemaName.MatchString(cfg.Schema) {
		return nil, fmt.Errorf("%w: postgres: invalid schema name %q", model.ErrInvalidArgument, cfg.Schema)
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: %v", model.ErrInvalidArgument, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify(err)
	}
	b := &Backend{pool: pool, cfg: cfg, s: store{t: newTables(cfg.Schema)}}
	if err := b.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) init(ctx context.Context) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(writerLock)); err != nil {
		return classify(err)
	}
	for _, stmt := range b.s.t.ddl(b.cfg.Schema, b.cfg.Dimension) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return classify(fmt.Errorf("postgres: schema: %w", err))
		}
	}
	want := &metastore.Info{
		Backend:       string(backend.KindPostgres),
		SchemaVersion: metastore.SchemaVersion,
		Model:         b.cfg.Model,
		Dimension:     b.cfg.Dimension,
	}
	if err := b.bind(ctx, tx, want); err != nil {
		return err
	}
	return classify(tx.Commit(ctx))
}

func (b *Backend) bind(ctx context.Context, q querier, want *metastore.Info) error {
	rows, err := q.Query(ctx, `SELECT key, value FROM `+b.s.t.info)
	if err != nil {
		return classify(err)
	}
	have := &metastore.Info{}
	found := false
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			rows.Close()
			return classify(err)
		}
		found = true
		switch key {
		case "backend":
			have.Backend = value
		case "model":
			have.Model = value
		case "schema_version":
			have.SchemaVersion, _ = strconv.Atoi(value)
		case "dimension":
			have.Dimension, _ = strconv.Atoi(value)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return classify(err)
	}
	if found {
		if err := have.Check(want); err != nil {
			return err
		}
	}
	values := map[string]string{
		"backend":        want.Backend,
		"model":          want.Model,
		"schema_version": strconv.Itoa(want.SchemaVersion),
		"dimension":      strconv.Itoa(want.Dimension),
	}
	for k, v := range values {
		if _, err := q.Exec(ctx, `INSERT INTO `+b.s.t.info+`(key, value) VALUES($1, $2)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return classify(err)
		}
	}
	return nil
}

func (b *Backend) Kind() backend.Kind { return backend.KindPostgres }
func (b *Backend) Dimension() int     { return b.cfg.Dimension }

func (b *Backend) Indexed() int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	active, _, err := b.s.counts(ctx, b.pool)
	if err != nil {
		return 0
	}
	return active
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
	recs, err := b.s.getMany(ctx, b.pool, []string{id})
	if err != nil {
		return nil, classify(err)
	}
	rec, ok := recs[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	var literal string
	if err := b.pool.QueryRow(ctx, `SELECT embedding::text FROM `+b.s.t.memories+` WHERE id = $1`, id).Scan(&literal); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, classify(err)
	}
	if rec.Embedding, err = vector.ParseLiteral(literal); err != nil {
		return nil, fmt.Errorf("%w: embedding of %s: %v", model.ErrCorrupted, id, err)
	}
	return rec, nil
}

func (b *Backend) GetMany(ctx context.Context, ids []string) (map[string]*model.Record, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	recs, err := b.s.getMany(ctx, b.pool, ids)
	return recs, classify(err)
}

func (b *Backend) FindByHash(ctx context.Context, hash string) (string, bool, error) {
	if err := b.check(); err != nil {
		return "", false, err
	}
	id, ok, err := b.s.findByHash(ctx, b.pool, hash)
	return id, ok, classify(err)
}

func (b *Backend) Candidates(ctx context.Context, f model.Filter) ([]string, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	ids, err := b.s.candidates(ctx, b.pool, f)
	return ids, classify(err)
}

func (b *Backend) List(ctx context.Context, f model.Filter, limit int) ([]*model.Record, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	recs, err := b.s.list(ctx, b.pool, f, limit)
	return recs, classify(err)
}

func (b *Backend) Counts(ctx context.Context) (int, int, error) {
	if err := b.check(); err != nil {
		return 0, 0, err
	}
	active, tombstoned, err := b.s.counts(ctx, b.pool)
	return active, tombstoned, classify(err)
}

// Search ranks active rows by pgvector cosine distance.
func (b *Backend) Search(ctx context.Context, query []float32, k int, candidates []string) ([]model.Scored, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	if len(query) != b.cfg.Dimension {
		return nil, &model.DimensionError{Expected: b.cfg.Dimension, Actual: len(query)}
	}
	if k <= 0 || (candidates != nil && len(candidates) == 0) || vector.Magnitude(query) == 0 {
		return []model.Scored{}, nil
	}
	var a args
	q := a.add(vector.FormatLiteral(query))
	stmt := `SELECT id, 1 - (embedding <=> ` + q + `::vector) AS score FROM ` + b.s.t.memories + ` WHERE tombstoned_at IS NULL`
	if candidates != nil {
		stmt += ` AND id = ANY(` + a.add(candidates) + `)`
	}
	stmt += ` ORDER BY embedding <=> ` + q + `::vector, id LIMIT ` + a.add(k)
	rows, err := b.pool.Query(ctx, stmt, a...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []model.Scored
	for rows.Next() {
		var s model.Scored
		if err := rows.Scan(&s.ID, &s.Score); err != nil {
			return nil, classify(err)
		}
		s.Score = vector.Clamp(s.Score)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	if out == nil {
		return []model.Scored{}, nil
	}
	// distance ties are ordered by id in SQL; clamping can merge scores
	model.SortScored(out)
	return out, nil
}

// Begin starts a write transaction holding the cross-process writer lock.
func (b *Backend) Begin(ctx context.Context) (backend.Tx, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	pgTx, err := b.pool.Begin(ctx)
	if err != nil {
		return nil, classify(err)
	}
	if _, err := pgTx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(writerLock)); err != nil {
		_ = pgTx.Rollback(ctx)
		return nil, classify(err)
	}
	return &tx{b: b, tx: pgTx}, nil
}

// PruneLog deletes change-log entries recorded before cutoff.
func (b *Backend) PruneLog(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	tag, err := b.pool.Exec(ctx, `DELETE FROM `+b.s.t.log+` WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, classify(err)
	}
	return tag.RowsAffected(), nil
}

// ReadLog returns change-log entries with SCN greater than after.
func (b *Backend) ReadLog(ctx context.Context, after int64, limit int) ([]vecsync.LogEntry, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := b.pool.Query(ctx, `SELECT scn, op, memory_id, payload::text, created_at FROM `+b.s.t.log+`
WHERE scn > $1 ORDER BY scn LIMIT $2`, after, lim)
	if err != nil {
		return nil, classify(err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (vecsync.LogEntry, error) {
		var (
			e       vecsync.LogEntry
			op      string
			payload string
		)
		err := row.Scan(&e.SCN, &op, &e.MemoryID, &payload, &e.CreatedAt)
		e.Op = vecsync.Op(op)
		e.Payload = []byte(payload)
		e.CreatedAt = e.CreatedAt.UTC()
		return e, err
	})
	if err != nil {
		return nil, classify(err)
	}
	return entries, nil
}

func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.pool.Close()
	return nil
}
