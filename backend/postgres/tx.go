package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/viant/memvec/model"
	"github.com/viant/memvec/vector"
)

type tx struct {
	b    *Backend
	tx   pgx.Tx
	done bool
}

func (t *tx) FindByHash(ctx context.Context, hash string) (string, bool, error) {
	id, ok, err := t.b.s.findByHash(ctx, t.tx, hash)
	return id, ok, classify(err)
}

func (t *tx) Insert(ctx context.Context, rec *model.Record) error {
	if len(rec.Embedding) != t.b.cfg.Dimension {
		return &model.DimensionError{Expected: t.b.cfg.Dimension, Actual: len(rec.Embedding)}
	}
	return classify(t.b.s.insert(ctx, t.tx, rec, vector.FormatLiteral(rec.Embedding)))
}

func (t *tx) UpdateMeta(ctx context.Context, id string, tags []string, meta map[string]any, at time.Time) error {
	return classify(t.b.s.updateMeta(ctx, t.tx, id, tags, meta, at))
}

func (t *tx) Tombstone(ctx context.Context, id string, at time.Time) (bool, error) {
	changed, err := t.b.s.setTombstone(ctx, t.tx, id, true, at)
	return changed, classify(err)
}

func (t *tx) Restore(ctx context.Context, id string, at time.Time) (bool, error) {
	changed, err := t.b.s.setTombstone(ctx, t.tx, id, false, at)
	return changed, classify(err)
}

func (t *tx) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := t.b.s.purge(ctx, t.tx, cutoff)
	return n, classify(err)
}

func (t *tx) Commit() error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	return classify(t.tx.Commit(context.Background()))
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return classify(t.tx.Rollback(context.Background()))
}
