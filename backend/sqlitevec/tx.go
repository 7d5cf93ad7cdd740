package sqlitevec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/viant/memvec/engine"
	"github.com/viant/memvec/index"
	"github.com/viant/memvec/metastore"
	"github.com/viant/memvec/model"
	"github.com/viant/memvec/vecadmin"
	"github.com/viant/memvec/vector"
)

// tx applies index changes only after the SQL transaction commits.
type tx struct {
	b       *Backend
	tx      *sql.Tx
	pending []func(idx index.Index) error
	bumped  bool
	done    bool
}

func (t *tx) FindByHash(ctx context.Context, hash string) (string, bool, error) {
	id, ok, err := metastore.FindByHash(ctx, t.tx, hash)
	return id, ok, engine.Classify(err)
}

func (t *tx) bump(ctx context.Context) error {
	if t.bumped {
		return nil
	}
	if _, err := metastore.BumpGeneration(ctx, t.tx); err != nil {
		return err
	}
	t.bumped = true
	return nil
}

func (t *tx) Insert(ctx context.Context, rec *model.Record) error {
	if len(rec.Embedding) != t.b.cfg.Dimension {
		return &model.DimensionError{Expected: t.b.cfg.Dimension, Actual: len(rec.Embedding)}
	}
	blob, err := vector.EncodeEmbedding(rec.Embedding)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidArgument, err)
	}
	if err := metastore.Insert(ctx, t.tx, rec); err != nil {
		return engine.Classify(err)
	}
	if _, err := t.tx.ExecContext(ctx, `INSERT INTO `+VectorTable+`(id, embedding, dim) VALUES(?, ?, ?)`, rec.ID, blob, len(rec.Embedding)); err != nil {
		return engine.Classify(err)
	}
	if err := t.bump(ctx); err != nil {
		return engine.Classify(err)
	}
	id, vec := rec.ID, append([]float32(nil), rec.Embedding...)
	t.pending = append(t.pending, func(idx index.Index) error { return idx.Upsert(id, vec) })
	return nil
}

func (t *tx) UpdateMeta(ctx context.Context, id string, tags []string, meta map[string]any, at time.Time) error {
	return engine.Classify(metastore.UpdateMeta(ctx, t.tx, id, tags, meta, at))
}

func (t *tx) Tombstone(ctx context.Context, id string, at time.Time) (bool, error) {
	changed, err := metastore.Tombstone(ctx, t.tx, id, at)
	if err != nil || !changed {
		return changed, engine.Classify(err)
	}
	if err := t.bump(ctx); err != nil {
		return false, engine.Classify(err)
	}
	t.pending = append(t.pending, func(idx index.Index) error { idx.Remove(id); return nil })
	return true, nil
}

func (t *tx) Restore(ctx context.Context, id string, at time.Time) (bool, error) {
	changed, err := metastore.Restore(ctx, t.tx, id, at)
	if err != nil || !changed {
		return changed, engine.Classify(err)
	}
	var blob []byte
	err = t.tx.QueryRowContext(ctx, `SELECT embedding FROM `+VectorTable+` WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: no embedding stored for %s", model.ErrCorrupted, id)
	}
	if err != nil {
		return false, engine.Classify(err)
	}
	vec, err := vector.DecodeEmbedding(blob)
	if err != nil {
		return false, fmt.Errorf("%w: embedding of %s: %v", model.ErrCorrupted, id, err)
	}
	if err := t.bump(ctx); err != nil {
		return false, engine.Classify(err)
	}
	t.pending = append(t.pending, func(idx index.Index) error { return idx.Upsert(id, vec) })
	return true, nil
}

func (t *tx) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := metastore.Expired(ctx, t.tx, cutoff)
	if err != nil || len(ids) == 0 {
		return 0, engine.Classify(err)
	}
	for _, id := range ids {
		if _, err := t.tx.ExecContext(ctx, `DELETE FROM `+VectorTable+` WHERE id = ?`, id); err != nil {
			return 0, engine.Classify(err)
		}
	}
	n, err := metastore.Purge(ctx, t.tx, ids)
	if err != nil {
		return 0, engine.Classify(err)
	}
	if err := t.bump(ctx); err != nil {
		return 0, engine.Classify(err)
	}
	t.pending = append(t.pending, func(idx index.Index) error {
		for _, id := range ids {
			idx.Remove(id)
		}
		return nil
	})
	return n, nil
}

func (t *tx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return engine.Classify(err)
	}
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	for _, apply := range t.pending {
		if err := apply(t.b.idx); err != nil {
			// rebuild from the committed rows
			if _, rerr := t.rebuildLocked(); rerr != nil {
				return fmt.Errorf("%w: index out of sync: %v", model.ErrBackendUnavailable, rerr)
			}
			return nil
		}
	}
	return nil
}

// rebuildLocked replaces the index from the embeddings table. t.b.mu must be
// held.
func (t *tx) rebuildLocked() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	idx, n, err := vecadmin.Reindex(ctx, t.b.db, vecadmin.Target{VectorTable: VectorTable, Kind: t.b.indexKind})
	if err != nil {
		return 0, err
	}
	t.b.idx = idx
	return n, nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return engine.Classify(t.tx.Rollback())
}
