package chromem

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/viant/memvec/engine"
	"github.com/viant/memvec/metastore"
	"github.com/viant/memvec/model"
)

// step is a staged vector change with its compensation.
type step struct {
	apply func(ctx context.Context) error
	undo  func(ctx context.Context) error
}

type tx struct {
	b     *Backend
	tx    *sql.Tx
	steps []step
	done  bool
}

func (t *tx) FindByHash(ctx context.Context, hash string) (string, bool, error) {
	id, ok, err := metastore.FindByHash(ctx, t.tx, hash)
	return id, ok, engine.Classify(err)
}

func (t *tx) Insert(ctx context.Context, rec *model.Record) error {
	if len(rec.Embedding) != t.b.cfg.Dimension {
		return &model.DimensionError{Expected: t.b.cfg.Dimension, Actual: len(rec.Embedding)}
	}
	if err := metastore.Insert(ctx, t.tx, rec); err != nil {
		return engine.Classify(err)
	}
	doc := chromem.Document{
		ID:        rec.ID,
		Embedding: append([]float32(nil), rec.Embedding...),
		Metadata:  map[string]string{activeKey: activeYes},
	}
	t.steps = append(t.steps, step{
		apply: func(ctx context.Context) error { return t.b.col.AddDocument(ctx, doc) },
		undo:  func(ctx context.Context) error { return t.b.col.Delete(ctx, nil, nil, doc.ID) },
	})
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
	t.stageFlag(id, activeNo, activeYes)
	return true, nil
}

func (t *tx) Restore(ctx context.Context, id string, at time.Time) (bool, error) {
	changed, err := metastore.Restore(ctx, t.tx, id, at)
	if err != nil || !changed {
		return changed, engine.Classify(err)
	}
	if _, err := t.b.col.GetByID(ctx, id); err != nil {
		return false, fmt.Errorf("%w: no vector stored for %s", model.ErrCorrupted, id)
	}
	t.stageFlag(id, activeYes, activeNo)
	return true, nil
}

func (t *tx) stageFlag(id, flag, previous string) {
	t.steps = append(t.steps, step{
		apply: func(ctx context.Context) error { return t.b.setActive(ctx, id, flag) },
		undo:  func(ctx context.Context) error { return t.b.setActive(ctx, id, previous) },
	})
}

func (t *tx) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := metastore.Expired(ctx, t.tx, cutoff)
	if err != nil || len(ids) == 0 {
		return 0, engine.Classify(err)
	}
	n, err := metastore.Purge(ctx, t.tx, ids)
	if err != nil {
		return 0, engine.Classify(err)
	}
	var removed []chromem.Document
	t.steps = append(t.steps, step{
		apply: func(ctx context.Context) error {
			for _, id := range ids {
				if doc, err := t.b.col.GetByID(ctx, id); err == nil {
					removed = append(removed, doc)
				}
			}
			return t.b.col.Delete(ctx, nil, nil, ids...)
		},
		undo: func(ctx context.Context) error {
			for _, doc := range removed {
				if err := t.b.col.AddDocument(ctx, doc); err != nil {
					return err
				}
			}
			return nil
		},
	})
	return n, nil
}

// Commit applies the staged vector changes, then commits metadata. Any
// failure undoes the applied vector changes in reverse order.
func (t *tx) Commit() error {
	if t.done {
		return sql.ErrTxDone
	}
	t.done = true
	ctx := context.Background()
	for i, s := range t.steps {
		if err := s.apply(ctx); err != nil {
			t.compensate(ctx, i+1)
			_ = t.tx.Rollback()
			return classify(err)
		}
	}
	if err := t.tx.Commit(); err != nil {
		t.compensate(ctx, len(t.steps))
		return engine.Classify(err)
	}
	return nil
}

// compensate undoes the first n steps; leftovers are repaired at next open.
func (t *tx) compensate(ctx context.Context, n int) {
	for i := n - 1; i >= 0; i-- {
		_ = t.steps[i].undo(ctx)
	}
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return engine.Classify(t.tx.Rollback())
}
