package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/viant/memvec/backend"
	"github.com/viant/memvec/model"
	"github.com/viant/memvec/vecsync"
)

// Retrieve returns the record with id. Tombstoned records are reported as
// model.ErrNotFound unless requested.
func (e *Engine) Retrieve(ctx context.Context, id string, opts RetrieveOptions) (*model.Record, error) {
	const op = "retrieve"
	if err := e.check(); err != nil {
		return nil, model.Wrap(op, id, err)
	}
	var rec *model.Record
	err := e.read(ctx, op, func(ctx context.Context) (err error) {
		rec, err = e.backend.Get(ctx, id)
		return err
	})
	if err != nil {
		return nil, model.Wrap(op, id, err)
	}
	if rec.Tombstoned && !opts.IncludeTombstoned {
		return nil, model.Wrap(op, id, model.ErrNotFound)
	}
	return rec, nil
}

// Update replaces tags and metadata of an active record.
func (e *Engine) Update(ctx context.Context, id string, req UpdateRequest) (err error) {
	const op = "update"
	defer func() { e.log.LogUpdate(ctx, id, err) }()
	if err := e.check(); err != nil {
		return model.Wrap(op, id, err)
	}
	var tags []string
	if req.Tags != nil {
		tags = model.NormalizeTags(*req.Tags)
	}
	err = e.write(ctx, func(ctx context.Context, tx backend.Tx) error {
		meta := req.Metadata
		if req.MergeMetadata && meta != nil {
			rec, err := e.backend.Get(ctx, id)
			if err != nil {
				return err
			}
			if rec.Tombstoned {
				return model.ErrNotFound
			}
			merged := make(map[string]any, len(rec.Metadata)+len(meta))
			for k, v := range rec.Metadata {
				merged[k] = v
			}
			for k, v := range meta {
				merged[k] = v
			}
			meta = merged
		}
		return tx.UpdateMeta(ctx, id, tags, meta, e.opts.Clock().UTC())
	})
	return model.Wrap(op, id, err)
}

// Delete tombstones id. Deleting a tombstoned record succeeds with changed
// false; an unknown id is model.ErrNotFound.
func (e *Engine) Delete(ctx context.Context, id string) (changed bool, err error) {
	const op = "delete"
	defer func() { e.log.LogDelete(ctx, id, changed, err) }()
	if err := e.check(); err != nil {
		return false, model.Wrap(op, id, err)
	}
	err = e.write(ctx, func(ctx context.Context, tx backend.Tx) (err error) {
		changed, err = tx.Tombstone(ctx, id, e.opts.Clock().UTC())
		return err
	})
	if err != nil {
		return false, model.Wrap(op, id, err)
	}
	return changed, nil
}

// Restore brings a tombstoned record back. Restoring an active record
// succeeds with changed false.
func (e *Engine) Restore(ctx context.Context, id string) (changed bool, err error) {
	const op = "restore"
	defer func() { e.log.LogRestore(ctx, id, changed, err) }()
	if err := e.check(); err != nil {
		return false, model.Wrap(op, id, err)
	}
	err = e.write(ctx, func(ctx context.Context, tx backend.Tx) (err error) {
		changed, err = tx.Restore(ctx, id, e.opts.Clock().UTC())
		return err
	})
	if err != nil {
		return false, model.Wrap(op, id, err)
	}
	return changed, nil
}

// Compact hard-removes records tombstoned for at least retention, with their
// vectors, and trims the change log to the same horizon.
func (e *Engine) Compact(ctx context.Context, retention time.Duration) (removed int, err error) {
	const op = "compact"
	var pruned int64
	defer func() { e.log.LogCompact(ctx, removed, pruned, err) }()
	if err := e.check(); err != nil {
		return 0, model.Wrap(op, "", err)
	}
	if retention < 0 {
		return 0, model.Wrap(op, "", model.ErrInvalidArgument)
	}
	cutoff := e.opts.Clock().UTC().Add(-retention)
	err = e.write(ctx, func(ctx context.Context, tx backend.Tx) (err error) {
		removed, err = tx.Purge(ctx, cutoff)
		return err
	})
	if err != nil {
		return 0, model.Wrap(op, "", err)
	}
	if p, ok := e.backend.(backend.LogPruner); ok {
		err = e.gate.Write(ctx, func(ctx context.Context) (err error) {
			pruned, err = p.PruneLog(ctx, cutoff)
			return err
		})
		if err != nil {
			return removed, model.Wrap(op, "", err)
		}
	}
	return removed, nil
}

// Stats counts records by state.
func (e *Engine) Stats(ctx context.Context) (model.Stats, error) {
	const op = "stats"
	if err := e.check(); err != nil {
		return model.Stats{}, model.Wrap(op, "", err)
	}
	var active, tombstoned int
	err := e.read(ctx, op, func(ctx context.Context) (err error) {
		active, tombstoned, err = e.backend.Counts(ctx)
		return err
	})
	if err != nil {
		return model.Stats{}, model.Wrap(op, "", err)
	}
	return model.Stats{
		RecordCount:     active,
		TombstonedCount: tombstoned,
		Backend:         string(e.backend.Kind()),
		Model:           e.embedder.Model(),
		Dimension:       e.backend.Dimension(),
	}, nil
}

// ListRecent lists records newest first without a similarity query.
func (e *Engine) ListRecent(ctx context.Context, req ListRequest) ([]*model.Record, error) {
	const op = "list"
	if err := e.check(); err != nil {
		return nil, model.Wrap(op, "", err)
	}
	if req.TimeRange != nil {
		if err := req.TimeRange.Validate(); err != nil {
			return nil, model.Wrap(op, "", err)
		}
	}
	filter := model.Filter{Tags: model.NormalizeTags(req.Tags), TimeRange: req.TimeRange, State: model.StateActive}
	if req.IncludeTombstoned {
		filter.State = model.StateAny
	}
	var recs []*model.Record
	err := e.read(ctx, op, func(ctx context.Context) (err error) {
		recs, err = e.backend.List(ctx, filter, req.Limit)
		return err
	})
	if err != nil {
		return nil, model.Wrap(op, "", err)
	}
	if recs == nil {
		recs = []*model.Record{}
	}
	return recs, nil
}

// Reindex rebuilds the backend's derived vector state from durable storage
// and returns the number of indexed vectors. Backends without derived state
// only report the count.
func (e *Engine) Reindex(ctx context.Context) (indexed int, err error) {
	const op = "reindex"
	defer func() { e.log.LogReindex(ctx, indexed, err) }()
	if err := e.check(); err != nil {
		return 0, model.Wrap(op, "", err)
	}
	r, ok := e.backend.(backend.Reindexer)
	if !ok {
		return e.backend.Indexed(), nil
	}
	err = e.gate.Write(ctx, func(ctx context.Context) (err error) {
		indexed, err = r.Reindex(ctx)
		return err
	})
	if err != nil {
		return 0, model.Wrap(op, "", err)
	}
	return indexed, nil
}

// ChangeLog returns up to limit change-log entries recorded after scn.
func (e *Engine) ChangeLog(ctx context.Context, after int64, limit int) ([]vecsync.LogEntry, error) {
	const op = "changelog"
	if err := e.check(); err != nil {
		return nil, model.Wrap(op, "", err)
	}
	r, ok := e.backend.(backend.ChangeLogReader)
	if !ok {
		return nil, model.Wrap(op, "", fmt.Errorf("%w: %s keeps no change log", model.ErrInvalidArgument, e.backend.Kind()))
	}
	var entries []vecsync.LogEntry
	err := e.read(ctx, op, func(ctx context.Context) (err error) {
		entries, err = r.ReadLog(ctx, after, limit)
		return err
	})
	if err != nil {
		return nil, model.Wrap(op, "", err)
	}
	if entries == nil {
		entries = []vecsync.LogEntry{}
	}
	return entries, nil
}
