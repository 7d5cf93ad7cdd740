package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/viant/memvec/metastore"
	"github.com/viant/memvec/model"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const recordColumns = `id, content, content_hash, metadata::text, created_at, updated_at, tombstoned_at`

// args accumulates positional parameters.
type args []any

func (a *args) add(v any) string {
	*a = append(*a, v)
	return "$" + strconv.Itoa(len(*a))
}

// store runs record statements against the tables of one schema.
type store struct {
	t tables
}

func (s store) insert(ctx context.Context, q querier, rec *model.Record, embedding string) error {
	var last int64
	if err := q.QueryRow(ctx, `SELECT COALESCE(MAX(created_at), 0) FROM `+s.t.memories).Scan(&last); err != nil {
		return err
	}
	created := rec.CreatedAt.UnixNano()
	if created < last {
		created = last
		rec.CreatedAt = time.Unix(0, created).UTC()
	}
	if rec.UpdatedAt.Before(rec.CreatedAt) {
		rec.UpdatedAt = rec.CreatedAt
	}
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, `INSERT INTO `+s.t.memories+`(id, content, content_hash, metadata, embedding, created_at, updated_at)
VALUES($1, $2, $3, $4::jsonb, $5::vector, $6, $7)`, rec.ID, rec.Content, rec.ContentHash, meta, embedding, created, rec.UpdatedAt.UnixNano()); err != nil {
		return err
	}
	return s.replaceTags(ctx, q, rec.ID, rec.Tags)
}

func (s store) replaceTags(ctx context.Context, q querier, id string, tags []string) error {
	if _, err := q.Exec(ctx, `DELETE FROM `+s.t.tags+` WHERE memory_id = $1`, id); err != nil {
		return err
	}
	if len(tags) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, `INSERT INTO `+s.t.tags+`(memory_id, tag) SELECT $1, unnest($2::text[])`, id, tags)
	return err
}

func (s store) getMany(ctx context.Context, q querier, ids []string) (map[string]*model.Record, error) {
	out := make(map[string]*model.Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	recs, err := s.query(ctx, q, `SELECT `+recordColumns+` FROM `+s.t.memories+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		out[r.ID] = r
	}
	if err := s.loadTags(ctx, q, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s store) findByHash(ctx context.Context, q querier, hash string) (string, bool, error) {
	var id string
	err := q.QueryRow(ctx, `SELECT id FROM `+s.t.memories+` WHERE content_hash = $1 AND tombstoned_at IS NULL ORDER BY seq LIMIT 1`, hash).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (s store) updateMeta(ctx context.Context, q querier, id string, tags []string, meta map[string]any, at time.Time) error {
	var a args
	sets := []string{"updated_at = " + a.add(at.UnixNano())}
	if meta != nil {
		encoded, err := encodeMetadata(meta)
		if err != nil {
			return err
		}
		sets = append(sets, "metadata = "+a.add(encoded)+"::jsonb")
	}
	tag, err := q.Exec(ctx, `UPDATE `+s.t.memories+` SET `+strings.Join(sets, ", ")+` WHERE id = `+a.add(id)+` AND tombstoned_at IS NULL`, a...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	if tags != nil {
		return s.replaceTags(ctx, q, id, tags)
	}
	return nil
}

func (s store) setTombstone(ctx context.Context, q querier, id string, tombstone bool, at time.Time) (bool, error) {
	stmt := `UPDATE ` + s.t.memories + ` SET tombstoned_at = $1, updated_at = $1 WHERE id = $2 AND tombstoned_at IS NULL`
	if !tombstone {
		stmt = `UPDATE ` + s.t.memories + ` SET tombstoned_at = NULL, updated_at = $1 WHERE id = $2 AND tombstoned_at IS NOT NULL`
	}
	tag, err := q.Exec(ctx, stmt, at.UnixNano(), id)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var one int
	err = q.QueryRow(ctx, `SELECT 1 FROM `+s.t.memories+` WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, model.ErrNotFound
	}
	return false, err
}

func (s store) purge(ctx context.Context, q querier, cutoff time.Time) (int, error) {
	tag, err := q.Exec(ctx, `DELETE FROM `+s.t.memories+` WHERE tombstoned_at IS NOT NULL AND tombstoned_at <= $1`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s store) counts(ctx context.Context, q querier) (active, tombstoned int, err error) {
	err = q.QueryRow(ctx, `SELECT
    COUNT(*) FILTER (WHERE tombstoned_at IS NULL),
    COUNT(*) FILTER (WHERE tombstoned_at IS NOT NULL)
FROM `+s.t.memories).Scan(&active, &tombstoned)
	return active, tombstoned, err
}

// where renders f as a predicate over memories, appending its parameters.
func (s store) where(f model.Filter, a *args) string {
	var conds []string
	switch f.State {
	case model.StateActive:
		conds = append(conds, "tombstoned_at IS NULL")
	case model.StateTombstoned:
		conds = append(conds, "tombstoned_at IS NOT NULL")
	}
	if r := f.TimeRange; r != nil {
		if !r.From.IsZero() {
			conds = append(conds, "created_at >= "+a.add(r.From.UnixNano()))
		}
		if !r.To.IsZero() {
			conds = append(conds, "created_at <= "+a.add(r.To.UnixNano()))
		}
	}
	if tags := model.NormalizeTags(f.Tags); len(tags) > 0 {
		conds = append(conds, `id IN (SELECT memory_id FROM `+s.t.tags+` WHERE tag = ANY(`+a.add(tags)+`)
GROUP BY memory_id HAVING COUNT(DISTINCT tag) = `+a.add(len(tags))+`)`)
	}
	if len(conds) == 0 {
		return "TRUE"
	}
	return strings.Join(conds, " AND ")
}

func (s store) candidates(ctx context.Context, q querier, f model.Filter) ([]string, error) {
	var a args
	rows, err := q.Query(ctx, `SELECT id FROM `+s.t.memories+` WHERE `+s.where(f, &a)+` ORDER BY created_at, seq`, a...)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if ids == nil && err == nil {
		ids = []string{}
	}
	return ids, err
}

func (s store) list(ctx context.Context, q querier, f model.Filter, limit int) ([]*model.Record, error) {
	var a args
	stmt := `SELECT ` + recordColumns + ` FROM ` + s.t.memories + ` WHERE ` + s.where(f, &a) + ` ORDER BY created_at DESC, seq DESC`
	if limit > 0 {
		stmt += ` LIMIT ` + a.add(limit)
	}
	recs, err := s.query(ctx, q, stmt, a...)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.Record, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
	}
	if err := s.loadTags(ctx, q, byID); err != nil {
		return nil, err
	}
	return recs, nil
}

func (s store) query(ctx context.Context, q querier, stmt string, params ...any) ([]*model.Record, error) {
	rows, err := q.Query(ctx, stmt, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Record
	for rows.Next() {
		var (
			rec              model.Record
			meta             string
			created, updated int64
			tombstoned       *int64
		)
		if err := rows.Scan(&rec.ID, &rec.Content, &rec.ContentHash, &meta, &created, &updated, &tombstoned); err != nil {
			return nil, err
		}
		if meta != "" && meta != "{}" {
			if rec.Metadata, err = metastore.DecodeMetadata([]byte(meta)); err != nil {
				return nil, fmt.Errorf("%w: metadata of %s: %v", model.ErrCorrupted, rec.ID, err)
			}
		}
		rec.CreatedAt = time.Unix(0, created).UTC()
		rec.UpdatedAt = time.Unix(0, updated).UTC()
		if tombstoned != nil {
			ts := time.Unix(0, *tombstoned).UTC()
			rec.Tombstoned = true
			rec.TombstonedAt = &ts
		}
		rec.Tags = []string{}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (s store) loadTags(ctx context.Context, q querier, recs map[string]*model.Record) error {
	if len(recs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(recs))
	for id := range recs {
		ids = append(ids, id)
	}
	rows, err := q.Query(ctx, `SELECT memory_id, tag FROM `+s.t.tags+` WHERE memory_id = ANY($1) ORDER BY memory_id, tag`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, tag string
		if err := rows.Scan(&id, &tag); err != nil {
			return err
		}
		if rec, ok := recs[id]; ok {
			rec.Tags = append(rec.Tags, tag)
		}
	}
	return rows.Err()
}

func encodeMetadata(meta map[string]any) (string, error) {
	if len(meta) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("%w: metadata: %v", model.ErrInvalidArgument, err)
	}
	return string(data), nil
}
