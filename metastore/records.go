package metastore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/viant/memvec/model"
)

const recordColumns = `id, content, content_hash, metadata, created_at, updated_at, tombstoned_at`

// Insert writes a new record and its tags. CreatedAt is clamped so it never
// precedes the newest stored record; rec is updated accordingly.
func Insert(ctx context.Context, q Querier, rec *model.Record) error {
	var last int64
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(created_at), 0) FROM memories`).Scan(&last); err != nil {
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
	if _, err := q.ExecContext(ctx, `INSERT INTO memories(id, content, content_hash, metadata, created_at, updated_at)
VALUES(?, ?, ?, ?, ?, ?)`, rec.ID, rec.Content, rec.ContentHash, meta, created, rec.UpdatedAt.UnixNano()); err != nil {
		return err
	}
	return replaceTags(ctx, q, rec.ID, rec.Tags)
}

func replaceTags(ctx context.Context, q Querier, id string, tags []string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM memory_tags WHERE memory_id = ?`, id); err != nil {
		return err
	}
	for _, tag := range tags {
		if _, err := q.ExecContext(ctx, `INSERT INTO memory_tags(memory_id, tag) VALUES(?, ?)`, id, tag); err != nil {
			return err
		}
	}
	return nil
}

// Get loads a record regardless of tombstone state. Embedding is left nil.
func Get(ctx context.Context, q Querier, id string) (*model.Record, error) {
	recs, err := GetMany(ctx, q, []string{id})
	if err != nil {
		return nil, err
	}
	rec, ok := recs[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return rec, nil
}

// GetMany loads the listed records keyed by id; missing ids are absent.
func GetMany(ctx context.Context, q Querier, ids []string) (map[string]*model.Record, error) {
	out := make(map[string]*model.Record, len(ids))
	for start := 0; start < len(ids); start += maxParams {
		end := start + maxParams
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		recs, err := query(ctx, q, `SELECT `+recordColumns+` FROM memories WHERE id IN (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			out[r.ID] = r
		}
	}
	if err := loadTags(ctx, q, out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindByHash returns the id of the oldest active record with content hash.
func FindByHash(ctx context.Context, q Querier, hash string) (string, bool, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM memories WHERE content_hash = ? AND tombstoned_at IS NULL ORDER BY seq LIMIT 1`, hash).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// UpdateMeta replaces tags (when tags is non-nil) and metadata (when meta is
// non-nil) of an active record.
func UpdateMeta(ctx context.Context, q Querier, id string, tags []string, meta map[string]any, at time.Time) error {
	sets := []string{"updated_at = ?"}
	args := []any{at.UnixNano()}
	if meta != nil {
		encoded, err := encodeMetadata(meta)
		if err != nil {
			return err
		}
		sets = append(sets, "metadata = ?")
		args = append(args, encoded)
	}
	args = append(args, id)
	res, err := q.ExecContext(ctx, `UPDATE memories SET `+strings.Join(sets, ", ")+` WHERE id = ? AND tombstoned_at IS NULL`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	if tags != nil {
		return replaceTags(ctx, q, id, tags)
	}
	return nil
}

// Tombstone marks a record deleted. changed is false when it already was;
// ErrNotFound is returned for an unknown id.
func Tombstone(ctx context.Context, q Querier, id string, at time.Time) (changed bool, err error) {
	return setTombstone(ctx, q, id, `tombstoned_at = ?, updated_at = ?`, `tombstoned_at IS NULL`, at.UnixNano(), at.UnixNano())
}

// Restore clears a tombstone. changed is false when the record was active.
func Restore(ctx context.Context, q Querier, id string, at time.Time) (changed bool, err error) {
	return setTombstone(ctx, q, id, `tombstoned_at = NULL, updated_at = ?`, `tombstoned_at IS NOT NULL`, at.UnixNano())
}

func setTombstone(ctx context.Context, q Querier, id, set, guard string, args ...any) (bool, error) {
	res, err := q.ExecContext(ctx, `UPDATE memories SET `+set+` WHERE id = ? AND `+guard, append(args, id)...)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	var one int
	err = q.QueryRowContext(ctx, `SELECT 1 FROM memories WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, model.ErrNotFound
	}
	return false, err
}

// Expired lists records tombstoned at or before cutoff.
func Expired(ctx context.Context, q Querier, cutoff time.Time) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM memories WHERE tombstoned_at IS NOT NULL AND tombstoned_at <= ? ORDER BY seq`, cutoff.UnixNano())
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

// Purge hard-deletes the listed records and their tags.
func Purge(ctx context.Context, q Querier, ids []string) (int, error) {
	total := 0
	for _, id := range ids {
		if _, err := q.ExecContext(ctx, `DELETE FROM memory_tags WHERE memory_id = ?`, id); err != nil {
			return total, err
		}
		res, err := q.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

// Counts returns the number of active and tombstoned records.
func Counts(ctx context.Context, q Querier) (active, tombstoned int, err error) {
	err = q.QueryRowContext(ctx, `SELECT
    COALESCE(SUM(CASE WHEN tombstoned_at IS NULL THEN 1 ELSE 0 END), 0),
    COALESCE(SUM(CASE WHEN tombstoned_at IS NULL THEN 0 ELSE 1 END), 0)
FROM memories`).Scan(&active, &tombstoned)
	return active, tombstoned, err
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

// DecodeMetadata parses a stored metadata document. Integral numbers decode
// as int64 and the rest as float64, so integers survive a round trip.
func DecodeMetadata(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var meta map[string]any
	if err := dec.Decode(&meta); err != nil {
		return nil, err
	}
	for k, v := range meta {
		meta[k] = numbers(v)
	}
	return meta, nil
}

func numbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, item := range t {
			t[k] = numbers(item)
		}
	case []any:
		for i, item := range t {
			t[i] = numbers(item)
		}
	}
	return v
}

func query(ctx context.Context, q Querier, stmt string, args ...any) ([]*model.Record, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
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
			tombstoned       sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.Content, &rec.ContentHash, &meta, &created, &updated, &tombstoned); err != nil {
			return nil, err
		}
		if meta != "" && meta != "{}" {
			if rec.Metadata, err = DecodeMetadata([]byte(meta)); err != nil {
				return nil, fmt.Errorf("%w: metadata of %s: %v", model.ErrCorrupted, rec.ID, err)
			}
		}
		rec.CreatedAt = time.Unix(0, created).UTC()
		rec.UpdatedAt = time.Unix(0, updated).UTC()
		if tombstoned.Valid {
			ts := time.Unix(0, tombstoned.Int64).UTC()
			rec.Tombstoned = true
			rec.TombstonedAt = &ts
		}
		rec.Tags = []string{}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func loadTags(ctx context.Context, q Querier, recs map[string]*model.Record) error {
	if len(recs) == 0 {
		return nil
	}
	ids := make([]any, 0, len(recs))
	for id := range recs {
		ids = append(ids, id)
	}
	for start := 0; start < len(ids); start += maxParams {
		end := start + maxParams
		if end > len(ids) {
			end = len(ids)
		}
		rows, err := q.QueryContext(ctx, `SELECT memory_id, tag FROM memory_tags WHERE memory_id IN (`+placeholders(end-start)+`) ORDER BY memory_id, tag`, ids[start:end]...)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id, tag string
			if err := rows.Scan(&id, &tag); err != nil {
				rows.Close()
				return err
			}
			if rec, ok := recs[id]; ok {
				rec.Tags = append(rec.Tags, tag)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// maxParams keeps IN lists below SQLite's bound parameter limit.
const maxParams = 500

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
