package metastore

import (
	"context"
	"strings"

	"github.com/viant/memvec/model"
)

// whereClause renders f as a SQL predicate over memories.
func whereClause(f model.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	switch f.State {
	case model.StateActive:
		conds = append(conds, "tombstoned_at IS NULL")
	case model.StateTombstoned:
		conds = append(conds, "tombstoned_at IS NOT NULL")
	}
	if r := f.TimeRange; r != nil {
		if !r.From.IsZero() {
			conds = append(conds, "created_at >= ?")
			args = append(args, r.From.UnixNano())
		}
		if !r.To.IsZero() {
			conds = append(conds, "created_at <= ?")
			args = append(args, r.To.UnixNano())
		}
	}
	if tags := model.NormalizeTags(f.Tags); len(tags) > 0 {
		conds = append(conds, `id IN (SELECT memory_id FROM memory_tags WHERE tag IN (`+placeholders(len(tags))+`)
GROUP BY memory_id HAVING COUNT(DISTINCT tag) = ?)`)
		for _, t := range tags {
			args = append(args, t)
		}
		args = append(args, len(tags))
	}
	if len(conds) == 0 {
		return "1 = 1", nil
	}
	return strings.Join(conds, " AND "), args
}

// Candidates returns the ids of records matching f, oldest first.
func Candidates(ctx context.Context, q Querier, f model.Filter) ([]string, error) {
	where, args := whereClause(f)
	rows, err := q.QueryContext(ctx, `SELECT id FROM memories WHERE `+where+` ORDER BY created_at, seq`, args...)
	if err != nil {
		return nil, err
	}
	ids, err := scanIDs(rows)
	if ids == nil && err == nil {
		ids = []string{}
	}
	return ids, err
}

// List returns records matching f newest first; limit <= 0 means no limit.
func List(ctx context.Context, q Querier, f model.Filter, limit int) ([]*model.Record, error) {
	where, args := whereClause(f)
	stmt := `SELECT ` + recordColumns + ` FROM memories WHERE ` + where + ` ORDER BY created_at DESC, seq DESC`
	if limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, limit)
	}
	recs, err := query(ctx, q, stmt, args...)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.Record, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
	}
	if err := loadTags(ctx, q, byID); err != nil {
		return nil, err
	}
	return recs, nil
}
