package vecsync

import (
	"context"
	"database/sql"
	"time"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Install creates the SQLite change log and its triggers.
func Install(ctx context.Context, q Querier) error {
	stmts := append([]string{LogTableDDL("")}, SQLiteLogTriggers("", "")...)
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ReadLog returns up to limit entries with SCN greater than after, in SCN
// order. limit <= 0 means no limit.
func ReadLog(ctx context.Context, q Querier, after int64, limit int) ([]LogEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.QueryContext(ctx, `SELECT scn, op, memory_id, payload, created_at FROM `+DefaultLogTable+` WHERE scn > ? ORDER BY scn LIMIT ?`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LogEntry
	for rows.Next() {
		var (
			e       LogEntry
			op      string
			payload string
			millis  int64
		)
		if err := rows.Scan(&e.SCN, &op, &e.MemoryID, &payload, &millis); err != nil {
			return nil, err
		}
		e.Op = Op(op)
		e.Payload = []byte(payload)
		e.CreatedAt = time.UnixMilli(millis).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune deletes entries logged before cutoff and returns how many were removed.
func Prune(ctx context.Context, q Querier, cutoff time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM `+DefaultLogTable+` WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
