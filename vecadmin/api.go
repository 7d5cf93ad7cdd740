package vecadmin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/viant/memvec/index"
	"github.com/viant/memvec/metastore"
	"github.com/viant/memvec/model"
	"github.com/viant/memvec/vector"
)

// StorageDDL creates the table holding persisted index snapshots.
const StorageDDL = `CREATE TABLE IF NOT EXISTS vector_storage (
    table_name TEXT PRIMARY KEY,
    "index"    BLOB,
    updated_at INTEGER NOT NULL
)`

// QuickCheck runs PRAGMA quick_check and reports damage as model.ErrCorrupted.
func QuickCheck(ctx context.Context, q metastore.Querier) error {
	rows, err := q.QueryContext(ctx, `PRAGMA quick_check`)
	if err != nil {
		return err
	}
	defer rows.Close()
	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return err
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: quick_check: %s", model.ErrCorrupted, strings.Join(problems, "; "))
	}
	return nil
}

// Report describes how the record table and a vector store disagree.
type Report struct {
	Active int
	// Missing lists active records without a vector.
	Missing []string
	// Orphans lists vectors without a record.
	Orphans []string
	// BadDimension lists vectors whose length differs from the store dimension.
	BadDimension []string
}

// Consistent reports whether no disagreement was found.
func (r *Report) Consistent() bool {
	return len(r.Missing) == 0 && len(r.Orphans) == 0 && len(r.BadDimension) == 0
}

// Err converts an inconsistent report into model.ErrCorrupted.
func (r *Report) Err() error {
	if r.Consistent() {
		return nil
	}
	return fmt.Errorf("%w: %d active records without vector, %d orphaned vectors, %d vectors of wrong dimension",
		model.ErrCorrupted, len(r.Missing), len(r.Orphans), len(r.BadDimension))
}

// Consistency compares the records in q with vectorDims (id to vector length)
// gathered from the vector store. Tombstoned records may keep their vectors.
func Consistency(ctx context.Context, q metastore.Querier, vectorDims map[string]int, dim int) (*Report, error) {
	ids, err := metastore.Candidates(ctx, q, model.Filter{State: model.StateAny})
	if err != nil {
		return nil, err
	}
	active, err := metastore.Candidates(ctx, q, model.Filter{State: model.StateActive})
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	report := &Report{Active: len(active)}
	for _, id := range active {
		if _, ok := vectorDims[id]; !ok {
			report.Missing = append(report.Missing, id)
		}
	}
	for id, d := range vectorDims {
		if !known[id] {
			report.Orphans = append(report.Orphans, id)
			continue
		}
		if dim > 0 && d != dim {
			report.BadDimension = append(report.BadDimension, id)
		}
	}
	sort.Strings(report.Orphans)
	sort.Strings(report.BadDimension)
	return report, nil
}

// Target names the vector table to rebuild from.
type Target struct {
	// VectorTable holds (id, embedding BLOB) rows.
	VectorTable string
	Kind        index.Kind
}

// Reindex rebuilds the in-memory index from the embeddings of active records
// and persists its snapshot in vector_storage. BEGIN IMMEDIATE reserves the
// write lock so no writer interleaves with the scan; it cooperates with
// busy_timeout.
func Reindex(ctx context.Context, db *sql.DB, target Target) (index.Index, int, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return nil, 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), `ROLLBACK`)
		}
	}()

	rows, err := conn.QueryContext(ctx, `SELECT v.id, v.embedding FROM `+target.VectorTable+` v
JOIN memories m ON m.id = v.id WHERE m.tombstoned_at IS NULL ORDER BY v.id`)
	if err != nil {
		return nil, 0, err
	}
	var (
		ids  []string
		vecs [][]float32
	)
	for rows.Next() {
		var id string
		var emb []byte
		if err := rows.Scan(&id, &emb); err != nil {
			rows.Close()
			return nil, 0, err
		}
		v, err := vector.DecodeEmbedding(emb)
		if err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("%w: embedding of %s: %v", model.ErrCorrupted, id, err)
		}
		ids = append(ids, id)
		vecs = append(vecs, v)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, 0, err
	}

	dim := 0
	if len(vecs) > 0 {
		dim = len(vecs[0])
	}
	kind := index.Resolve(target.Kind, len(ids), dim)
	idx := index.New(kind, dim)
	if err := idx.Build(ids, vecs); err != nil {
		if errors.Is(err, model.ErrDimensionMismatch) {
			return nil, 0, fmt.Errorf("%w: %v", model.ErrCorrupted, err)
		}
		return nil, 0, err
	}
	gen, err := metastore.Generation(ctx, conn)
	if err != nil {
		return nil, 0, err
	}
	if err := Persist(ctx, conn, target.VectorTable, idx, kind, gen); err != nil {
		return nil, 0, err
	}
	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return nil, 0, err
	}
	committed = true
	return idx, len(ids), nil
}

// Persist stores a compressed snapshot of idx taken at generation.
func Persist(ctx context.Context, q metastore.Querier, table string, idx index.Index, kind index.Kind, generation int64) error {
	if _, err := q.ExecContext(ctx, StorageDDL); err != nil {
		return err
	}
	blob, err := index.EncodeSnapshot(idx, kind, generation)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO vector_storage(table_name, "index", updated_at) VALUES(?, ?, ?)
ON CONFLICT(table_name) DO UPDATE SET "index" = excluded."index", updated_at = excluded.updated_at`,
		table, blob, time.Now().UnixNano())
	return err
}

// LoadSnapshot returns the persisted snapshot for table when it was taken at
// the given generation; a missing or stale snapshot yields nil.
func LoadSnapshot(ctx context.Context, q metastore.Querier, table string, generation int64) (index.Index, error) {
	if _, err := q.ExecContext(ctx, StorageDDL); err != nil {
		return nil, err
	}
	var blob []byte
	err := q.QueryRowContext(ctx, `SELECT "index" FROM vector_storage WHERE table_name = ?`, table).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) || len(blob) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap, err := index.DecodeSnapshot(blob)
	if err != nil || snap.Generation != generation {
		return nil, nil
	}
	idx, err := snap.Load()
	if err != nil {
		return nil, nil
	}
	return idx, nil
}

// Invalidate drops the persisted snapshot for table.
func Invalidate(ctx context.Context, q metastore.Querier, table string) error {
	if _, err := q.ExecContext(ctx, StorageDDL); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `DELETE FROM vector_storage WHERE table_name = ?`, table)
	return err
}
