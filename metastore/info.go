package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/viant/memvec/model"
)

// Info identifies what created a storage location.
type Info struct {
	Backend       string
	SchemaVersion int
	Model         string
	Dimension     int
}

// ReadInfo loads the info row; ok is false for a fresh location.
func ReadInfo(ctx context.Context, q Querier) (info *Info, ok bool, err error) {
	rows, err := q.QueryContext(ctx, `SELECT key, value FROM memvec_info`)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	info = &Info{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, false, err
		}
		ok = true
		switch key {
		case "backend":
			info.Backend = value
		case "model":
			info.Model = value
		case "schema_version":
			info.SchemaVersion, _ = strconv.Atoi(value)
		case "dimension":
			info.Dimension, _ = strconv.Atoi(value)
		}
	}
	return info, ok, rows.Err()
}

// WriteInfo replaces the info row.
func WriteInfo(ctx context.Context, q Querier, info *Info) error {
	values := map[string]string{
		"backend":        info.Backend,
		"model":          info.Model,
		"schema_version": strconv.Itoa(info.SchemaVersion),
		"dimension":      strconv.Itoa(info.Dimension),
	}
	for k, v := range values {
		if _, err := q.ExecContext(ctx, `INSERT INTO memvec_info(key, value) VALUES(?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
			return err
		}
	}
	return nil
}

// Check compares the persisted info with what the caller is about to use.
// Vectors from different models are not comparable, so a model change is
// rejected along with a backend or dimension change.
func (i *Info) Check(want *Info) error {
	if i.Backend != want.Backend {
		return fmt.Errorf("%w: storage created by backend %q, opened as %q", model.ErrBackendMismatch, i.Backend, want.Backend)
	}
	if i.SchemaVersion > want.SchemaVersion {
		return fmt.Errorf("%w: schema version %d is newer than supported %d", model.ErrBackendMismatch, i.SchemaVersion, want.SchemaVersion)
	}
	if i.Dimension != 0 && want.Dimension != 0 && i.Dimension != want.Dimension {
		return fmt.Errorf("%w: stored dimension %d, embedder %q produces %d", model.ErrDimensionMismatch, i.Dimension, want.Model, want.Dimension)
	}
	if i.Model != "" && want.Model != "" && i.Model != want.Model {
		return fmt.Errorf("%w: storage embedded with model %q, opened with %q", model.ErrBackendMismatch, i.Model, want.Model)
	}
	return nil
}

// Bind records info for a fresh location or verifies it for an existing one.
func Bind(ctx context.Context, q Querier, want *Info) error {
	have, ok, err := ReadInfo(ctx, q)
	if err != nil {
		return err
	}
	if ok {
		if err := have.Check(want); err != nil {
			return err
		}
		if have.SchemaVersion == want.SchemaVersion && have.Dimension == want.Dimension {
			return nil
		}
	}
	return WriteInfo(ctx, q, want)
}

// Generation returns the write generation counter, zero for a fresh store.
func Generation(ctx context.Context, q Querier) (int64, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM memvec_info WHERE key = 'generation'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(value, 10, 64)
}

// BumpGeneration increments the write generation and returns the new value.
// It must run inside the write transaction that changes indexed vectors.
func BumpGeneration(ctx context.Context, q Querier) (int64, error) {
	if _, err := q.ExecContext(ctx, `INSERT INTO memvec_info(key, value) VALUES('generation', '1')
ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT)`); err != nil {
		return 0, err
	}
	return Generation(ctx, q)
}
