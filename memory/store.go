package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/viant/memvec/backend"
	"github.com/viant/memvec/model"
)

// errDuplicate aborts a write section that found an existing record.
var errDuplicate = errors.New("duplicate")

// Store embeds and persists content, or returns the id of a duplicate under
// the request's (or engine's) dedup policy.
func (e *Engine) Store(ctx context.Context, req StoreRequest) (res StoreResult, err error) {
	const op = "store"
	defer func() {
		e.log.LogStore(ctx, res.ID, res.Duplicate, err)
	}()
	if err := e.check(); err != nil {
		return StoreResult{}, model.Wrap(op, "", err)
	}
	content := strings.TrimSpace(req.Content)
	normalized := model.NormalizeContent(content)
	if normalized == "" {
		return StoreResult{}, &model.Error{Op: op, Kind: model.ErrInvalidArgument, Err: model.ErrEmptyInput}
	}
	policy := req.Dedup
	if policy == DedupDefault {
		policy = e.opts.Dedup
	}
	hash := model.ContentHash(normalized)

	if policy != DedupOff {
		var (
			id    string
			found bool
		)
		err := e.read(ctx, op, func(ctx context.Context) (err error) {
			id, found, err = e.backend.FindByHash(ctx, hash)
			return err
		})
		if err != nil {
			return StoreResult{}, model.Wrap(op, "", err)
		}
		if found {
			return StoreResult{ID: id, Duplicate: true}, nil
		}
	}

	vec, err := e.embed(ctx, normalized)
	if err != nil {
		return StoreResult{}, model.Wrap(op, "", err)
	}

	if policy == DedupSimilar {
		id, found, err := e.nearDuplicate(ctx, vec)
		if err != nil {
			return StoreResult{}, model.Wrap(op, "", err)
		}
		if found {
			return StoreResult{ID: id, Duplicate: true}, nil
		}
	}

	id, err := newID()
	if err != nil {
		return StoreResult{}, model.Wrap(op, "", err)
	}
	now := e.opts.Clock().UTC()
	rec := &model.Record{
		ID:          id,
		Content:     content,
		Embedding:   vec,
		Tags:        model.NormalizeTags(req.Tags),
		Metadata:    req.Metadata,
		ContentHash: hash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	var existing string
	err = e.write(ctx, func(ctx context.Context, tx backend.Tx) error {
		if policy != DedupOff {
			id, found, err := tx.FindByHash(ctx, hash)
			if err != nil {
				return err
			}
			if found {
				existing = id
				return errDuplicate
			}
		}
		return tx.Insert(ctx, rec)
	})
	if errors.Is(err, errDuplicate) {
		return StoreResult{ID: existing, Duplicate: true}, nil
	}
	if err != nil {
		return StoreResult{}, model.Wrap(op, "", err)
	}
	return StoreResult{ID: id}, nil
}

// nearDuplicate reports the nearest active record when its similarity to
// vec reaches the configured threshold.
func (e *Engine) nearDuplicate(ctx context.Context, vec []float32) (string, bool, error) {
	var top []model.Scored
	err := e.read(ctx, "store", func(ctx context.Context) (err error) {
		top, err = e.backend.Search(ctx, vec, 1, nil)
		return err
	})
	if err != nil {
		return "", false, fmt.Errorf("similarity check: %w", err)
	}
	if len(top) == 1 && top[0].Score >= e.opts.SimilarityThreshold {
		return top[0].ID, true, nil
	}
	return "", false, nil
}
