package memory

import (
	"context"
	"fmt"
	"math"

	"github.com/viant/memvec/model"
)

// Search returns up to K active records ranked by similarity to the query,
// restricted by tags (all required) and creation time when given. An empty
// result is not an error.
func (e *Engine) Search(ctx context.Context, req SearchRequest) (hits []model.Hit, err error) {
	const op = "search"
	candidateCount := -1
	defer func() {
		e.log.LogSearch(ctx, req.K, candidateCount, len(hits), err)
	}()
	if err := e.check(); err != nil {
		return nil, model.Wrap(op, "", err)
	}
	if err := validateSearch(req); err != nil {
		return nil, model.Wrap(op, "", err)
	}
	query := model.NormalizeContent(req.Query)
	if query == "" {
		return nil, &model.Error{Op: op, Kind: model.ErrInvalidArgument, Err: model.ErrEmptyInput}
	}
	vec, err := e.embed(ctx, query)
	if err != nil {
		return nil, model.Wrap(op, "", err)
	}

	filter := model.Filter{Tags: model.NormalizeTags(req.Tags), TimeRange: req.TimeRange, State: model.StateActive}
	var found []model.Hit
	err = e.read(ctx, op, func(ctx context.Context) error {
		var candidates []string
		if filter.Structural() {
			ids, err := e.backend.Candidates(ctx, filter)
			if err != nil {
				return err
			}
			candidateCount = len(ids)
			if len(ids) == 0 {
				found = []model.Hit{}
				return nil
			}
			candidates = ids
		}
		ranked, err := e.rank(ctx, vec, req, filter, candidates)
		found = ranked
		return err
	})
	if err != nil {
		return nil, model.Wrap(op, "", err)
	}
	return found, nil
}

func validateSearch(req SearchRequest) error {
	if req.K <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", model.ErrInvalidArgument, req.K)
	}
	if req.TimeRange != nil {
		if err := req.TimeRange.Validate(); err != nil {
			return err
		}
	}
	if req.MinScore != nil && math.IsNaN(*req.MinScore) {
		return fmt.Errorf("%w: min_score is NaN", model.ErrInvalidArgument)
	}
	return nil
}

// rank asks the index for K*OverFetch matches, joins them with their
// records and widens the request until K hits qualify or the index is
// exhausted. K and the fetch size are capped by what the index holds.
func (e *Engine) rank(ctx context.Context, vec []float32, req SearchRequest, filter model.Filter, candidates []string) ([]model.Hit, error) {
	limit := e.backend.Indexed()
	if candidates != nil && len(candidates) < limit {
		limit = len(candidates)
	}
	k := req.K
	if limit > 0 && k > limit {
		k = limit
	}
	fetch := mulSat(k, e.opts.OverFetch)
	if limit > 0 && fetch > limit {
		fetch = limit
	}
	for {
		scored, err := e.backend.Search(ctx, vec, fetch, candidates)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(scored))
		for i, s := range scored {
			ids[i] = s.ID
		}
		recs, err := e.backend.GetMany(ctx, ids)
		if err != nil {
			return nil, err
		}
		hits := make([]model.Hit, 0, min(k, len(scored)))
		belowMin := false
		for _, s := range scored {
			if req.MinScore != nil && s.Score < *req.MinScore {
				belowMin = true
				break
			}
			rec, ok := recs[s.ID]
			if !ok || !filter.Match(rec) {
				continue
			}
			hits = append(hits, model.Hit{Record: rec, Score: s.Score})
			if len(hits) == k {
				break
			}
		}
		if len(hits) == k || belowMin || len(scored) < fetch || fetch >= limit {
			return hits, nil
		}
		fetch = min(mulSat(fetch, 2), limit)
	}
}

// mulSat multiplies non-negative a and b, saturating at math.MaxInt.
func mulSat(a, b int) int {
	if a != 0 && b > math.MaxInt/a {
		return math.MaxInt
	}
	return a * b
}
