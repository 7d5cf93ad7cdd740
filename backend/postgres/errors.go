package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/viant/memvec/model"
)

// classify maps pgx errors onto the model kinds using the SQLSTATE class.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if model.KindOf(err) != model.ErrBackendUnavailable {
		return err
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return model.Transient(fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err))
	}
	switch {
	case pgErr.Code == "53100":
		return fmt.Errorf("%w: %v", model.ErrStorageFull, err)
	case pgErr.Code == "XX001", pgErr.Code == "XX002":
		return fmt.Errorf("%w: %v", model.ErrCorrupted, err)
	case strings.HasPrefix(pgErr.Code, "22"):
		return fmt.Errorf("%w: %v", model.ErrInvalidArgument, err)
	case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "40"),
		strings.HasPrefix(pgErr.Code, "53"), strings.HasPrefix(pgErr.Code, "57P"):
		return model.Transient(fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err))
	}
	return fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
}
