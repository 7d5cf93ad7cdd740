package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/viant/memvec/model"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Classify maps SQLite result codes onto the model error kinds. Busy, locked
// and I/O failures are marked transient. Errors that already carry a kind,
// and context errors, pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se *sqlite.Error
	if !errors.As(err, &se) {
		if model.KindOf(err) != model.ErrBackendUnavailable {
			return err
		}
		return fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR:
		return model.Transient(fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err))
	case sqlite3.SQLITE_FULL:
		return fmt.Errorf("%w: %v", model.ErrStorageFull, err)
	case sqlite3.SQLITE_CORRUPT, sqlite3.SQLITE_NOTADB:
		return fmt.Errorf("%w: %v", model.ErrCorrupted, err)
	}
	return fmt.Errorf("%w: %v", model.ErrBackendUnavailable, err)
}
