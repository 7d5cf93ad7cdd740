package model

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an id is absent, or tombstoned and hidden.
	ErrNotFound = errors.New("memory not found")
	// ErrEmbeddingUnavailable is returned when the model cannot produce a vector.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	// ErrEmptyInput is returned when text is empty after normalization.
	ErrEmptyInput = errors.New("empty input")
	// ErrBackendUnavailable is returned on persistence failures.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrStorageFull is returned when the backend runs out of space.
	ErrStorageFull = errors.New("storage full")
	// ErrBackendMismatch is returned when a storage location was created by another backend.
	ErrBackendMismatch = errors.New("backend mismatch")
	// ErrEngineBusy is returned when the embedding queue is full.
	ErrEngineBusy = errors.New("engine busy")
	// ErrInvalidArgument is returned for malformed requests.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrDimensionMismatch is returned when a vector does not match the store dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrCorrupted is returned when storage fails its integrity check at open.
	ErrCorrupted = errors.New("storage corrupted")
	// ErrClosed is returned by operations on a closed engine or backend.
	ErrClosed = errors.New("closed")
)

// Error carries the operation and record id alongside an error kind.
//
// errors.Is matches both the kind and the wrapped cause.
type Error struct {
	Op   string
	ID   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.ID != "" {
		msg += " " + e.ID
	}
	switch {
	case e.Err != nil && e.Kind != nil && !errors.Is(e.Err, e.Kind):
		return fmt.Sprintf("%s: %v: %v", msg, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	case e.Kind != nil:
		return fmt.Sprintf("%s: %v", msg, e.Kind)
	}
	return msg
}

func (e *Error) Unwrap() []error {
	var out []error
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Wrap attaches op and id to err. Errors without a known kind are classified
// as ErrBackendUnavailable; context errors carry no kind. Nil in, nil out.
func Wrap(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) && me.Op == op && me.ID == id {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Op: op, ID: id, Err: err}
	}
	return &Error{Op: op, ID: id, Kind: KindOf(err), Err: err}
}

// KindOf returns the taxonomy sentinel err matches, or ErrBackendUnavailable.
func KindOf(err error) error {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrBackendUnavailable
}

var kinds = []error{
	ErrNotFound,
	ErrEmbeddingUnavailable,
	ErrEmptyInput,
	ErrStorageFull,
	ErrBackendMismatch,
	ErrEngineBusy,
	ErrInvalidArgument,
	ErrDimensionMismatch,
	ErrCorrupted,
	ErrClosed,
	ErrBackendUnavailable,
}

// transientError marks an error as safe to retry for idempotent reads.
type transientError struct{ err error }

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

// Transient marks err as a transient I/O failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

// DimensionError describes a vector whose length differs from the store's.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("%v: expected %d, got %d", ErrDimensionMismatch, e.Expected, e.Actual)
}

func (e *DimensionError) Unwrap() error { return ErrDimensionMismatch }
