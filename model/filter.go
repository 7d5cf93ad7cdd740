package model

import (
	"fmt"
	"time"
)

// TimeRange is a closed interval over Record.CreatedAt. A zero bound is open.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether ts falls within the inclusive range.
func (r TimeRange) Contains(ts time.Time) bool {
	if !r.From.IsZero() && ts.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && ts.After(r.To) {
		return false
	}
	return true
}

// Validate rejects inverted ranges.
func (r TimeRange) Validate() error {
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return fmt.Errorf("%w: time range end %s precedes start %s", ErrInvalidArgument, r.To.Format(time.RFC3339Nano), r.From.Format(time.RFC3339Nano))
	}
	return nil
}

// State selects records by tombstone state.
type State int

const (
	// StateActive selects non-tombstoned records.
	StateActive State = iota
	// StateTombstoned selects tombstoned records only.
	StateTombstoned
	// StateAny selects every record.
	StateAny
)

// Filter restricts a metadata listing.
type Filter struct {
	// Tags requires every listed tag (intersection).
	Tags      []string
	TimeRange *TimeRange
	State     State
}

// Structural reports whether the filter narrows records beyond their state.
func (f Filter) Structural() bool {
	return len(f.Tags) > 0 || f.TimeRange != nil
}

// Match evaluates the filter against a record in memory.
func (f Filter) Match(r *Record) bool {
	switch f.State {
	case StateActive:
		if r.Tombstoned {
			return false
		}
	case StateTombstoned:
		if !r.Tombstoned {
			return false
		}
	}
	for _, t := range f.Tags {
		if !r.HasTag(t) {
			return false
		}
	}
	if f.TimeRange != nil && !f.TimeRange.Contains(r.CreatedAt) {
		return false
	}
	return true
}

// Stats summarizes a backend.
type Stats struct {
	RecordCount     int    `json:"record_count"`
	TombstonedCount int    `json:"tombstoned_count"`
	Backend         string `json:"backend_name"`
	Model           string `json:"model,omitempty"`
	Dimension       int    `json:"dimension,omitempty"`
}
