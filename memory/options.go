package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/viant/memvec/model"
)

// DedupPolicy decides whether new content matching stored content creates
// a record.
type DedupPolicy int

const (
	// DedupDefault defers to Options.Dedup.
	DedupDefault DedupPolicy = iota
	// DedupOff always creates a record.
	DedupOff
	// DedupExact returns the oldest active record with the same content hash.
	DedupExact
	// DedupSimilar applies DedupExact, then treats the nearest active record
	// as a duplicate when its score reaches Options.SimilarityThreshold.
	DedupSimilar
)

func (p DedupPolicy) String() string {
	switch p {
	case DedupOff:
		return "off"
	case DedupExact:
		return "exact"
	case DedupSimilar:
		return "similar"
	}
	return "default"
}

// ParseDedupPolicy parses off, exact or similar; empty means exact.
func ParseDedupPolicy(name string) (DedupPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "exact":
		return DedupExact, nil
	case "off", "none":
		return DedupOff, nil
	case "similar":
		return DedupSimilar, nil
	}
	return DedupDefault, fmt.Errorf("%w: unknown dedup policy %q", model.ErrInvalidArgument, name)
}

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	Dedup               DedupPolicy
	SimilarityThreshold float64
	// OverFetch multiplies k for the first index request of a search.
	OverFetch int
	// Workers and QueueDepth size the embedding pool.
	Workers    int
	QueueDepth int
	Logger     *Logger
	// Clock is used for timestamps.
	Clock func() time.Time
}

const (
	defaultThreshold  = 0.95
	defaultOverFetch  = 3
	defaultWorkers    = 4
	defaultQueueDepth = 64
)

func (o Options) withDefaults() Options {
	if o.Dedup == DedupDefault {
		o.Dedup = DedupExact
	}
	if o.SimilarityThreshold == 0 {
		o.SimilarityThreshold = defaultThreshold
	}
	if o.OverFetch < 1 {
		o.OverFetch = defaultOverFetch
	}
	if o.Workers < 1 {
		o.Workers = defaultWorkers
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = defaultQueueDepth
	}
	if o.Logger == nil {
		o.Logger = NewLogger(nil)
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}
