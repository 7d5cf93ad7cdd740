package memory

import "github.com/viant/memvec/model"

type StoreRequest struct {
	Content  string
	Tags     []string
	Metadata map[string]any
	Dedup    DedupPolicy
}

type StoreResult struct {
	ID string `json:"id"`
	// Duplicate is set when an existing record was returned instead.
	Duplicate bool `json:"duplicate"`
}

type RetrieveOptions struct {
	IncludeTombstoned bool
}

type SearchRequest struct {
	Query     string
	K         int
	Tags      []string
	TimeRange *model.TimeRange
	// MinScore drops hits scoring below it when set.
	MinScore *float64
}

// UpdateRequest changes metadata only. Nil fields are left unchanged.
type UpdateRequest struct {
	Tags     *[]string
	Metadata map[string]any
	// MergeMetadata merges Metadata into the stored map instead of replacing it.
	MergeMetadata bool
}

type ListRequest struct {
	Tags              []string
	TimeRange         *model.TimeRange
	IncludeTombstoned bool
	// Limit <= 0 lists everything.
	Limit int
}
