package model

import (
	"sort"
	"strings"
	"time"
)

// Record is a single stored memory.
type Record struct {
	// ID is assigned at creation and never changes.
	ID string `json:"id"`
	// Content is immutable once written.
	Content string `json:"content"`
	// Embedding has the dimension of the embedder model that produced it.
	Embedding []float32 `json:"embedding,omitempty"`
	// Tags has set semantics; see NormalizeTags.
	Tags        []string       `json:"tags"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ContentHash string         `json:"content_hash"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`

	Tombstoned   bool       `json:"tombstoned"`
	TombstonedAt *time.Time `json:"tombstoned_at,omitempty"`
}

// HasTag reports whether the record carries tag.
func (r *Record) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Tags = append([]string(nil), r.Tags...)
	if r.Embedding != nil {
		out.Embedding = append([]float32(nil), r.Embedding...)
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	if r.TombstonedAt != nil {
		ts := *r.TombstonedAt
		out.TombstonedAt = &ts
	}
	return &out
}

// Hit is a search result: a record and its cosine similarity to the query.
type Hit struct {
	Record *Record `json:"record"`
	Score  float64 `json:"score"`
}

// Scored is an index-level match before it is joined with metadata.
type Scored struct {
	ID    string
	Score float64
}

// SortScored orders matches by descending score, ties broken by smaller id.
func SortScored(items []Scored) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].ID < items[j].ID
	})
}

// NormalizeTags trims, drops empty values, deduplicates and sorts tags.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
