// Package bruteforce provides an exact vector index that answers kNN queries
// by scanning live slots and scoring via cosine similarity. Candidate sets are
// resolved to roaring bitmaps over internal slots so a restricted search only
// touches the candidates. It supports a compact binary format for persistence
// in the vector_storage table.
package bruteforce
