// Package sqlitevec stores records and their embeddings in a single SQLite
// file. Queries run against an in-memory index rebuilt from the embeddings
// table, or restored from a snapshot persisted in vector_storage when the
// store has not changed since it was taken. Small candidate sets are scored
// in SQL with vec_cosine.
package sqlitevec
