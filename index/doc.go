// Package index defines the in-memory vector index used by the storage
// backends: incremental upsert/remove, kNN queries restricted to a candidate
// set, and compressed snapshots for persistence.
// Implementations include a brute-force baseline and a VP-tree.
package index
