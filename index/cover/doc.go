// Package cover provides a vantage-point tree over a brute-force store.
// Distances are angular so the triangle inequality holds and pruning is
// exact. The tree is rebuilt lazily after mutations.
package cover
