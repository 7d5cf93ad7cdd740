// Package engine provides helpers for working with the modernc.org/sqlite
// driver in this module: opening connections with the pragmas the memory
// stores rely on, and registering the vec_cosine/vec_l2 SQL scalar
// functions. Every SQLite-backed package shares the driver through here.
package engine
