// Package metastore persists memory records, their tags and the backend info
// row in SQLite. Functions accept a Querier so the same code runs on a
// *sql.DB or inside a write transaction.
package metastore
