// Package vecadmin implements maintenance operations over a SQLite store:
// integrity checks run at open and index rebuilds persisted to the shared
// vector_storage table.
package vecadmin
