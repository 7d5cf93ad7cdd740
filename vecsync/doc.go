// Package vecsync maintains an SCN-ordered change log of memory records.
// SQLite and Postgres triggers append one row per insert, metadata update,
// tombstone, restore and purge so the history of a store can be audited or
// replayed by downstream consumers.
package vecsync
