package engine

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

// Options controls the connection pragmas applied by OpenWith.
type Options struct {
	// BusyTimeout is how long a connection waits on a locked database.
	BusyTimeout time.Duration
	// WAL enables write-ahead logging so readers do not block the writer.
	WAL bool
	// MaxOpenConns bounds the pool; zero leaves the driver default.
	MaxOpenConns int
	// ImmediateTx makes BeginTx take the write lock up front.
	ImmediateTx bool
}

// DefaultOptions mirrors the settings used across the tests: WAL with a
// five second busy timeout.
var DefaultOptions = Options{BusyTimeout: 5 * time.Second, WAL: true}

// Open opens a SQLite database using the modernc.org/sqlite driver.
//
// For file-based databases, pass a path like "./db.sqlite". For in-memory
// databases, pass ":memory:".
func Open(dsn string) (*sql.DB, error) { return sql.Open("sqlite", dsn) }

// OpenWith opens path and applies opts as per-connection pragmas so every
// pooled connection shares them. In-memory databases are pinned to a single
// connection because each connection would otherwise see its own database.
func OpenWith(path string, opts Options) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("engine: empty database path")
	}
	memory := path == ":memory:" || strings.HasPrefix(path, "file::memory:")
	dsn := path
	if !memory {
		q := url.Values{}
		if opts.BusyTimeout > 0 {
			q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
		}
		if opts.WAL {
			q.Add("_pragma", "journal_mode(WAL)")
			q.Add("_pragma", "synchronous(NORMAL)")
		}
		q.Add("_pragma", "foreign_keys(ON)")
		if opts.ImmediateTx {
			q.Add("_txlock", "immediate")
		}
		dsn = "file:" + path + "?" + q.Encode()
	}
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	switch {
	case memory:
		db.SetMaxOpenConns(1)
	case opts.MaxOpenConns > 0:
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
