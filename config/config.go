// Package config resolves the process configuration once from the
// environment. The resulting Config is immutable and passed by value.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/viant/memvec/backend"
	"github.com/viant/memvec/embed"
	"github.com/viant/memvec/index"
	"github.com/viant/memvec/model"
)

// Config is the resolved configuration of one engine instance.
type Config struct {
	Backend backend.Kind
	// Path is the storage location: a file for sqlite_vec, a directory for chromem.
	Path      string
	DSN       string
	Schema    string
	IndexKind index.Kind

	Embedding embed.Options

	// Dedup is one of off, exact or similar.
	Dedup          string
	DedupThreshold float64
	OverFetch      int
	Workers        int
	QueueDepth     int
	BusyTimeout    time.Duration
	Retention      time.Duration

	LogLevel  slog.Level
	LogFormat string
}

// Lookup reads one variable; it matches os.LookupEnv.
type Lookup func(key string) (string, bool)

// Default returns the configuration used when no variable is set.
func Default() Config {
	return Config{
		Backend:        backend.KindSQLiteVec,
		Path:           defaultPath(backend.KindSQLiteVec),
		IndexKind:      index.KindAuto,
		Embedding:      embed.Options{Provider: embed.ProviderHash, Timeout: 30 * time.Second},
		Dedup:          "exact",
		DedupThreshold: 0.95,
		OverFetch:      3,
		Workers:        4,
		QueueDepth:     64,
		BusyTimeout:    5 * time.Second,
		Retention:      30 * 24 * time.Hour,
		LogLevel:       slog.LevelInfo,
		LogFormat:      "text",
	}
}

func defaultPath(kind backend.Kind) string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		base = filepath.Join(home, ".local", "share")
	}
	if kind == backend.KindChromem {
		return filepath.Join(base, "memvec", "chromem")
	}
	return filepath.Join(base, "memvec", "memory.db")
}

// LoadDotEnv loads variables from the listed files, or from .env in the
// working directory when none are listed. Variables already set win;
// missing default files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("%w: env file: %v", model.ErrInvalidArgument, err)
	}
	return nil
}

// FromEnv resolves the configuration from the process environment after
// loading MEMVEC_ENV_FILE (or .env).
func FromEnv() (Config, error) {
	var files []string
	if f := os.Getenv("MEMVEC_ENV_FILE"); f != "" {
		files = strings.Split(f, string(os.PathListSeparator))
	}
	if err := LoadDotEnv(files...); err != nil {
		return Config{}, err
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup resolves the configuration from lookup.
func FromLookup(lookup Lookup) (Config, error) {
	r := reader{lookup: lookup}
	cfg := Default()

	if name, ok := r.first("MEMVEC_BACKEND", "MCP_MEMORY_STORAGE_BACKEND"); ok {
		kind, err := backend.ParseKind(name)
		if err != nil {
			return Config{}, err
		}
		cfg.Backend = kind
		cfg.Path = defaultPath(kind)
	}
	pathKeys := []string{"MEMVEC_PATH"}
	if cfg.Backend == backend.KindSQLiteVec {
		pathKeys = append(pathKeys, "MCP_MEMORY_SQLITE_PATH")
	}
	if path, ok := r.first(pathKeys...); ok {
		cfg.Path = expandHome(path)
	}
	cfg.DSN = r.str("MEMVEC_POSTGRES_DSN", cfg.DSN)
	cfg.Schema = r.str("MEMVEC_POSTGRES_SCHEMA", cfg.Schema)
	if name, ok := r.first("MEMVEC_INDEX"); ok {
		kind, err := index.ParseKind(name)
		if err != nil {
			return Config{}, err
		}
		cfg.IndexKind = kind
	}

	if name, ok := r.first("MEMVEC_EMBEDDER"); ok {
		p, err := embed.ParseProvider(strings.ToLower(name))
		if err != nil {
			return Config{}, err
		}
		cfg.Embedding.Provider = p
	}
	cfg.Embedding.Model = r.str("MEMVEC_EMBED_MODEL", cfg.Embedding.Model)
	cfg.Embedding.Host = r.str("MEMVEC_EMBED_HOST", cfg.Embedding.Host)
	if key, ok := r.first("MEMVEC_EMBED_API_KEY", "OPENAI_API_KEY"); ok {
		cfg.Embedding.APIKey = key
	}
	cfg.Embedding.CacheDir = r.str("MEMVEC_EMBED_CACHE_DIR", cfg.Embedding.CacheDir)
	cfg.Embedding.Dimensions = r.int("MEMVEC_EMBED_DIMENSIONS", cfg.Embedding.Dimensions)
	cfg.Embedding.Timeout = r.duration("MEMVEC_EMBED_TIMEOUT", cfg.Embedding.Timeout)
	cfg.Embedding.RatePerSecond = r.float("MEMVEC_EMBED_RATE", cfg.Embedding.RatePerSecond)
	cfg.Embedding.Burst = r.int("MEMVEC_EMBED_BURST", cfg.Embedding.Burst)
	cfg.Embedding.CacheSize = r.int("MEMVEC_EMBED_CACHE_SIZE", cfg.Embedding.CacheSize)

	cfg.Dedup = strings.ToLower(r.str("MEMVEC_DEDUP", cfg.Dedup))
	cfg.DedupThreshold = r.float("MEMVEC_DEDUP_THRESHOLD", cfg.DedupThreshold)
	cfg.OverFetch = r.int("MEMVEC_OVERFETCH", cfg.OverFetch)
	cfg.Workers = r.int("MEMVEC_WORKERS", cfg.Workers)
	cfg.QueueDepth = r.int("MEMVEC_QUEUE_DEPTH", cfg.QueueDepth)
	cfg.BusyTimeout = r.duration("MEMVEC_BUSY_TIMEOUT", cfg.BusyTimeout)
	cfg.Retention = r.duration("MEMVEC_RETENTION", cfg.Retention)

	if level, ok := r.first("MEMVEC_LOG_LEVEL"); ok {
		if err := cfg.LogLevel.UnmarshalText([]byte(level)); err != nil {
			r.fail("MEMVEC_LOG_LEVEL", level, err)
		}
	}
	cfg.LogFormat = strings.ToLower(r.str("MEMVEC_LOG_FORMAT", cfg.LogFormat))

	if r.err != nil {
		return Config{}, r.err
	}
	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting as model.ErrInvalidArgument.
func (c Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: config: "+format, append([]any{model.ErrInvalidArgument}, args...)...)
	}
	switch c.Backend {
	case backend.KindSQLiteVec, backend.KindChromem:
		if c.Path == "" {
			return invalid("storage path is required for %s", c.Backend)
		}
	case backend.KindPostgres:
		if c.DSN == "" {
			return invalid("MEMVEC_POSTGRES_DSN is required for postgres")
		}
	default:
		return invalid("unknown backend %q", c.Backend)
	}
	switch c.Dedup {
	case "off", "exact", "similar":
	default:
		return invalid("dedup policy %q is not one of off, exact, similar", c.Dedup)
	}
	if math.IsNaN(c.DedupThreshold) || c.DedupThreshold < -1 || c.DedupThreshold > 1 {
		return invalid("dedup threshold %v outside [-1, 1]", c.DedupThreshold)
	}
	if c.OverFetch < 1 {
		return invalid("over-fetch factor must be at least 1")
	}
	if c.Workers < 1 {
		return invalid("workers must be at least 1")
	}
	if c.QueueDepth < 0 {
		return invalid("queue depth must not be negative")
	}
	if c.Retention < 0 {
		return invalid("retention must not be negative")
	}
	if c.Embedding.Dimensions < 0 {
		return invalid("embedding dimensions must not be negative")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return invalid("log format %q is not text or json", c.LogFormat)
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// reader collects the first parse error while reading typed variables.
type reader struct {
	lookup Lookup
	err    error
}

func (r *reader) first(keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

func (r *reader) fail(key, value string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: config: %s=%q: %v", model.ErrInvalidArgument, key, value, err)
	}
}

func (r *reader) str(key, def string) string {
	if v, ok := r.first(key); ok {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v, ok := r.first(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v, ok := r.first(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return f
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.first(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, err)
		return def
	}
	return d
}
