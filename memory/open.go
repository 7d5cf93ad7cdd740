package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/viant/memvec/backend"
	"github.com/viant/memvec/backend/chromem"
	"github.com/viant/memvec/backend/postgres"
	"github.com/viant/memvec/backend/sqlitevec"
	"github.com/viant/memvec/config"
	"github.com/viant/memvec/embed"
	"github.com/viant/memvec/model"
)

// Open builds the configured embedder and backend and returns an engine
// owning both. logger may be nil.
func Open(ctx context.Context, cfg config.Config, logger *Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy, err := ParseDedupPolicy(cfg.Dedup)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = NewFormatLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel)
	}
	started := time.Now()
	embedder, err := embed.New(ctx, cfg.Embedding)
	if err != nil {
		return nil, model.Wrap("open", "", err)
	}
	bcfg := backend.Config{
		Kind:        cfg.Backend,
		Path:        cfg.Path,
		DSN:         cfg.DSN,
		Schema:      cfg.Schema,
		Model:       embedder.Model(),
		Dimension:   embedder.Dimensions(),
		IndexKind:   cfg.IndexKind,
		BusyTimeout: cfg.BusyTimeout,
	}
	b, err := openBackend(ctx, bcfg)
	if err != nil {
		closeEmbedder(embedder)
		return nil, model.Wrap("open", "", err)
	}
	eng, err := New(b, embedder, Options{
		Dedup:               policy,
		SimilarityThreshold: cfg.DedupThreshold,
		OverFetch:           cfg.OverFetch,
		Workers:             cfg.Workers,
		QueueDepth:          cfg.QueueDepth,
		Logger:              logger,
	})
	if err != nil {
		_ = b.Close()
		closeEmbedder(embedder)
		return nil, model.Wrap("open", "", err)
	}
	eng.log.LogOpen(ctx, embedder.Model(), embedder.Dimensions(), b.Indexed(), time.Since(started))
	return eng, nil
}

func openBackend(ctx context.Context, cfg backend.Config) (backend.Backend, error) {
	var (
		b   backend.Backend
		err error
	)
	switch cfg.Kind {
	case backend.KindSQLiteVec:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: data directory: %v", model.ErrBackendUnavailable, err)
		}
		var s *sqlitevec.Backend
		if s, err = sqlitevec.Open(ctx, cfg); err == nil {
			b = s
		}
	case backend.KindChromem:
		var c *chromem.Backend
		if c, err = chromem.Open(ctx, cfg); err == nil {
			b = c
		}
	case backend.KindPostgres:
		var p *postgres.Backend
		if p, err = postgres.Open(ctx, cfg); err == nil {
			b = p
		}
	default:
		err = fmt.Errorf("%w: unknown backend %q", model.ErrInvalidArgument, cfg.Kind)
	}
	return b, err
}

func closeEmbedder(e embed.Embedder) {
	if c, ok := e.(embed.Closer); ok {
		_ = c.Close()
	}
}
