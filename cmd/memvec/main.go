// Command memvec drives a memory store for maintenance and scripting.
//
//	memvec [flags] stats|compact|reindex|log|store|search|get|delete|restore|list [args]
//
// Storage and embedder come from MEMVEC_* variables (see package config).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/viant/memvec/config"
	"github.com/viant/memvec/memory"
	"github.com/viant/memvec/model"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "memvec:", err)
		if errors.Is(err, model.ErrInvalidArgument) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("memvec", flag.ContinueOnError)
	tags := fs.String("tags", "", "comma-separated tags")
	k := fs.Int("k", 5, "number of search results")
	minScore := fs.Float64("min-score", -2, "drop search hits below this score")
	limit := fs.Int("limit", 20, "maximum records to list")
	retention := fs.Duration("retention", 0, "compact records tombstoned longer than this (default from MEMVEC_RETENTION)")
	after := fs.Int64("after", 0, "list change-log entries after this SCN")
	all := fs.Bool("all", false, "include tombstoned records")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidArgument, err)
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("%w: missing command", model.ErrInvalidArgument)
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	eng, err := memory.Open(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer eng.Close()

	var result any
	switch cmd {
	case "stats":
		result, err = eng.Stats(ctx)
	case "compact":
		if *retention == 0 {
			*retention = cfg.Retention
		}
		var n int
		n, err = eng.Compact(ctx, *retention)
		result = map[string]any{"removed": n, "retention": retention.String()}
	case "reindex":
		var n int
		n, err = eng.Reindex(ctx)
		result = map[string]any{"indexed": n}
	case "log":
		result, err = eng.ChangeLog(ctx, *after, *limit)
	case "store":
		result, err = eng.Store(ctx, memory.StoreRequest{Content: strings.Join(rest, " "), Tags: splitTags(*tags)})
	case "search":
		req := memory.SearchRequest{Query: strings.Join(rest, " "), K: *k, Tags: splitTags(*tags)}
		if *minScore >= -1 {
			req.MinScore = minScore
		}
		result, err = eng.Search(ctx, req)
	case "get":
		if len(rest) != 1 {
			return fmt.Errorf("%w: get takes one id", model.ErrInvalidArgument)
		}
		result, err = eng.Retrieve(ctx, rest[0], memory.RetrieveOptions{IncludeTombstoned: *all})
	case "delete", "restore":
		if len(rest) != 1 {
			return fmt.Errorf("%w: %s takes one id", model.ErrInvalidArgument, cmd)
		}
		var changed bool
		if cmd == "delete" {
			changed, err = eng.Delete(ctx, rest[0])
		} else {
			changed, err = eng.Restore(ctx, rest[0])
		}
		result = map[string]any{"id": rest[0], "success": err == nil, "changed": changed}
	case "list":
		result, err = eng.ListRecent(ctx, memory.ListRequest{Tags: splitTags(*tags), IncludeTombstoned: *all, Limit: *limit})
	default:
		return fmt.Errorf("%w: unknown command %q", model.ErrInvalidArgument, cmd)
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func splitTags(csv string) []string {
	if csv == "" {
		return nil
	}
	return strings.Split(csv, ",")
}
