package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/biosample-enricher/internal/cache"
)

var (
	cacheFormat    string
	clearOlderThan time.Duration
	clearExpired   bool
	clearURLPrefix string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the HTTP response cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache backend statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openCacheForAdmin(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return encode(os.Stdout, st.Stats(cmd.Context()), cacheFormat)
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete cache entries (all, or those matching the filters)",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openCacheForAdmin(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return runClear(cmd.Context(), st, clearFilter(time.Now()), os.Stdout)
	},
}

func openCacheForAdmin(ctx context.Context) (*cache.Store, error) {
	if err := cfg.Validate("cache"); err != nil {
		return nil, err
	}
	return openStore(ctx, cfg)
}

// clearFilter builds a Filter from the clear flags.
func clearFilter(now time.Time) cache.Filter {
	var f cache.Filter
	if clearOlderThan > 0 {
		f.CreatedBefore = now.Add(-clearOlderThan)
	}
	if clearExpired {
		f.ExpiredAsOf = now
	}
	f.URLPrefix = clearURLPrefix
	return f
}

func runClear(ctx context.Context, st *cache.Store, f cache.Filter, w io.Writer) error {
	n := st.Clear(ctx, f)
	zap.L().Info("cache cleared",
		zap.String("backend", st.Name()),
		zap.Int64("deleted", n),
	)
	_, err := fmt.Fprintf(w, "deleted %d entries from %s cache\n", n, st.Name())
	return err
}

func init() {
	cacheStatsCmd.Flags().StringVar(&cacheFormat, "format", formatJSON, "output format: json or yaml")
	cacheClearCmd.Flags().DurationVar(&clearOlderThan, "older-than", 0, "only entries created longer ago than this")
	cacheClearCmd.Flags().BoolVar(&clearExpired, "expired", false, "only entries already past their expiry")
	cacheClearCmd.Flags().StringVar(&clearURLPrefix, "url-prefix", "", "only entries whose URL starts with this prefix")
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
