package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/biosample-enricher/internal/enrich"
	"github.com/sells-group/biosample-enricher/internal/model"
)

// cacheFlags are the cache switches shared by lookup and batch.
type cacheFlags struct {
	noCache      bool
	readCache    bool
	noReadCache  bool
	writeCache   bool
	noWriteCache bool
}

func (f *cacheFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "neither read nor write the cache")
	cmd.Flags().BoolVar(&f.readCache, "read-cache", true, "serve responses from the cache when present")
	cmd.Flags().BoolVar(&f.noReadCache, "no-read-cache", false, "force live calls (responses may still be written)")
	cmd.Flags().BoolVar(&f.writeCache, "write-cache", true, "store admissible responses in the cache")
	cmd.Flags().BoolVar(&f.noWriteCache, "no-write-cache", false, "never store responses")
}

// resolve returns the effective read/write flags. Negative switches win.
func (f cacheFlags) resolve() (read, write bool) {
	if f.noCache {
		return false, false
	}
	return f.readCache && !f.noReadCache, f.writeCache && !f.noWriteCache
}

// splitList parses a comma-separated flag value.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type lookupOptions struct {
	lat, lon  float64
	providers string
	subjectID string
	timeout   time.Duration
	format    string
	output    string
	cache     cacheFlags
}

var lookupOpts lookupOptions

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Look up elevation for one coordinate",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnricher(ctx, "lookup")
		if err != nil {
			return err
		}
		defer env.Close()

		opts := lookupOpts
		if opts.format == "" {
			opts.format = cfg.Lookup.Format
		}
		if opts.timeout == 0 {
			opts.timeout = time.Duration(cfg.Lookup.TimeoutSecs) * time.Second
		}

		w, closeOut, err := openOutput(opts.output)
		if err != nil {
			return err
		}
		defer closeOut() //nolint:errcheck

		var summary io.Writer
		if opts.output != "" && opts.output != "-" {
			summary = os.Stderr
		}
		return runLookup(ctx, env.Service, opts, w, summary)
	},
}

// runLookup performs one lookup and writes the report. When summary is
// non-nil a one-line best-result summary is written there too.
func runLookup(ctx context.Context, svc *enrich.Service, opts lookupOptions, w, summary io.Writer) error {
	read, write := opts.cache.resolve()
	req := enrich.Request{
		Lat:                opts.lat,
		Lon:                opts.lon,
		PreferredProviders: splitList(opts.providers),
		Timeout:            opts.timeout,
		ReadFromCache:      read,
		WriteToCache:       write,
	}

	report, err := svc.Lookup(ctx, req, opts.subjectID)
	if err != nil {
		return err
	}
	if err := encode(w, report, opts.format); err != nil {
		return err
	}
	if summary != nil {
		_, _ = fmt.Fprintln(summary, describeBest(report.Best))
	}
	return nil
}

// describeBest renders the selected elevation for humans.
func describeBest(b *model.ElevationResult) string {
	if b == nil {
		return "no provider returned an elevation"
	}
	s := fmt.Sprintf("best elevation: %.2f m from %s", b.ElevationMeters, b.Provider)
	if b.SpatialResolutionM != nil {
		s += fmt.Sprintf(" (resolution %.0f m)", *b.SpatialResolutionM)
	}
	if b.CacheUsed {
		s += " [cached]"
	}
	return s
}

func init() {
	f := lookupCmd.Flags()
	f.Float64Var(&lookupOpts.lat, "lat", 0, "latitude in decimal degrees")
	f.Float64Var(&lookupOpts.lon, "lon", 0, "longitude in decimal degrees")
	f.StringVar(&lookupOpts.providers, "providers", "", "comma-separated preferred providers")
	f.StringVar(&lookupOpts.subjectID, "subject-id", "", "sample identifier recorded in the envelope")
	f.DurationVar(&lookupOpts.timeout, "timeout", 0, "per-provider timeout (default from config)")
	f.StringVar(&lookupOpts.format, "format", "", "output format: json or yaml (default from config)")
	f.StringVarP(&lookupOpts.output, "output", "o", "", "write the envelope to this file instead of stdout")
	lookupOpts.cache.register(lookupCmd)
	_ = lookupCmd.MarkFlagRequired("lat")
	_ = lookupCmd.MarkFlagRequired("lon")
	rootCmd.AddCommand(lookupCmd)
}
