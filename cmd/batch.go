package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/biosample-enricher/internal/enrich"
)

// sampleRow is one input row after header canonicalization.
type sampleRow struct {
	SampleID string `csv:"sample_id"`
	Lat      string `csv:"lat"`
	Lon      string `csv:"lon"`
}

// batchRecord is one JSONL output line. Report is nil for rows that could
// not be looked up.
type batchRecord struct {
	*enrich.Report
	Row       int    `json:"row"`
	SubjectID string `json:"subject_id"`
	Error     string `json:"error,omitempty"`
}

type batchOptions struct {
	input       string
	output      string
	idCol       string
	latCol      string
	lonCol      string
	providers   string
	timeout     time.Duration
	concurrency int
	cache       cacheFlags
}

var batchOpts batchOptions

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Look up elevation for every sample in a CSV file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnricher(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		opts := batchOpts
		if opts.idCol == "" {
			opts.idCol = cfg.Batch.IDColumn
		}
		if opts.latCol == "" {
			opts.latCol = cfg.Batch.LatColumn
		}
		if opts.lonCol == "" {
			opts.lonCol = cfg.Batch.LonColumn
		}
		if opts.concurrency <= 0 {
			opts.concurrency = cfg.Batch.MaxConcurrentSamples
		}

		in, err := os.Open(opts.input)
		if err != nil {
			return eris.Wrapf(err, "open input %s", opts.input)
		}
		defer in.Close() //nolint:errcheck

		rows, err := readSamples(in, opts.idCol, opts.latCol, opts.lonCol)
		if err != nil {
			return err
		}

		w, closeOut, err := openOutput(opts.output)
		if err != nil {
			return err
		}
		defer closeOut() //nolint:errcheck

		return processBatch(ctx, env.Service, rows, opts, w)
	},
}

func init() {
	f := batchCmd.Flags()
	f.StringVarP(&batchOpts.input, "input-file", "i", "", "CSV file of samples")
	f.StringVarP(&batchOpts.output, "output", "o", "", "JSONL output file (default stdout)")
	f.StringVar(&batchOpts.idCol, "id-col", "", "sample id column (default from config)")
	f.StringVar(&batchOpts.latCol, "lat-col", "", "latitude column (default from config)")
	f.StringVar(&batchOpts.lonCol, "lon-col", "", "longitude column (default from config)")
	f.StringVar(&batchOpts.providers, "providers", "", "comma-separated preferred providers")
	f.DurationVar(&batchOpts.timeout, "timeout", 0, "per-provider timeout")
	f.IntVar(&batchOpts.concurrency, "concurrency", 0, "samples processed at once (default from config)")
	batchOpts.cache.register(batchCmd)
	_ = batchCmd.MarkFlagRequired("input-file")
	rootCmd.AddCommand(batchCmd)
}

// canonicalHeader renames the chosen columns to the sampleRow tags and every
// other column to a unique placeholder the decoder ignores.
func canonicalHeader(header []string, idCol, latCol, lonCol string) ([]string, error) {
	want := map[string]string{idCol: "sample_id", latCol: "lat", lonCol: "lon"}
	out := make([]string, len(header))
	found := make(map[string]bool)
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if tag, ok := want[h]; ok && !found[tag] {
			out[i] = tag
			found[tag] = true
			continue
		}
		out[i] = "_col" + strconv.Itoa(i)
	}
	for _, tag := range []string{"lat", "lon"} {
		if !found[tag] {
			col := latCol
			if tag == "lon" {
				col = lonCol
			}
			return nil, eris.Errorf("batch: input has no %q column", col)
		}
	}
	return out, nil
}

// readSamples decodes every row of a samples CSV.
func readSamples(r io.Reader, idCol, latCol, lonCol string) ([]sampleRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "batch: read header")
	}
	canon, err := canonicalHeader(header, idCol, latCol, lonCol)
	if err != nil {
		return nil, err
	}

	dec, err := csvutil.NewDecoder(cr, canon...)
	if err != nil {
		return nil, eris.Wrap(err, "batch: csv decoder")
	}

	var rows []sampleRow
	for {
		var row sampleRow
		if err := dec.Decode(&row); err == io.EOF {
			break
		} else if err != nil {
			return nil, eris.Wrapf(err, "batch: decode row %d", len(rows)+1)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseCoord converts the row's coordinate strings.
func (r sampleRow) parseCoord() (float64, float64, error) {
	lat, err := strconv.ParseFloat(strings.TrimSpace(r.Lat), 64)
	if err != nil {
		return 0, 0, eris.Errorf("invalid latitude %q", r.Lat)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(r.Lon), 64)
	if err != nil {
		return 0, 0, eris.Errorf("invalid longitude %q", r.Lon)
	}
	return lat, lon, nil
}

// processBatch looks up rows concurrently and writes one JSONL record per
// row in input order. Row failures become error records.
func processBatch(ctx context.Context, svc *enrich.Service, rows []sampleRow, opts batchOptions, w io.Writer) error {
	if len(rows) == 0 {
		zap.L().Info("no samples found")
		return nil
	}
	concurrency := opts.concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("samples", len(rows)),
		zap.Int("concurrency", concurrency),
	)

	read, write := opts.cache.resolve()
	preferred := splitList(opts.providers)
	records := make([]batchRecord, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64

	for i, row := range rows {
		g.Go(func() error {
			rec := batchRecord{Row: i + 1, SubjectID: row.SampleID}
			if rec.SubjectID == "" {
				rec.SubjectID = strconv.Itoa(i + 1)
			}
			log := zap.L().With(zap.String("sample", rec.SubjectID))

			lat, lon, err := row.parseCoord()
			if err == nil {
				req := enrich.Request{
					Lat: lat, Lon: lon,
					PreferredProviders: preferred,
					Timeout:            opts.timeout,
					ReadFromCache:      read,
					WriteToCache:       write,
				}
				rec.Report, err = svc.Lookup(gctx, req, rec.SubjectID)
			}
			if err != nil {
				failed.Add(1)
				rec.Error = err.Error()
				log.Warn("sample failed", zap.Error(err))
			} else {
				succeeded.Add(1)
			}
			records[i] = rec
			return nil // don't abort batch on individual failure
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch processing")
	}

	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return eris.Wrap(err, "batch: write record")
		}
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return nil
}
