package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/finfuse/internal/monitoring"
	"github.com/sells-group/finfuse/internal/pipeline"
	"github.com/sells-group/finfuse/internal/report"
	"github.com/sells-group/finfuse/internal/validation"
)

var (
	batchFile        string
	batchFormat      string
	batchXLSX        string
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch [TICKER...]",
	Short: "Fuse and validate many tickers concurrently",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		tickers, err := batchTickers(cmd.InOrStdin(), batchFile, args)
		if err != nil {
			return err
		}
		if len(tickers) == 0 {
			return eris.New("batch: no tickers given")
		}
		applyFusionFlags(fuseFields, fusePriority)
		if batchConcurrency > 0 {
			cfg.Batch.MaxConcurrentTickers = batchConcurrency
		}

		env, err := initEnv(ctx, "batch")
		if err != nil {
			return err
		}
		defer env.Close()

		start := time.Now()
		results, runErr := env.Runner(cfg.Batch.MaxConcurrentTickers).Run(ctx, tickers)
		reports := pipeline.Reports(results)

		if err := writeBatch(cmd.OutOrStdout(), batchFormat, reports); err != nil {
			return err
		}
		if batchXLSX != "" {
			if err := writeXLSXFile(batchXLSX, reports); err != nil {
				return err
			}
		}

		snap := monitoring.Summarize(reports)
		zap.L().Info("batch complete",
			zap.Int("tickers", snap.Total),
			zap.Int("pass", snap.Pass),
			zap.Int("warn", snap.Warn),
			zap.Int("fail", snap.Fail),
			zap.Float64("avg_quality", snap.AvgQuality),
			zap.Duration("elapsed", time.Since(start)),
		)
		alertBatch(ctx, snap)

		return runErr
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "file with tickers, one or more per line (- for stdin)")
	batchCmd.Flags().StringVar(&batchFormat, "format", "summary", "output format: summary, json or text")
	batchCmd.Flags().StringVar(&batchXLSX, "xlsx", "", "also write the reports to this .xlsx file")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "max tickers in flight (default from config)")
	batchCmd.Flags().StringSliceVar(&fuseFields, "fields", nil, "canonical fields to fuse (default from config, else all)")
	batchCmd.Flags().StringSliceVar(&fusePriority, "priority", nil, "adapter priority order (default from config)")
	rootCmd.AddCommand(batchCmd)
}

// batchTickers merges positional tickers with those read from file.
func batchTickers(stdin io.Reader, file string, args []string) ([]string, error) {
	tickers := append([]string(nil), args...)
	if file == "" {
		return pipeline.Normalize(tickers), nil
	}

	var r io.Reader = stdin
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return nil, eris.Wrap(err, "batch: open ticker file")
		}
		defer f.Close() //nolint:errcheck
		r = f
	}
	fromFile, err := pipeline.ReadTickers(r)
	if err != nil {
		return nil, err
	}
	return pipeline.Normalize(append(tickers, fromFile...)), nil
}

// writeBatch prints the reports in the requested format. json and text
// emit one full report per ticker.
func writeBatch(w io.Writer, format string, reports []*validation.Report) error {
	switch format {
	case "", "summary":
		return report.EncodeSummary(w, reports)
	case "json", "text":
		f, err := report.ParseFormat(format)
		if err != nil {
			return err
		}
		for i, r := range reports {
			if i > 0 && f == report.FormatText {
				if _, err := fmt.Fprintln(w); err != nil {
					return eris.Wrap(err, "batch: write")
				}
			}
			if err := report.Encode(w, f, r); err != nil {
				return err
			}
		}
		return nil
	default:
		return eris.Errorf("batch: unknown format %q", format)
	}
}

func writeXLSXFile(path string, reports []*validation.Report) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "batch: create xlsx")
	}
	if err := report.WriteXLSX(f, reports); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrap(err, "batch: close xlsx")
	}
	zap.L().Info("batch: wrote xlsx", zap.String("path", path), zap.Int("reports", len(reports)))
	return nil
}

// alertBatch evaluates the finished batch against the monitoring thresholds.
func alertBatch(ctx context.Context, snap *monitoring.Snapshot) int {
	alerter := monitoring.NewAlerter(cfg.Monitoring)
	alerts := alerter.Evaluate(snap)
	for _, a := range alerts {
		zap.L().Warn("batch: health alert",
			zap.String("type", string(a.Type)),
			zap.String("severity", a.Severity),
			zap.String("message", a.Message),
		)
	}
	return alerter.SendAlerts(ctx, alerts)
}
