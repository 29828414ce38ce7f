package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/finfuse/internal/report"
	"github.com/sells-group/finfuse/internal/validation"
)

var (
	fuseFields   []string
	fusePriority []string
	fuseFormat   string

	validateReferenceFile string
	validateStrict        bool
)

var fuseCmd = &cobra.Command{
	Use:   "fuse TICKER",
	Short: "Fuse one ticker into a canonical record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		format, err := report.ParseFormat(fuseFormat)
		if err != nil {
			return err
		}
		applyFusionFlags(fuseFields, fusePriority)

		env, err := initEnv(ctx, "fuse")
		if err != nil {
			return err
		}
		defer env.Close()

		rec, err := env.Orchestrator.Fuse(ctx, args[0], env.Fields, env.Priority)
		if err != nil {
			return eris.Wrap(err, "fuse")
		}
		if missing := missingFields(rec, env.Fields); len(missing) > 0 {
			zap.L().Info("fuse: fields without a value",
				zap.String("ticker", rec.Ticker),
				zap.Strings("missing", missing),
			)
		}
		return report.EncodeRecord(cmd.OutOrStdout(), format, rec)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate TICKER",
	Short: "Fuse one ticker and print its validation report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		format, err := report.ParseFormat(fuseFormat)
		if err != nil {
			return err
		}
		applyFusionFlags(fuseFields, fusePriority)
		if validateReferenceFile != "" {
			cfg.Validation.ReferenceFile = validateReferenceFile
		}

		env, err := initEnv(ctx, "fuse")
		if err != nil {
			return err
		}
		defer env.Close()

		res := env.Runner(1).RunOne(ctx, args[0])
		if err := report.Encode(cmd.OutOrStdout(), format, res.Report); err != nil {
			return err
		}
		if validateStrict && res.Report.OverallStatus == validation.StatusFail {
			return eris.Errorf("validate: %s failed with quality score %d", res.Ticker, res.Report.QualityScore)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{fuseCmd, validateCmd} {
		c.Flags().StringSliceVar(&fuseFields, "fields", nil, "canonical fields to fuse (default from config, else all)")
		c.Flags().StringSliceVar(&fusePriority, "priority", nil, "adapter priority order (default from config)")
		c.Flags().StringVar(&fuseFormat, "format", "json", "output format: json or text")
		rootCmd.AddCommand(c)
	}
	validateCmd.Flags().StringVar(&validateReferenceFile, "reference-file", "", "YAML or JSON benchmark file for the baseline check")
	validateCmd.Flags().BoolVar(&validateStrict, "strict", false, "exit non-zero when the report fails")
}
