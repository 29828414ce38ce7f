package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/finfuse/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "finfuse",
	Short: "Fuse company financials from multiple vendors and validate them",
	Long: "Queries rate-limited market data vendors (EODHD, Alpha Vantage, FMP, SEC EDGAR) in priority order, " +
		"fuses one confidence-annotated record per ticker and scores it with a validation report.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
