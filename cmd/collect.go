package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/collect"
)

var (
	collectStrategy string
	collectMinScore float64
)

var collectCmd = &cobra.Command{
	Use:   "collect <symbol>",
	Short: "Collect market data for a symbol without running analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Flag overrides land on the config before validation so a bad
		// --min-quality is rejected like any other misconfiguration.
		if collectStrategy != "" {
			cfg.Collection.Timeout = collect.TimeoutStrategy(collectStrategy)
		}
		if cmd.Flags().Changed("min-quality") {
			cfg.Collection.MinQualityScore = collectMinScore
		}
		if err := cfg.Validate("collect"); err != nil {
			return err
		}

		ctx := cmd.Context()
		symbol := strings.ToUpper(args[0])

		collector, err := buildCollector(buildBreakers())
		if err != nil {
			return err
		}

		result, err := collector.Collect(ctx, symbol, cfg.Collection)
		if err != nil {
			return eris.Wrap(err, "collect")
		}

		zap.L().Info("collection complete",
			zap.String("symbol", symbol),
			zap.Float64("quality", result.OverallQuality),
			zap.Bool("success", result.Success),
			zap.Bool("partial_success", result.PartialSuccess),
			zap.Int("sources_attempted", len(result.Results)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	collectCmd.Flags().StringVar(&collectStrategy, "timeout-strategy", "", "timeout strategy: aggressive, balanced, or patient")
	collectCmd.Flags().Float64Var(&collectMinScore, "min-quality", 0, "override the minimum quality score")
	rootCmd.AddCommand(collectCmd)
}
