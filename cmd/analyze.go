package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/cost"
	"github.com/sells-group/insight-cli/internal/orchestrator"
)

var (
	analyzeModules  string
	analyzePriority string
	analyzeNoFetch  bool
	analyzeCosts    bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <symbol>",
	Short: "Run analysis modules for a single stock symbol",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("analyze"); err != nil {
			return err
		}

		ctx := cmd.Context()
		symbol := strings.ToUpper(args[0])

		sink, closeSink, err := auditSink(ctx)
		if err != nil {
			return err
		}
		defer closeSink() //nolint:errcheck

		orch, _, err := buildOrchestrator(sink)
		if err != nil {
			return err
		}

		// Gather market data first so modules analyze fresh inputs.
		marketData := orchestrator.Input{}
		if !analyzeNoFetch {
			collector, err := buildCollector(buildBreakers())
			if err != nil {
				return err
			}
			collection, err := collector.Collect(ctx, symbol, cfg.Collection)
			if err != nil {
				return eris.Wrap(err, "collect market data")
			}
			zap.L().Info("market data collected",
				zap.String("symbol", symbol),
				zap.Float64("quality", collection.OverallQuality),
				zap.Bool("success", collection.Success),
				zap.Strings("critical_failed", collection.CriticalSourcesFailed),
			)
			for source, data := range collection.Data {
				marketData[source] = data
			}
		}

		names := moduleNames(orch)
		if analyzeModules != "" {
			names = splitCSV(analyzeModules)
		}

		inputs := make(map[string]orchestrator.Input, len(names))
		for _, name := range names {
			inputs[name] = marketData
		}

		result, err := orch.Orchestrate(ctx, orchestrator.Request{
			TargetKey: symbol,
			Modules:   names,
			Priority:  analyzePriority,
			Inputs:    inputs,
		})
		if err != nil {
			return eris.Wrap(err, "orchestrate")
		}

		zap.L().Info("analysis complete",
			zap.String("symbol", symbol),
			zap.String("session_id", result.SessionID),
			zap.Bool("success", result.Success),
			zap.Bool("partial_success", result.PartialSuccess),
			zap.Int("total_tokens", result.TotalTokens),
			zap.Float64("total_cost_usd", result.TotalCostUSD),
		)

		if analyzeCosts {
			formatCostSummary(os.Stderr, result)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

// moduleNames returns every configured module name in lexical order, so the
// default request is identical across invocations and equal-priority modules
// keep a stable tie-break.
func moduleNames(orch *orchestrator.Orchestrator) []string {
	configs := orch.Configs()
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// formatCostSummary writes a per-module spend table to w.
func formatCostSummary(out io.Writer, result *orchestrator.Result) {
	ledger := cost.NewLedger()
	for name, mr := range result.Modules {
		if mr.Output == nil {
			continue
		}
		ledger.Add(name, mr.Output.Model, int64(mr.Output.TokensUsed), mr.Output.CostUSD)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "MODULE\tMODEL\tTOKENS\tCOST")
	for _, item := range ledger.Items() {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t$%.4f\n", item.Module, item.Model, item.Tokens, item.USD)
	}
	tokens, usd := ledger.Total()
	_, _ = fmt.Fprintf(w, "TOTAL\t\t%d\t$%.4f\n", tokens, usd)
	_ = w.Flush()
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeModules, "modules", "", "comma-separated module names (default: all configured)")
	analyzeCmd.Flags().StringVar(&analyzePriority, "priority", "", "request priority label recorded with the session")
	analyzeCmd.Flags().BoolVar(&analyzeNoFetch, "no-fetch", false, "skip market data collection and analyze with empty inputs")
	analyzeCmd.Flags().BoolVar(&analyzeCosts, "costs", false, "print a per-module cost summary to stderr")
	rootCmd.AddCommand(analyzeCmd)
}
