package cmd

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"xrpl-wash-monitor/internal/config"
	"xrpl-wash-monitor/internal/domain"
	"xrpl-wash-monitor/internal/logging"
	"xrpl-wash-monitor/internal/storage"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize classified trades in the configured store",
	Long: `Print how many trades were classified normal and suspicious, the
suspicious count per rule and the most flagged sender/receiver pairs.

Example:
  monitor report --top 20 --storage postgres`,
	RunE: runReport,
}

var reportTop int

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().IntVarP(&reportTop, "top", "n", 10, "number of top suspicious pairs to print")
}

func runReport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Storage.Backend == config.BackendMemory {
		return fmt.Errorf("report needs a persistent storage backend, got %q", cfg.Storage.Backend)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer st.Close()

	sum, err := st.trades.Summary(ctx, reportTop)
	if err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	return writeReport(cmd.OutOrStdout(), cfg.Storage.Backend, sum)
}

func writeReport(out io.Writer, backend string, sum *storage.Summary) error {
	fmt.Fprintf(out, "Wash trading report (%s)\n\n", backend)
	fmt.Fprintf(out, "Total trades:      %d\n", sum.Total())
	fmt.Fprintf(out, "Normal trades:     %d\n", sum.Normal)
	fmt.Fprintf(out, "Suspicious trades: %d\n", sum.Suspicious)

	if len(sum.ByRule) > 0 {
		rules := make([]domain.RuleID, 0, len(sum.ByRule))
		for r := range sum.ByRule {
			rules = append(rules, r)
		}
		sort.Slice(rules, func(i, j int) bool {
			if sum.ByRule[rules[i]] != sum.ByRule[rules[j]] {
				return sum.ByRule[rules[i]] > sum.ByRule[rules[j]]
			}
			return rules[i] < rules[j]
		})

		fmt.Fprintln(out, "\nBy rule:")
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, r := range rules {
			fmt.Fprintf(tw, "  %s\t%d\n", r, sum.ByRule[r])
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(sum.TopPairs) > 0 {
		fmt.Fprintln(out, "\nTop suspicious pairs:")
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  SENDER\tRECEIVER\tFLAGGED")
		for _, p := range sum.TopPairs {
			fmt.Fprintf(tw, "  %s\t%s\t%d\n", p.Sender, p.Receiver, p.Count)
		}
		return tw.Flush()
	}
	return nil
}
