package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xupit3r/vecbench/internal/bench"
	"github.com/xupit3r/vecbench/internal/logging"
	"github.com/xupit3r/vecbench/internal/results"
	"github.com/xupit3r/vecbench/internal/tui"
)

var (
	historyLimit  int
	historyPolicy string
	historyLength int
	historyFormat string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded benchmark runs",
	Long: `List runs recorded in the results history (results.dir), newest first.
Use "history show <id>" for the report lines of one run.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the report of a recorded run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a recorded run",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd, historyDeleteCmd)

	flags := historyCmd.Flags()
	flags.IntVarP(&historyLimit, "limit", "l", 20, "maximum runs to list (0 = all)")
	flags.StringVarP(&historyPolicy, "policy", "p", "", "only runs with this policy")
	flags.IntVarP(&historyLength, "length", "n", 0, "only runs with this vector length")
	historyCmd.PersistentFlags().StringVarP(&historyFormat, "format", "f", "text", "output format (text, yaml)")
}

func openHistory() (*results.Store, error) {
	return results.Open(cfg.Results.Dir, results.WithLogger(logging.Get()))
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := checkFormat(historyFormat); err != nil {
		return err
	}
	filter := results.Filter{Limit: historyLimit, Length: historyLength}
	if historyPolicy != "" {
		p, err := bench.ParsePolicy(historyPolicy)
		if err != nil {
			return err
		}
		filter.Policy = &p
	}

	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if historyFormat == "yaml" {
		return results.WriteYAML(out, records)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No recorded runs.")
		return nil
	}
	fmt.Fprintln(out, historyTable(records))
	return nil
}

func historyTable(records []results.Record) string {
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{
			rec.ID,
			rec.Started.Local().Format("2006-01-02 15:04:05"),
			rec.Policy.String(),
			fmt.Sprintf("%d", rec.Length),
			phaseBandwidth(rec.Samples, bench.LabelComputeDevice),
			rec.Device,
		})
	}
	return tui.Table([]string{"id", "started", "policy", "length", "compute GB/s", "device"}, rows)
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	if err := checkFormat(historyFormat); err != nil {
		return err
	}
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Get(args[0])
	if err != nil {
		return err
	}
	return writeRecords(cmd.OutOrStdout(), historyFormat, []results.Record{rec})
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	store, err := openHistory()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
	return nil
}
