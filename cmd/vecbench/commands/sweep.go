package commands

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/xupit3r/vecbench/internal/bench"
	"github.com/xupit3r/vecbench/internal/results"
	"github.com/xupit3r/vecbench/internal/tui"
)

var (
	sweepFormat string
	sweepNoSave bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the benchmark over a range of vector lengths",
	Long: `Sweep runs the configured policies once for every length in
bench.lengths (or --lengths) and prints a bandwidth table per phase.`,
	Example: `  vecbench sweep --policy all
  vecbench sweep --lengths 1024,65536,16777216 --format yaml`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	flags := sweepCmd.Flags()
	flags.IntSlice("lengths", nil, "vector lengths to run (default from bench.lengths)")
	flags.StringP("policy", "p", "all", "buffer policy (shared, private, managed, all)")
	flags.StringVarP(&sweepFormat, "format", "f", "text", "output format (text, yaml)")
	flags.BoolVar(&sweepNoSave, "no-save", false, "do not record runs in the results history")
}

func runSweep(cmd *cobra.Command, args []string) error {
	if err := checkFormat(sweepFormat); err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("lengths") {
		cfg.Bench.Lengths, _ = flags.GetIntSlice("lengths")
	}
	// sweep has its own policy flag defaulting to all
	cfg.Bench.Policy, _ = flags.GetString("policy")
	if err := cfg.Validate(); err != nil {
		return err
	}
	policies, err := cfg.Policies()
	if err != nil {
		return err
	}

	s, err := openSession(!sweepNoSave)
	if err != nil {
		return checkFatal(err)
	}
	defer s.Close()

	total := len(cfg.Bench.Lengths) * len(policies)
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("sweeping"),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetVisibility(!quiet && sweepFormat == "text"),
	)

	var records []results.Record
	for _, n := range cfg.Bench.Lengths {
		for _, p := range policies {
			bar.Describe(fmt.Sprintf("%s %d", p, n))
			res, err := s.runner.Run(bench.Options{
				Policy: p,
				Length: n,
				Kernel: cfg.Bench.Kernel,
				Verify: cfg.Bench.Verify,
			})
			if err != nil {
				bar.Exit()
				return checkFatal(fmt.Errorf("%s length %d: %w", p, n, err))
			}
			rec, err := s.save(res)
			if err != nil {
				s.log.WithError(err).Warn("Could not save run")
				rec = results.NewRecord(res)
			}
			records = append(records, rec)
			bar.Add(1)
		}
	}
	bar.Finish()

	out := cmd.OutOrStdout()
	if sweepFormat == "yaml" {
		return results.WriteYAML(out, records)
	}
	fmt.Fprintln(out, sweepTable(records))
	return nil
}

var sweepColumns = []string{
	bench.StageIn.String(),
	bench.LabelComputeDevice,
	bench.LabelComputeWall,
	bench.StageOut.String(),
}

// sweepTable renders GB/s per phase, one row per run.
func sweepTable(records []results.Record) string {
	header := append([]string{"length", "policy"}, sweepColumns...)
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		row := []string{fmt.Sprintf("%d", rec.Length), rec.Policy.String()}
		for _, label := range sweepColumns {
			row = append(row, phaseBandwidth(rec.Samples, label))
		}
		rows = append(rows, row)
	}
	return tui.Table(header, rows)
}

func phaseBandwidth(samples []bench.Sample, label string) string {
	for _, s := range samples {
		if s.Label != label {
			continue
		}
		if bw, ok := s.Bandwidth(); ok {
			return fmt.Sprintf("%.2f", bw)
		}
		return "N/A"
	}
	return "-"
}
