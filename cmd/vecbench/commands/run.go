package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xupit3r/vecbench/internal/bench"
	"github.com/xupit3r/vecbench/internal/results"
)

var (
	runFormat string
	runNoSave bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the vector add bandwidth benchmark",
	Long: `Run allocates A, B and output vectors of the configured length under a
buffer policy, then times each phase and prints one line per phase:

  shared to private: length=128000000, size=1.02 GB, bandwidth=20.48 GB/s, duration=0.050 s

Policies:
  shared   host-visible buffers bound directly, no transfer phases
  private  device-local buffers staged in and out through shared copies
  managed  mirrored buffers, device writes synchronized back to the host
  all      every policy in turn on the same device

Nothing is printed unless every phase of every run succeeds.`,
	Example: `  vecbench run
  vecbench run --policy all --length 16777216
  vecbench run --policy shared --repeat 5 --format yaml`,
	Args: cobra.NoArgs,
	RunE: runBench,
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()
	flags.StringP("policy", "p", "private", "buffer policy (shared, private, managed, all)")
	flags.IntP("length", "n", 128000000, "vector length in elements")
	flags.String("kernel", "vectorAdd", "kernel entry point")
	flags.IntP("repeat", "r", 1, "runs per policy; output digests must match")
	flags.Bool("verify", true, "check output against a host reference")
	flags.StringVarP(&runFormat, "format", "f", "text", "output format (text, yaml)")
	flags.BoolVar(&runNoSave, "no-save", false, "do not record the run in the results history")

	viper.BindPFlag("bench.policy", flags.Lookup("policy"))
	viper.BindPFlag("bench.length", flags.Lookup("length"))
	viper.BindPFlag("bench.kernel", flags.Lookup("kernel"))
	viper.BindPFlag("bench.repeat", flags.Lookup("repeat"))
	viper.BindPFlag("bench.verify", flags.Lookup("verify"))
}

func runBench(cmd *cobra.Command, args []string) error {
	if err := checkFormat(runFormat); err != nil {
		return err
	}
	policies, err := cfg.Policies()
	if err != nil {
		return err
	}

	s, err := openSession(!runNoSave)
	if err != nil {
		return checkFatal(err)
	}
	defer s.Close()

	s.log.WithFields(logrus.Fields{
		"device":   GetDeviceName(s.dev),
		"policies": len(policies),
		"length":   cfg.Bench.Length,
		"repeat":   cfg.Bench.Repeat,
	}).Info("Starting benchmark")

	var all []*bench.Result
	for _, p := range policies {
		res, err := s.runner.RunRepeated(bench.Options{
			Policy: p,
			Length: cfg.Bench.Length,
			Kernel: cfg.Bench.Kernel,
			Verify: cfg.Bench.Verify,
		}, cfg.Bench.Repeat)
		if err != nil {
			return checkFatal(fmt.Errorf("%s: %w", p, err))
		}
		all = append(all, res...)
	}

	records := make([]results.Record, 0, len(all))
	for _, res := range all {
		rec, err := s.save(res)
		if err != nil {
			s.log.WithError(err).Warn("Could not save run")
			rec = results.NewRecord(res)
		}
		records = append(records, rec)
	}

	return writeRecords(cmd.OutOrStdout(), runFormat, records)
}

func checkFormat(format string) error {
	switch format {
	case "text", "yaml":
		return nil
	default:
		return fmt.Errorf("unknown format %q (valid: text, yaml)", format)
	}
}

// writeRecords prints records as report lines or YAML. Text output gets a
// header per record only when there is more than one.
func writeRecords(w io.Writer, format string, records []results.Record) error {
	if format == "yaml" {
		return results.WriteYAML(w, records)
	}

	reporter := bench.NewReporter(w)
	for i, rec := range records {
		if len(records) > 1 {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintln(w, recordHeader(rec))
		}
		if err := reporter.Emit(rec.Samples...); err != nil {
			return err
		}
	}
	return nil
}

func recordHeader(rec results.Record) string {
	parts := []string{"policy=" + rec.Policy.String(), fmt.Sprintf("length=%d", rec.Length)}
	if rec.ID != "" {
		parts = append(parts, "id="+rec.ID)
	}
	if rec.Verified {
		parts = append(parts, "verified")
	}
	return "# " + strings.Join(parts, " ")
}
