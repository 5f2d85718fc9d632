package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xupit3r/vecbench/internal/gpu"
	"github.com/xupit3r/vecbench/internal/kernels"
	"github.com/xupit3r/vecbench/internal/tui"
)

var kernelList bool

var kernelCmd = &cobra.Command{
	Use:   "kernel",
	Short: "Print the embedded kernel source",
	Long: `Print the Metal kernel program compiled at startup, with syntax
highlighting unless --no-color is set. With --list, print the kernel entry
points and whether the software device implements each one.`,
	Args: cobra.NoArgs,
	RunE: runKernel,
}

func init() {
	rootCmd.AddCommand(kernelCmd)
	kernelCmd.Flags().BoolVarP(&kernelList, "list", "l", false, "list kernel entry points")
}

func runKernel(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	source := kernels.Source()

	if kernelList {
		registered := make(map[string]bool)
		for _, name := range gpu.RegisteredKernels() {
			registered[name] = true
		}
		rows := [][]string{}
		for _, name := range gpu.KernelNames(source) {
			rows = append(rows, []string{name, fmt.Sprintf("%t", registered[name])})
		}
		fmt.Fprintln(out, tui.Table([]string{"kernel", "software"}, rows))
		return nil
	}

	if noColor {
		fmt.Fprint(out, source)
		if !strings.HasSuffix(source, "\n") {
			fmt.Fprintln(out)
		}
		return nil
	}
	fmt.Fprint(out, tui.NumberLines(highlight(source)))
	return nil
}
