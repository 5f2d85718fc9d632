package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/xupit3r/vecbench/internal/gpu/metal"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "vecbench v%s\n", Version)
		fmt.Fprintln(out, "A GPU memory bandwidth benchmark")
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
		fmt.Fprintf(out, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(out, "Metal: %t\n", metal.Available)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
