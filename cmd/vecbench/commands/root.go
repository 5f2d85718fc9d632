package commands

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xupit3r/vecbench/internal/config"
	"github.com/xupit3r/vecbench/internal/logging"
)

// Version is overridden at build time with -ldflags "-X ...commands.Version=".
var Version = "0.1.0"

var (
	cfgFile string
	verbose bool
	quiet   bool
	noColor bool

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "vecbench",
	Short: "A GPU memory bandwidth benchmark",
	Long: `vecbench measures device memory bandwidth with an element-wise vector add.

It allocates the A, B and output vectors under a buffer placement policy
(shared, private or managed), times the host-to-device transfer, the kernel
and the copy back, and reports the effective bandwidth of each phase.

On macOS the Metal GPU is used when available; everywhere else a software
device runs the same kernel on all CPU cores.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command
func Execute() error {
	registerFlagCompletions()
	return rootCmd.Execute()
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.vecbench/config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.BoolVarP(&quiet, "quiet", "q", false, "quiet mode")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
	flags.String("backend", "auto", "compute backend (auto, cpu, gpu, metal)")
	flags.Int("workers", 0, "software device worker goroutines (0 = all CPUs)")

	// Bind flags to viper
	viper.BindPFlag("device.backend", flags.Lookup("backend"))
	viper.BindPFlag("device.workers", flags.Lookup("workers"))
}

// loadConfig reads the config file and environment, with flags taking
// precedence, and initializes logging.
func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.LoadWith(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	cfg = c

	level := cfg.Logging.Level
	switch {
	case verbose:
		level = "debug"
	case quiet:
		level = "error"
	}
	if err := logging.Init(level, cfg.Logging.File, cfg.Logging.Console); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}

	if used := viper.ConfigFileUsed(); used != "" {
		logging.WithFields(logrus.Fields{"file": used}).Debug("Using config file")
	}
	return nil
}
