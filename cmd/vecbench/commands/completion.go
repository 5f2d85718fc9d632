package commands

import (
	"os"
	"sync"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion script for vecbench.

To load completions:

Bash:
  $ vecbench completion bash > ~/.local/share/bash-completion/completions/vecbench
  $ source ~/.local/share/bash-completion/completions/vecbench

Zsh:
  $ vecbench completion zsh > ~/.zsh/completion/_vecbench
  $ echo 'fpath=(~/.zsh/completion $fpath)' >> ~/.zshrc
  $ echo 'autoload -Uz compinit && compinit' >> ~/.zshrc

Fish:
  $ vecbench completion fish > ~/.config/fish/completions/vecbench.fish

PowerShell:
  PS> vecbench completion powershell | Out-String | Invoke-Expression
  # To persist, add the output to your PowerShell profile
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE:                  runCompletion,
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

func runCompletion(cmd *cobra.Command, args []string) error {
	switch args[0] {
	case "bash":
		return cmd.Root().GenBashCompletion(os.Stdout)
	case "zsh":
		return cmd.Root().GenZshCompletion(os.Stdout)
	case "fish":
		return cmd.Root().GenFishCompletion(os.Stdout, true)
	case "powershell":
		return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
	}
	return nil
}

func fixed(values ...string) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return values, cobra.ShellCompDirectiveNoFileComp
	}
}

var completionsOnce sync.Once

// registerFlagCompletions registers value completions for enumerated flags.
// It runs after every init has defined its flags.
func registerFlagCompletions() {
	completionsOnce.Do(registerFlagCompletionFuncs)
}

func registerFlagCompletionFuncs() {
	policies := fixed(
		"shared\thost-visible buffers, no transfers",
		"private\tdevice-local buffers staged through shared copies",
		"managed\tmirrored buffers synchronized back to the host",
		"all\tevery policy in turn",
	)
	formats := fixed("text\treport lines", "yaml\tYAML records")

	rootCmd.RegisterFlagCompletionFunc("backend", fixed(
		"auto\tMetal when available, else software",
		"cpu\tsoftware device",
		"gpu\tany GPU backend",
		"metal\tMetal GPU (macOS)",
	))
	runCmd.RegisterFlagCompletionFunc("policy", policies)
	runCmd.RegisterFlagCompletionFunc("format", formats)
	sweepCmd.RegisterFlagCompletionFunc("policy", policies)
	sweepCmd.RegisterFlagCompletionFunc("format", formats)
	historyCmd.RegisterFlagCompletionFunc("policy", fixed("shared", "private", "managed"))
	historyCmd.RegisterFlagCompletionFunc("format", formats)
}
