package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/ogm/internal/config"
)

var logLevels = []string{"debug", "info", "warn", "error"}

// NewCompletionCommand creates the completion command for shell completions
func NewCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion script",
		Long: `Print a completion script for ogm. Besides commands and flags it
completes backend names, output formats, log levels and, for purge, the
labels present in the configured store.`,
		Example: `  source <(ogm completion bash)
  ogm completion zsh > "${fpath[1]}/_ogm"
  ogm completion fish > ~/.config/fish/completions/ogm.fish
  ogm completion powershell | Out-String | Invoke-Expression`,
		Annotations:           map[string]string{standalone: "true"},
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, out := cmd.Root(), cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(out, true)
			case "zsh":
				return root.GenZshCompletion(out)
			case "fish":
				return root.GenFishCompletion(out, true)
			case "powershell":
				return root.GenPowerShellCompletionWithDesc(out)
			}
			return fmt.Errorf("unsupported shell %q", args[0])
		},
	}
}

// registerCompletions adds value completion for the persistent flags.
func (a *app) registerCompletions(root *cobra.Command) {
	fixed := func(values []string) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return values, cobra.ShellCompDirectiveNoFileComp
		}
	}
	_ = root.RegisterFlagCompletionFunc("backend", fixed(config.Backends))
	_ = root.RegisterFlagCompletionFunc("output", fixed(outputs))
	_ = root.RegisterFlagCompletionFunc("log-level", fixed(logLevels))
}

// completeLabels offers the labels stored in the configured backend.
// Completion bypasses the persistent pre-run, so it sets up on its own.
func (a *app) completeLabels(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	if err := a.setup(cmd); err != nil {
		return nil, cobra.ShellCompDirectiveError
	}

	var labels []string
	err := a.withSession(cmd, func(ctx context.Context, s *session) error {
		_, order, err := s.stats(ctx)
		for _, label := range order {
			if strings.HasPrefix(label, toComplete) {
				labels = append(labels, label)
			}
		}
		return err
	})
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return labels, cobra.ShellCompDirectiveNoFileComp
}
