// Package completion provides shell completion for sfbulk, including
// completion of pending job ids.
package completion

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/sfbulk/internal/cmd/root"
)

var generators = map[string]func(*cobra.Command, io.Writer) error{
	"bash":       func(c *cobra.Command, w io.Writer) error { return c.GenBashCompletionV2(w, true) },
	"zsh":        (*cobra.Command).GenZshCompletion,
	"fish":       func(c *cobra.Command, w io.Writer) error { return c.GenFishCompletion(w, true) },
	"powershell": (*cobra.Command).GenPowerShellCompletionWithDesc,
}

func shells() []string {
	names := make([]string, 0, len(generators))
	for name := range generators {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Register registers the completion command
func Register(parent *cobra.Command, opts *root.Options) {
	cmd := &cobra.Command{
		Use:   "completion <" + strings.Join(shells(), "|") + ">",
		Short: "Generate shell completion scripts",
		Long: `Print a completion script for your shell.

  bash:        source <(sfbulk completion bash)
  zsh:         sfbulk completion zsh > "${fpath[1]}/_sfbulk"
  fish:        sfbulk completion fish > ~/.config/fish/completions/sfbulk.fish
  powershell:  sfbulk completion powershell | Out-String | Invoke-Expression

Job commands complete the ids of jobs still pending in the journal.`,
		DisableFlagsInUseLine: true,
		ValidArgs:             shells(),
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.Stdout
			if out == nil {
				out = cmd.OutOrStdout()
			}
			gen, ok := generators[args[0]]
			if !ok {
				return fmt.Errorf("unsupported shell %q", args[0])
			}
			return gen(cmd.Root(), out)
		},
	}

	parent.AddCommand(cmd)
}

// PendingJobIDs completes the first argument with the ids of unfinished
// journaled jobs, described by operation and object.
func PendingJobIDs(opts *root.Options) cobra.CompletionFunc {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]cobra.Completion, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		j, err := opts.Journal()
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		pending, err := j.Pending()
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}

		var out []cobra.Completion
		for _, e := range pending {
			if strings.HasPrefix(e.JobID, toComplete) {
				out = append(out, cobra.CompletionWithDesc(e.JobID, fmt.Sprintf("%s %s", e.Operation, e.Object)))
			}
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	}
}
