// Package limitscmd provides the limits command, which reports how much of
// the org's Bulk API allocation is left.
package limitscmd

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/sfbulk/api/bulk"
	"github.com/open-cli-collective/sfbulk/internal/cmd/root"
	clierr "github.com/open-cli-collective/sfbulk/internal/errors"
)

type limitsOptions struct {
	names []string
	all   bool
	warn  float64
}

// Register registers the limits command with the root command.
func Register(parent *cobra.Command, opts *root.Options) {
	parent.AddCommand(NewCommand(opts))
}

// NewCommand creates the limits command.
func NewCommand(opts *root.Options) *cobra.Command {
	var o limitsOptions

	cmd := &cobra.Command{
		Use:   "limits [name...]",
		Short: "Show remaining Bulk API allocations",
		Long: `Show the org's Bulk API allocations, such as DailyBulkApiBatches.

Names select limits case-insensitively. Limits whose usage reaches --warn
percent are reported on stderr.

Examples:
  sfbulk limits
  sfbulk limits dailybulkapibatches
  sfbulk limits --all -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			o.names = args
			return runLimits(cmd.Context(), opts, o)
		},
	}

	cmd.Flags().BoolVar(&o.all, "all", false, "Include every org limit, not only bulk ones")
	cmd.Flags().Float64Var(&o.warn, "warn", 90, "Warn when usage reaches this percentage")

	return cmd
}

func runLimits(ctx context.Context, opts *root.Options, o limitsOptions) error {
	api, err := opts.BulkAPI(ctx)
	if err != nil {
		return err
	}

	limits, err := api.Connection().Limits(ctx)
	if err != nil {
		return fmt.Errorf("failed to get limits: %w", err)
	}

	selected, err := selectLimits(limits, o)
	if err != nil {
		return err
	}

	v := opts.View()
	for _, name := range sortedNames(selected) {
		if l := selected[name]; l.Max > 0 && percentUsed(l) >= o.warn {
			v.Warning("%s is %.1f%% used (%d of %d remaining)", name, percentUsed(l), l.Remaining, l.Max)
		}
	}

	if v.Format == "json" {
		return v.JSON(selected)
	}

	rows := make([][]string, 0, len(selected))
	for _, name := range sortedNames(selected) {
		l := selected[name]
		rows = append(rows, []string{
			name,
			strconv.Itoa(l.Max),
			strconv.Itoa(l.Remaining),
			strconv.Itoa(l.Used()),
			fmt.Sprintf("%.1f%%", percentUsed(l)),
		})
	}
	return v.Table([]string{"Limit", "Max", "Remaining", "Used", "Usage"}, rows)
}

// selectLimits narrows limits to the named ones, or to the bulk ones when
// none are named and --all is unset.
func selectLimits(limits bulk.Limits, o limitsOptions) (bulk.Limits, error) {
	if len(o.names) == 0 {
		if o.all {
			return limits, nil
		}
		return limits.Bulk(), nil
	}

	out := bulk.Limits{}
	for _, want := range o.names {
		name, ok := lookupFold(limits, want)
		if !ok {
			return nil, clierr.Usage("limit %q not found; run 'sfbulk limits --all' to list them", want)
		}
		out[name] = limits[name]
	}
	return out, nil
}

func lookupFold(limits bulk.Limits, want string) (string, bool) {
	if _, ok := limits[want]; ok {
		return want, true
	}
	for name := range limits {
		if strings.EqualFold(name, want) {
			return name, true
		}
	}
	return "", false
}

func sortedNames(limits bulk.Limits) []string {
	names := make([]string, 0, len(limits))
	for name := range limits {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func percentUsed(l bulk.LimitInfo) float64 {
	if l.Max <= 0 {
		return 0
	}
	return float64(l.Used()) / float64(l.Max) * 100
}
