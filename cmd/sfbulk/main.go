// Package main is the entry point for the sfbulk CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/open-cli-collective/sfbulk/internal/cmd/bulkcmd"
	"github.com/open-cli-collective/sfbulk/internal/cmd/completion"
	"github.com/open-cli-collective/sfbulk/internal/cmd/configcmd"
	"github.com/open-cli-collective/sfbulk/internal/cmd/initcmd"
	"github.com/open-cli-collective/sfbulk/internal/cmd/limitscmd"
	"github.com/open-cli-collective/sfbulk/internal/cmd/root"
	clierr "github.com/open-cli-collective/sfbulk/internal/errors"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if hint := clierr.Hint(err); hint != "" {
			fmt.Fprintln(os.Stderr, hint)
		}
	}
	os.Exit(clierr.ExitCode(err))
}

func run(ctx context.Context) error {
	rootCmd, opts := root.NewCmd()

	root.RegisterCommands(rootCmd, opts,
		initcmd.Register,
		configcmd.Register,
		completion.Register,
		bulkcmd.Register,
		limitscmd.Register,
	)

	return rootCmd.ExecuteContext(ctx)
}
