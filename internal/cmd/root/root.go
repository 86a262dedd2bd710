// Package root provides the root command and global options.
package root

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/sfbulk/api/bulk"
	"github.com/open-cli-collective/sfbulk/internal/auth"
	"github.com/open-cli-collective/sfbulk/internal/journal"
	"github.com/open-cli-collective/sfbulk/internal/logging"
	"github.com/open-cli-collective/sfbulk/internal/version"
	"github.com/open-cli-collective/sfbulk/internal/view"
)

// Options contains global options for commands
type Options struct {
	Output     string
	NoColor    bool
	Verbose    bool
	LogFormat  string
	APIVersion string
	Stdin      io.Reader
	Stdout     io.Writer
	Stderr     io.Writer

	// testAPI is used for testing; if set, BulkAPI() returns this instead
	testAPI *bulk.API
	// testJournal is used for testing; if set, Journal() returns this instead
	testJournal *journal.Journal
}

// View returns a configured View instance
func (o *Options) View() *view.View {
	return view.New(o.Output, o.NoColor, o.Stdout, o.stderr())
}

func (o *Options) logLevel() string {
	if o.Verbose {
		return "debug"
	}
	return "warn"
}

func (o *Options) stderr() io.Writer {
	if o.Stderr == nil {
		return os.Stderr
	}
	return o.Stderr
}

// BulkAPI creates a Bulk API orchestrator from the stored login.
// The --api-version flag takes precedence over the configured version.
func (o *Options) BulkAPI(ctx context.Context) (*bulk.API, error) {
	if o.testAPI != nil {
		return o.testAPI, nil
	}

	session, err := auth.NewSession(ctx)
	if err != nil {
		return nil, err
	}

	apiVersion := session.APIVersion
	if o.APIVersion != "" {
		apiVersion = o.APIVersion
	}

	conn, err := bulk.NewConnection(bulk.ConnectionConfig{
		InstanceURL: session.InstanceURL,
		HTTPClient:  session.HTTPClient,
		APIVersion:  apiVersion,
		Session:     session.TokenSource,
		Logger:      logging.FromContext(ctx),
		UserAgent:   version.UserAgent(),
	})
	if err != nil {
		return nil, err
	}
	return bulk.New(conn), nil
}

// SetBulkAPI sets a test orchestrator (for testing only)
func (o *Options) SetBulkAPI(api *bulk.API) {
	o.testAPI = api
}

// Journal opens the pending job journal.
func (o *Options) Journal() (*journal.Journal, error) {
	if o.testJournal != nil {
		return o.testJournal, nil
	}
	return journal.Default()
}

// SetJournal sets a test journal (for testing only)
func (o *Options) SetJournal(j *journal.Journal) {
	o.testJournal = j
}

// NewCmd creates the root command and returns the options struct
func NewCmd() (*cobra.Command, *Options) {
	opts := &Options{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}

	cmd := &cobra.Command{
		Use:   "sfbulk",
		Short: "Run Salesforce Bulk API jobs",
		Long: `sfbulk loads and extracts Salesforce data through the Bulk API.

Records are split into batches, submitted to a bulk job and, optionally,
waited on until every batch has been processed.
Run 'sfbulk init' to set up authentication.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := view.ValidateFormat(opts.Output); err != nil {
				return err
			}
			logger := logging.Setup(opts.stderr(), opts.logLevel(), opts.LogFormat)
			cmd.SetContext(logging.NewContext(cmd.Context(), logger))
			return nil
		},
	}

	cmd.SetVersionTemplate("sfbulk {{.Version}}\n")
	cmd.Version = version.Full()

	// Global flags - bound to opts struct
	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "table", "Output format: table, json, plain")
	cmd.PersistentFlags().BoolVar(&opts.NoColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Log Bulk API requests to stderr")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "Log format: text, json")
	cmd.PersistentFlags().StringVar(&opts.APIVersion, "api-version", "", "Bulk API version (default: "+bulk.DefaultAPIVersion+")")

	return cmd, opts
}

// RegisterCommands registers subcommands with the root command
func RegisterCommands(root *cobra.Command, opts *Options, registrars ...func(*cobra.Command, *Options)) {
	for _, register := range registrars {
		register(root, opts)
	}
}
