// Package configcmd provides the config command and subcommands.
package configcmd

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/open-cli-collective/sfbulk/api/bulk"
	"github.com/open-cli-collective/sfbulk/internal/cmd/root"
	"github.com/open-cli-collective/sfbulk/internal/config"
	"github.com/open-cli-collective/sfbulk/internal/keychain"
)

// Register registers the config command with the parent command.
func Register(parent *cobra.Command, opts *root.Options) {
	parent.AddCommand(NewCommand(opts))
}

// NewCommand returns the config command with subcommands.
func NewCommand(opts *root.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  "View, test, and manage sfbulk configuration.",
	}

	cmd.AddCommand(newShowCommand(opts))
	cmd.AddCommand(newTestCommand(opts))
	cmd.AddCommand(newClearCommand(opts))

	return cmd
}

func newShowCommand(opts *root.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long:  "Display the current sfbulk configuration including instance URL, API version and token storage.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts)
		},
	}
}

func newTestCommand(opts *root.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Verify authentication works",
		Long:  "Test the current OAuth token by making a request to the Bulk API.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTest(cmd.Context(), opts)
		},
	}
}

func newClearCommand(opts *root.Options) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove stored credentials",
		Long:  "Remove all stored credentials and configuration. This will require re-authentication.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(opts, force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")

	return cmd
}

// shownConfig is the json form of 'config show'.
type shownConfig struct {
	InstanceURL string `json:"instance_url"`
	ClientID    string `json:"client_id"`
	APIVersion  string `json:"api_version"`
	Token       string `json:"token"`
	ConfigFile  string `json:"config_file"`
	JournalFile string `json:"journal_file"`
	PendingJobs int    `json:"pending_jobs"`
}

func runShow(opts *root.Options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	shown := shownConfig{
		InstanceURL: orNotConfigured(cfg.InstanceURL),
		ClientID:    orNotConfigured(maskClientID(cfg.ClientID)),
		APIVersion:  cfg.APIVersion,
		Token:       "Not found",
	}
	if shown.APIVersion == "" {
		shown.APIVersion = bulk.DefaultAPIVersion + " (default)"
	}
	if keychain.HasStoredToken() {
		shown.Token = fmt.Sprintf("Found (stored in %s)", keychain.GetStorageBackend())
	}
	if path, err := config.Path(config.ConfigFile); err == nil {
		shown.ConfigFile = config.ShortenPath(path)
	} else {
		shown.ConfigFile = "(unable to determine)"
	}
	if j, err := opts.Journal(); err == nil {
		shown.JournalFile = config.ShortenPath(j.Path())
		if pending, err := j.Pending(); err == nil {
			shown.PendingJobs = len(pending)
		}
	}

	v := opts.View()
	if opts.Output == "json" {
		return v.JSON(shown)
	}

	v.Info("sfbulk Configuration")
	v.Info("====================")
	v.Info("")
	v.Info("Instance URL:    %s", shown.InstanceURL)
	v.Info("Client ID:       %s", shown.ClientID)
	v.Info("API version:     %s", shown.APIVersion)
	v.Info("")
	v.Info("Token:           %s", shown.Token)
	if keychain.HasStoredToken() && !keychain.IsSecureStorage() {
		v.Warning("token is stored in a plain file; install a secret store to protect it")
	}
	v.Info("")
	v.Info("Config file:     %s", shown.ConfigFile)
	v.Info("Journal file:    %s", shown.JournalFile)
	if shown.PendingJobs > 0 {
		v.Info("Pending jobs:    %d (see 'sfbulk job pending')", shown.PendingJobs)
	}

	return nil
}

func runTest(ctx context.Context, opts *root.Options) error {
	v := opts.View()
	v.Info("Testing Bulk API connection...")
	v.Info("")

	api, err := opts.BulkAPI(ctx)
	if err != nil {
		v.Info("  Session:     FAILED")
		return err
	}
	v.Info("  Session:     OK")

	conn := api.Connection()
	if err := conn.Ping(ctx); err != nil {
		v.Info("  Bulk API:    FAILED")
		return fmt.Errorf("failed to access the Bulk API: %w", err)
	}
	v.Info("  Bulk API:    OK (%s, v%s)", conn.InstanceURL(), conn.APIVersion())

	v.Info("")
	v.Success("Connection successful!")
	return nil
}

func runClear(opts *root.Options, force bool) error {
	v := opts.View()

	if !force {
		v.Print("This will remove all stored credentials. Continue? [y/N]: ")
		response, _ := bufio.NewReader(opts.Stdin).ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			v.Info("Cancelled.")
			return nil
		}
	}

	var hadToken, hadConfig bool
	var tokenErr, configErr error

	if keychain.HasStoredToken() {
		hadToken = true
		tokenErr = keychain.DeleteToken()
	}

	cfg, _ := config.Load()
	if cfg.InstanceURL != "" || cfg.ClientID != "" || cfg.APIVersion != "" {
		hadConfig = true
		configErr = config.Clear()
	}

	if tokenErr != nil {
		v.Warning("failed to remove token: %v", tokenErr)
	} else if hadToken {
		v.Info("Token removed.")
	}

	if configErr != nil {
		v.Warning("failed to clear config: %v", configErr)
	} else if hadConfig {
		v.Info("Configuration cleared.")
	}

	if !hadToken && !hadConfig {
		v.Info("Nothing to clear.")
	} else if tokenErr == nil && configErr == nil {
		v.Info("")
		v.Success("All credentials cleared. Run 'sfbulk init' to reconfigure.")
	}

	return nil
}

// maskClientID masks a client ID for display, showing only first and last 4 chars.
func maskClientID(clientID string) string {
	if clientID == "" {
		return ""
	}
	if len(clientID) <= 12 {
		return "****"
	}
	return clientID[:4] + "..." + clientID[len(clientID)-4:]
}

func orNotConfigured(s string) string {
	if s == "" {
		return "Not configured"
	}
	return s
}
