// Package initcmd provides the init command for OAuth setup.
package initcmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/open-cli-collective/sfbulk/api/bulk"
	"github.com/open-cli-collective/sfbulk/internal/auth"
	"github.com/open-cli-collective/sfbulk/internal/cmd/root"
	"github.com/open-cli-collective/sfbulk/internal/config"
	"github.com/open-cli-collective/sfbulk/internal/keychain"
)

const loginTimeout = 5 * time.Minute

type initOptions struct {
	instanceURL string
	clientID    string
	apiVersion  string
	noVerify    bool
	noBrowser   bool
}

// Register registers the init command with the parent command.
func Register(parent *cobra.Command, opts *root.Options) {
	parent.AddCommand(NewCommand(opts))
}

// NewCommand returns the init command.
func NewCommand(opts *root.Options) *cobra.Command {
	var o initOptions

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Log in to Salesforce",
		Long: `Log sfbulk in to Salesforce with OAuth 2.0.

The login is stored in the system secret store when one is available and
refreshed automatically afterwards.

The Connected App needs:
  Callback URL: http://localhost:8080/callback
  Scopes:       api, refresh_token, offline_access

Passing both --instance-url and --client-id skips the prompts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.Context(), opts, o)
		},
	}

	cmd.Flags().StringVar(&o.instanceURL, "instance-url", "", "Login host or My Domain (e.g. test.salesforce.com)")
	cmd.Flags().StringVar(&o.clientID, "client-id", "", "Connected App consumer key")
	cmd.Flags().StringVar(&o.apiVersion, "api-version", "", "Bulk API version to save (default: "+bulk.DefaultAPIVersion+")")
	cmd.Flags().BoolVar(&o.noVerify, "no-verify", false, "Skip the Bulk API check after login")
	cmd.Flags().BoolVar(&o.noBrowser, "no-browser", false, "Print the login URL instead of opening a browser")

	return cmd
}

func runInit(ctx context.Context, opts *root.Options, o initOptions) error {
	v := opts.View()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if keychain.HasStoredToken() {
		done, err := checkExisting(ctx, opts, cfg, o)
		if err != nil || done {
			return err
		}
	}

	settings := resolveSettings(cfg, o)
	if o.instanceURL == "" || o.clientID == "" {
		if err := promptSettings(&settings); err != nil {
			return err
		}
	}
	if settings.ClientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if err := config.Save(&settings); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	token, err := login(ctx, opts, auth.NewFlow(settings.InstanceURL, settings.ClientID), o.noBrowser)
	if err != nil {
		return err
	}
	if err := keychain.SetToken(token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	v.Info("Token saved to %s.", keychain.GetStorageBackend())

	if !o.noVerify {
		if err := verify(ctx, opts); err != nil {
			return err
		}
	}

	v.Success("Logged in. Try: sfbulk query Account \"SELECT Id, Name FROM Account LIMIT 5\"")
	return nil
}

// checkExisting reports whether a working login makes init unnecessary. An
// expired login is cleared once the user agrees to log in again.
func checkExisting(ctx context.Context, opts *root.Options, cfg *config.Config, o initOptions) (bool, error) {
	v := opts.View()
	v.Info("Instance URL: %s", cfg.InstanceURL)
	v.Info("Token:        stored in %s", keychain.GetStorageBackend())

	if o.noVerify {
		return false, nil
	}
	if err := verify(ctx, opts); err == nil {
		v.Info("Already logged in. Use 'sfbulk config clear' to start over.")
		return true, nil
	}

	v.Warning("The stored login was rejected; it may have expired or been revoked.")
	relogin := true
	if err := huh.NewConfirm().Title("Log in again?").Value(&relogin).Run(); err != nil {
		return false, err
	}
	if !relogin {
		return true, nil
	}
	if err := keychain.DeleteToken(); err != nil {
		return false, fmt.Errorf("failed to clear token: %w", err)
	}
	return false, nil
}

// resolveSettings layers flags over the saved configuration.
func resolveSettings(cfg *config.Config, o initOptions) config.Config {
	s := *cfg
	if o.instanceURL != "" {
		s.InstanceURL = o.instanceURL
	}
	if o.clientID != "" {
		s.ClientID = o.clientID
	}
	if o.apiVersion != "" {
		s.APIVersion = o.apiVersion
	}
	if s.InstanceURL == "" {
		s.InstanceURL = auth.DefaultLoginHost
	}
	s.APIVersion = strings.TrimPrefix(strings.TrimSpace(s.APIVersion), "v")
	return s
}

func promptSettings(s *config.Config) error {
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Instance URL").
			Description("login.salesforce.com, test.salesforce.com or your My Domain").
			Value(&s.InstanceURL),
		huh.NewInput().
			Title("Client ID").
			Description("Consumer key of the Connected App").
			Value(&s.ClientID).
			Validate(func(v string) error {
				if strings.TrimSpace(v) == "" {
					return errors.New("client ID is required")
				}
				return nil
			}),
		huh.NewInput().
			Title("API version").
			Placeholder(bulk.DefaultAPIVersion).
			Value(&s.APIVersion),
	))
	if err := form.Run(); err != nil {
		return err
	}
	s.APIVersion = strings.TrimPrefix(strings.TrimSpace(s.APIVersion), "v")
	return nil
}

// login sends the user through the authorization page and exchanges the
// resulting code.
func login(ctx context.Context, opts *root.Options, flow *auth.Flow, noBrowser bool) (*oauth2.Token, error) {
	v := opts.View()

	cb, err := flow.ListenCallback(fmt.Sprintf(":%d", auth.CallbackPort))
	if err != nil {
		v.Warning("%v", err)
		v.Warning("Paste the redirect URL from the browser once you have approved access.")
	} else {
		defer func() { _ = cb.Close() }()
	}

	authURL := flow.AuthURL()
	if noBrowser {
		v.Info("Open this URL in your browser:")
	} else {
		v.Info("Opening the Salesforce login page. If no browser appears, open:")
		if err := openBrowser(authURL); err != nil {
			v.Warning("could not open browser: %v", err)
		}
	}
	v.Info("")
	v.Info("%s", authURL)
	v.Info("")
	v.Info("Waiting for authorization (or paste the code or redirect URL):")

	code, err := awaitCode(ctx, opts, flow, cb)
	if err != nil {
		return nil, err
	}

	v.Progress("Exchanging authorization code...")
	return flow.Exchange(ctx, code)
}

// awaitCode returns the first code from the callback server or from a line
// pasted on stdin.
func awaitCode(ctx context.Context, opts *root.Options, flow *auth.Flow, cb *auth.Callback) (string, error) {
	type result struct {
		code string
		err  error
	}
	results := make(chan result, 2)

	if cb != nil {
		go func() {
			code, err := cb.Wait(ctx)
			results <- result{code, err}
		}()
	}
	go func() {
		line, err := bufio.NewReader(opts.Stdin).ReadString('\n')
		if err != nil && strings.TrimSpace(line) == "" {
			if cb == nil {
				results <- result{err: errors.New("no authorization code received")}
			}
			return
		}
		code, err := flow.CodeFromInput(line)
		results <- result{code, err}
	}()

	select {
	case r := <-results:
		if r.err != nil && ctx.Err() != nil {
			return "", fmt.Errorf("authorization timed out: %w", ctx.Err())
		}
		return r.code, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("authorization timed out: %w", ctx.Err())
	}
}

// verify checks that the stored login is accepted by the Bulk API.
func verify(ctx context.Context, opts *root.Options) error {
	v := opts.View()

	api, err := opts.BulkAPI(ctx)
	if err != nil {
		return err
	}
	conn := api.Connection()
	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("failed to access the Bulk API: %w", err)
	}
	v.Info("Bulk API %s reachable at %s", conn.APIVersion(), conn.InstanceURL())
	return nil
}

// openBrowser is replaced in tests.
var openBrowser = func(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
