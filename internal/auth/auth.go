// Package auth logs sfbulk into Salesforce with the OAuth 2.0 web server flow
// and turns the stored login into a Bulk API session.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/open-cli-collective/sfbulk/internal/config"
	"github.com/open-cli-collective/sfbulk/internal/keychain"
)

// CallbackPort must match the callback URL registered on the Connected App.
const CallbackPort = 8080

// DefaultLoginHost is used when no instance URL is configured.
const DefaultLoginHost = "login.salesforce.com"

var (
	redirectURL = fmt.Sprintf("http://localhost:%d/callback", CallbackPort)
	scopes      = []string{"api", "refresh_token", "offline_access"}
)

// oauthConfig builds the client configuration for a login host or My Domain.
func oauthConfig(instanceURL, clientID string) *oauth2.Config {
	base := NormalizeURL(instanceURL)
	return &oauth2.Config{
		ClientID:    clientID,
		RedirectURL: redirectURL,
		Scopes:      scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/services/oauth2/authorize",
			TokenURL:  base + "/services/oauth2/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// NormalizeURL returns an https origin with no trailing slash. Bare hosts
// such as "test.salesforce.com" are accepted.
func NormalizeURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	if u == "" {
		u = DefaultLoginHost
	}
	if !strings.Contains(u, "://") {
		u = "https://" + u
	}
	return u
}

// Session is everything the Bulk API connection needs from a stored login.
type Session struct {
	InstanceURL string
	APIVersion  string
	TokenSource oauth2.TokenSource
	HTTPClient  *http.Client
}

// NewSession loads the configuration and the stored token. Refreshed tokens
// are written back to storage.
func NewSession(_ context.Context) (*Session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Complete() {
		return nil, fmt.Errorf("not configured - please run 'sfbulk init' first")
	}

	tok, err := keychain.GetToken()
	if err != nil {
		return nil, fmt.Errorf("no OAuth token found - please run 'sfbulk init' first: %w", err)
	}

	return &Session{
		InstanceURL: NormalizeURL(cfg.InstanceURL),
		APIVersion:  cfg.APIVersion,
		TokenSource: keychain.NewPersistentTokenSource(oauthConfig(cfg.InstanceURL, cfg.ClientID), tok),
		HTTPClient:  &http.Client{Transport: http.DefaultTransport},
	}, nil
}
