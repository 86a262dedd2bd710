package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// ErrStateMismatch means a redirect did not come from the login this flow
// started.
var ErrStateMismatch = errors.New("OAuth state mismatch")

// Flow is a single authorization code login with PKCE.
type Flow struct {
	config   *oauth2.Config
	state    string
	verifier string
}

// NewFlow starts a login against instanceURL for the Connected App clientID.
func NewFlow(instanceURL, clientID string) *Flow {
	return &Flow{
		config:   oauthConfig(instanceURL, clientID),
		state:    uuid.NewString(),
		verifier: oauth2.GenerateVerifier(),
	}
}

// AuthURL is the page the user opens to approve access.
func (f *Flow) AuthURL() string {
	return f.config.AuthCodeURL(f.state, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(f.verifier))
}

// Exchange trades an authorization code for a token.
func (f *Flow) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := f.config.Exchange(ctx, code, oauth2.VerifierOption(f.verifier))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	return tok, nil
}

// CodeFromInput accepts what a user pastes after approving: either the bare
// code or the full redirect URL. A URL must carry this flow's state.
func (f *Flow) CodeFromInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("no authorization code received")
	}
	if !strings.Contains(input, "://") {
		return input, nil
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL: %w", err)
	}
	return f.codeFromQuery(u.Query())
}

func (f *Flow) codeFromQuery(q url.Values) (string, error) {
	if e := q.Get("error"); e != "" {
		if d := q.Get("error_description"); d != "" {
			e += ": " + d
		}
		return "", fmt.Errorf("authorization denied: %s", e)
	}
	if s := q.Get("state"); s != "" && s != f.state {
		return "", ErrStateMismatch
	}
	code := q.Get("code")
	if code == "" {
		return "", errors.New("no authorization code received")
	}
	return code, nil
}
