package keychain

import (
	"context"
	"sync"

	"golang.org/x/oauth2"
)

// persistentTokenSource refreshes through the OAuth config and writes every
// new token back to storage so the next run starts from it.
type persistentTokenSource struct {
	mu   sync.Mutex
	base oauth2.TokenSource
	last string
	save func(*oauth2.Token) error
}

// NewPersistentTokenSource returns a token source that starts from tok,
// refreshes it with cfg when it expires and stores refreshed tokens.
func NewPersistentTokenSource(cfg *oauth2.Config, tok *oauth2.Token) oauth2.TokenSource {
	return newPersistentTokenSource(cfg.TokenSource(context.Background(), tok), tok, SetToken)
}

func newPersistentTokenSource(base oauth2.TokenSource, tok *oauth2.Token, save func(*oauth2.Token) error) *persistentTokenSource {
	ts := &persistentTokenSource{base: oauth2.ReuseTokenSource(tok, base), save: save}
	if tok != nil {
		ts.last = tok.AccessToken
	}
	return ts
}

// Token implements oauth2.TokenSource.
func (s *persistentTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		// a failed save only costs a refresh on the next run
		_ = s.save(tok)
	}
	return tok, nil
}
