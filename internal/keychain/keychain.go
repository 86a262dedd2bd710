// Package keychain stores the sfbulk OAuth token in the platform's secret
// store (macOS Keychain, Linux secret-tool) with a config file fallback.
package keychain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"golang.org/x/oauth2"

	"github.com/open-cli-collective/sfbulk/internal/config"
)

const (
	serviceName = config.DirName
	tokenKey    = "oauth_token"
)

// StorageBackend names where the token is kept.
type StorageBackend string

// Storage backends.
const (
	BackendKeychain   StorageBackend = "Keychain"
	BackendSecretTool StorageBackend = "secret-tool"
	BackendFile       StorageBackend = "config file"
)

// ErrTokenNotFound indicates no token exists in storage
var ErrTokenNotFound = errors.New("no token found in secure storage")

// store is one place a serialized token can live.
type store interface {
	backend() StorageBackend
	get() ([]byte, error)
	set(data []byte) error
	delete() error
}

// runCommand runs a secret store CLI with stdin and returns its stdout.
var runCommand = func(stdin string, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil && stderr.Len() > 0 {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, err
}

// stores returns the platform store, if any, followed by the file store.
func stores() []store {
	if s := platformStore(); s != nil {
		return []store{s, fileStore{}}
	}
	return []store{fileStore{}}
}

// GetToken returns the first token found, preferring the platform store.
func GetToken() (*oauth2.Token, error) {
	for _, s := range stores() {
		data, err := s.get()
		if err != nil {
			continue
		}
		var tok oauth2.Token
		if err := json.Unmarshal(bytes.TrimSpace(data), &tok); err != nil {
			return nil, fmt.Errorf("failed to parse token from %s: %w", s.backend(), err)
		}
		return &tok, nil
	}
	return nil, ErrTokenNotFound
}

// SetToken stores token in the platform store, or in the config file when
// that fails.
func SetToken(token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to serialize token: %w", err)
	}

	all := stores()
	for i, s := range all {
		err := s.set(data)
		if err == nil {
			return nil
		}
		if i == len(all)-1 {
			return fmt.Errorf("failed to store token in %s: %w", s.backend(), err)
		}
		slog.Warn("token storage failed, falling back", "backend", s.backend(), "error", err)
	}
	return nil
}

// DeleteToken removes the token from every store. It fails only if no
// store could be cleared.
func DeleteToken() error {
	var errs []error
	for _, s := range stores() {
		if err := s.delete(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.backend(), err))
		}
	}
	if len(errs) == len(stores()) {
		return errors.Join(errs...)
	}
	return nil
}

// HasStoredToken returns true if a token exists in any store.
func HasStoredToken() bool {
	_, err := GetToken()
	return err == nil
}

// GetStorageBackend returns the backend holding the token, or the one a new
// token would be written to.
func GetStorageBackend() StorageBackend {
	all := stores()
	for _, s := range all {
		if _, err := s.get(); err == nil {
			return s.backend()
		}
	}
	return all[0].backend()
}

// IsSecureStorage reports whether the token is kept outside the config file.
func IsSecureStorage() bool {
	return GetStorageBackend() != BackendFile
}
