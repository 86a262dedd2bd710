//go:build !darwin

package keychain

import (
	"fmt"
	"os/exec"
)

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// secretToolStore uses libsecret through the secret-tool CLI.
type secretToolStore struct{}

// platformStore returns nil when secret-tool is not installed.
func platformStore() store {
	if _, err := lookPath("secret-tool"); err != nil {
		return nil
	}
	return secretToolStore{}
}

func (secretToolStore) backend() StorageBackend { return BackendSecretTool }

func (secretToolStore) get() ([]byte, error) {
	out, err := runCommand("", "secret-tool", "lookup", "service", serviceName, "account", tokenKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read from secret-tool: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrTokenNotFound
	}
	return out, nil
}

// set passes the secret on stdin, as secret-tool expects.
func (secretToolStore) set(data []byte) error {
	if _, err := runCommand(string(data), "secret-tool", "store", "--label", serviceName+" OAuth token",
		"service", serviceName, "account", tokenKey); err != nil {
		return fmt.Errorf("failed to store in secret-tool: %w", err)
	}
	return nil
}

func (secretToolStore) delete() error {
	if _, err := runCommand("", "secret-tool", "clear", "service", serviceName, "account", tokenKey); err != nil {
		return fmt.Errorf("failed to delete from secret-tool: %w", err)
	}
	return nil
}
