//go:build darwin

package keychain

import "fmt"

// securityStore uses the macOS Keychain through the security CLI.
type securityStore struct{}

func platformStore() store { return securityStore{} }

func (securityStore) backend() StorageBackend { return BackendKeychain }

func (securityStore) get() ([]byte, error) {
	out, err := runCommand("", "security", "find-generic-password", "-s", serviceName, "-a", tokenKey, "-w")
	if err != nil {
		return nil, fmt.Errorf("failed to read from keychain: %w", err)
	}
	return out, nil
}

// set replaces any existing item.
func (s securityStore) set(data []byte) error {
	_ = s.delete()
	// -i reads the command from stdin so the token stays out of the process list.
	cmd := fmt.Sprintf("add-generic-password -s %q -a %q -w %q -U\n", serviceName, tokenKey, string(data))
	if _, err := runCommand(cmd, "security", "-i"); err != nil {
		return fmt.Errorf("failed to store in keychain: %w", err)
	}
	return nil
}

func (securityStore) delete() error {
	if _, err := runCommand("", "security", "delete-generic-password", "-s", serviceName, "-a", tokenKey); err != nil {
		return fmt.Errorf("failed to delete from keychain: %w", err)
	}
	return nil
}
