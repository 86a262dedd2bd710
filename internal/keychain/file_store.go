package keychain

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/open-cli-collective/sfbulk/internal/config"
)

// fileStore keeps the token in token.json next to the config.
type fileStore struct{}

func (fileStore) backend() StorageBackend { return BackendFile }

func (fileStore) get() ([]byte, error) {
	path, err := config.Path(config.TokenFile)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	return data, nil
}

// set writes through a temp file renamed into place.
func (fileStore) set(data []byte) error {
	path, err := config.Path(config.TokenFile)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), config.DirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".token-*")
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(config.FilePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to restrict token file: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write token: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func (fileStore) delete() error {
	path, err := config.Path(config.TokenFile)
	if err != nil {
		return err
	}
	if err := secureDelete(path); err != nil {
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	return nil
}

// secureDelete zeroes a file before removing it. A missing file is not an
// error.
func secureDelete(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	if f, err := os.OpenFile(path, os.O_WRONLY, 0); err == nil {
		_, _ = f.Write(make([]byte, info.Size()))
		_ = f.Sync()
		_ = f.Close()
	}
	return os.Remove(path)
}
