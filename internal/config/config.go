// Package config manages the sfbulk configuration file and its environment
// overrides. It has no external dependencies so every internal package can
// import it.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirName names the directory under the user config home.
const DirName = "sfbulk"

// Files kept in the config directory.
const (
	ConfigFile  = "config.json"
	TokenFile   = "token.json"
	JournalFile = "jobs.json"
)

// Permissions for everything written under the config directory.
const (
	DirPerm  = 0o700
	FilePerm = 0o600
)

// Config is the saved login target.
type Config struct {
	// InstanceURL is the login host or My Domain, e.g. test.salesforce.com
	InstanceURL string `json:"instance_url,omitempty"`
	// ClientID is the Connected App consumer key
	ClientID string `json:"client_id,omitempty"`
	// APIVersion overrides the Bulk API version, e.g. "62.0"
	APIVersion string `json:"api_version,omitempty"`
}

// Complete reports whether enough is set to log in.
func (c *Config) Complete() bool {
	return c.InstanceURL != "" && c.ClientID != ""
}

// envOverrides maps each field to its variables, most specific first.
func (c *Config) envOverrides() []struct {
	field *string
	vars  []string
} {
	return []struct {
		field *string
		vars  []string
	}{
		{&c.InstanceURL, []string{"SFBULK_INSTANCE_URL", "SALESFORCE_INSTANCE_URL"}},
		{&c.ClientID, []string{"SFBULK_CLIENT_ID", "SALESFORCE_CLIENT_ID"}},
		{&c.APIVersion, []string{"SFBULK_API_VERSION", "SALESFORCE_API_VERSION"}},
	}
}

func (c *Config) applyEnv() {
	for _, o := range c.envOverrides() {
		for _, name := range o.vars {
			if v := os.Getenv(name); v != "" {
				*o.field = v
				break
			}
		}
	}
}

// Dir returns $XDG_CONFIG_HOME/sfbulk (or ~/.config/sfbulk), creating it.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to locate home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}

	dir := filepath.Join(base, DirName)
	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return dir, nil
}

// Path returns the location of a file in the config directory.
func Path(name string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ShortenPath shows paths under the home directory as ~/...
func ShortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if rest, ok := strings.CutPrefix(path, home); ok && (rest == "" || rest[0] == filepath.Separator) {
		return "~" + rest
	}
	return path
}

// Load reads config.json, then applies SFBULK_* and SALESFORCE_* variables.
// A missing file yields an empty config.
func Load() (*Config, error) {
	path, err := Path(ConfigFile)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", ShortenPath(path), err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// Save writes cfg to config.json atomically.
func Save(cfg *Config) error {
	path, err := Path(ConfigFile)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), FilePerm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Clear removes config.json.
func Clear() error {
	path, err := Path(ConfigFile)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
