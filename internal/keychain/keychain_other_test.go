//go:build !darwin

package keychain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSecretTool emulates secret-tool with a single in-memory secret.
type fakeSecretTool struct {
	secret string
	calls  [][]string
}

func (f *fakeSecretTool) run(stdin, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	switch args[0] {
	case "store":
		f.secret = stdin
	case "lookup":
		if f.secret == "" {
			return nil, errors.New("exit status 1")
		}
		return []byte(f.secret), nil
	case "clear":
		f.secret = ""
	}
	return nil, nil
}

func withSecretTool(t *testing.T) *fakeSecretTool {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	fake := &fakeSecretTool{}
	origRun, origLook := runCommand, lookPath
	runCommand = fake.run
	lookPath = func(string) (string, error) { return "/usr/bin/secret-tool", nil }
	t.Cleanup(func() { runCommand, lookPath = origRun, origLook })
	return fake
}

func TestSecretTool_RoundTrip(t *testing.T) {
	fake := withSecretTool(t)

	require.NoError(t, SetToken(testToken()))
	assert.Contains(t, fake.secret, "00Dxx0000001gEH!AQ4AQ")
	assert.Equal(t, []string{"secret-tool", "store", "--label", "sfbulk OAuth token",
		"service", "sfbulk", "account", "oauth_token"}, fake.calls[0])

	got, err := GetToken()
	require.NoError(t, err)
	assert.Equal(t, "5Aep861refresh", got.RefreshToken)
	assert.Equal(t, BackendSecretTool, GetStorageBackend())
	assert.True(t, IsSecureStorage())

	require.NoError(t, DeleteToken())
	assert.Empty(t, fake.secret)
	assert.False(t, HasStoredToken())
}

func TestSecretTool_Missing(t *testing.T) {
	isolate(t)
	orig := lookPath
	lookPath = func(string) (string, error) { return "", errors.New("not found") }
	t.Cleanup(func() { lookPath = orig })

	assert.Len(t, stores(), 1)
	assert.Equal(t, BackendFile, GetStorageBackend())
}
