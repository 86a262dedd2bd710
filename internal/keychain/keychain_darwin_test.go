//go:build darwin

package keychain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecurityStore_SetKeepsTokenOffCommandLine(t *testing.T) {
	type call struct {
		stdin string
		args  []string
	}
	var calls []call
	orig := runCommand
	runCommand = func(stdin string, name string, args ...string) ([]byte, error) {
		calls = append(calls, call{stdin: stdin, args: args})
		return nil, nil
	}
	t.Cleanup(func() { runCommand = orig })

	data, err := json.Marshal(testToken())
	require.NoError(t, err)
	require.NoError(t, securityStore{}.set(data))

	require.Len(t, calls, 2) // delete, then add
	add := calls[1]
	assert.Equal(t, []string{"-i"}, add.args)
	assert.Contains(t, add.stdin, "add-generic-password")
	assert.Contains(t, add.stdin, "00Dxx0000001gEH!AQ4AQ")
	for _, c := range calls {
		for _, a := range c.args {
			assert.NotContains(t, a, "00Dxx0000001gEH!AQ4AQ")
		}
	}
}
