package configcmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-cli-collective/sfbulk/api/bulk"
	"github.com/open-cli-collective/sfbulk/internal/cmd/root"
	"github.com/open-cli-collective/sfbulk/internal/config"
)

func newTestOptions(t *testing.T, output string) (*root.Options, *bytes.Buffer) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range []string{"SFBULK_INSTANCE_URL", "SALESFORCE_INSTANCE_URL", "SFBULK_CLIENT_ID", "SALESFORCE_CLIENT_ID", "SFBULK_API_VERSION", "SALESFORCE_API_VERSION"} {
		t.Setenv(k, "")
	}

	stdout := &bytes.Buffer{}
	return &root.Options{
		Output:  output,
		NoColor: true,
		Stdin:   strings.NewReader(""),
		Stdout:  stdout,
		Stderr:  &bytes.Buffer{},
	}, stdout
}

func TestNewCommand(t *testing.T) {
	cmd := NewCommand(&root.Options{})

	assert.Equal(t, "config", cmd.Use)
	assert.NotEmpty(t, cmd.Short)

	var subNames []string
	for _, sub := range cmd.Commands() {
		subNames = append(subNames, sub.Use)
	}

	assert.Contains(t, subNames, "show")
	assert.Contains(t, subNames, "test")
	assert.Contains(t, subNames, "clear")
}

func TestShow_JSON(t *testing.T) {
	opts, stdout := newTestOptions(t, "json")
	require.NoError(t, config.Save(&config.Config{
		InstanceURL: "https://acme.my.salesforce.com",
		ClientID:    "3MVG9nKNqSNYF2dG9y7eJzIxOtLw.abc123xyz",
	}))

	cmd := NewCommand(opts)
	cmd.SetArgs([]string{"show"})
	require.NoError(t, cmd.Execute())

	var shown map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &shown))
	assert.EqualValues(t, 0, shown["pending_jobs"])
	assert.Equal(t, "https://acme.my.salesforce.com", shown["instance_url"])
	assert.Equal(t, "3MVG...3xyz", shown["client_id"])
	assert.Equal(t, bulk.DefaultAPIVersion+" (default)", shown["api_version"])
	assert.Contains(t, shown["config_file"].(string), "config.json")
	assert.Contains(t, shown["journal_file"].(string), "jobs.json")
}

func TestShow_Table(t *testing.T) {
	opts, stdout := newTestOptions(t, "table")
	require.NoError(t, config.Save(&config.Config{APIVersion: "59.0"}))

	cmd := NewCommand(opts)
	cmd.SetArgs([]string{"show"})
	require.NoError(t, cmd.Execute())

	out := stdout.String()
	assert.Contains(t, out, "Instance URL:    Not configured")
	assert.Contains(t, out, "API version:     59.0")
	assert.NotContains(t, out, "Pending jobs")
}

func TestShow_PendingJobs(t *testing.T) {
	opts, stdout := newTestOptions(t, "table")
	j, err := opts.Journal()
	require.NoError(t, err)
	_, err = j.Append("750xx0000000001", bulk.OperationUpsert, "Contact")
	require.NoError(t, err)

	cmd := NewCommand(opts)
	cmd.SetArgs([]string{"show"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, stdout.String(), "Pending jobs:    1 (see 'sfbulk job pending')")
}

func TestTest_PingsBulkAPI(t *testing.T) {
	var sawSession string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawSession = r.URL.Path
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`<error><exceptionCode>InvalidJob</exceptionCode><exceptionMessage>Invalid job id</exceptionMessage></error>`))
	}))
	defer server.Close()

	opts, stdout := newTestOptions(t, "table")
	conn, err := bulk.NewConnection(bulk.ConnectionConfig{InstanceURL: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)
	opts.SetBulkAPI(bulk.New(conn))

	require.NoError(t, runTest(context.Background(), opts))
	assert.Contains(t, sawSession, "/services/async/")
	assert.Contains(t, stdout.String(), "Bulk API:    OK")
	assert.Contains(t, stdout.String(), "Connection successful!")
}

func TestTest_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`<error><exceptionCode>InvalidSessionId</exceptionCode><exceptionMessage>Invalid session id</exceptionMessage></error>`))
	}))
	defer server.Close()

	opts, stdout := newTestOptions(t, "table")
	conn, err := bulk.NewConnection(bulk.ConnectionConfig{InstanceURL: server.URL, HTTPClient: server.Client()})
	require.NoError(t, err)
	opts.SetBulkAPI(bulk.New(conn))

	err = runTest(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, bulk.IsUnauthorized(err))
	assert.Contains(t, stdout.String(), "Bulk API:    FAILED")
}

func TestClear(t *testing.T) {
	t.Run("cancelled", func(t *testing.T) {
		opts, stdout := newTestOptions(t, "table")
		require.NoError(t, config.Save(&config.Config{InstanceURL: "https://acme.my.salesforce.com"}))
		opts.Stdin = strings.NewReader("n\n")

		require.NoError(t, runClear(opts, false))
		assert.Contains(t, stdout.String(), "Cancelled.")

		cfg, err := config.Load()
		require.NoError(t, err)
		assert.Equal(t, "https://acme.my.salesforce.com", cfg.InstanceURL)
	})

	t.Run("confirmed", func(t *testing.T) {
		opts, stdout := newTestOptions(t, "table")
		require.NoError(t, config.Save(&config.Config{InstanceURL: "https://acme.my.salesforce.com", ClientID: "id"}))
		opts.Stdin = strings.NewReader("yes\n")

		require.NoError(t, runClear(opts, false))
		assert.Contains(t, stdout.String(), "Configuration cleared.")

		cfg, err := config.Load()
		require.NoError(t, err)
		assert.Empty(t, cfg.InstanceURL)
	})

	t.Run("nothing to clear", func(t *testing.T) {
		opts, stdout := newTestOptions(t, "table")

		require.NoError(t, runClear(opts, true))
		assert.Contains(t, stdout.String(), "Nothing to clear.")
	})
}

func TestMaskClientID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"long client ID", "3MVG9nKNqSNYF2dG9y7eJzIxOtLw.abc123xyz", "3MVG...3xyz"},
		{"short client ID", "short123", "****"},
		{"exactly 12 chars", "123456789012", "****"},
		{"13 chars", "1234567890123", "1234...0123"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, maskClientID(tt.input))
		})
	}
}
