package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	assert.Equal(t, Version, Info())
}

func TestFull(t *testing.T) {
	old := [3]string{Version, Commit, BuildDate}
	t.Cleanup(func() { Version, Commit, BuildDate = old[0], old[1], old[2] })

	Version, Commit, BuildDate = "v1.2.0", "abc1234", "2026-01-02"
	assert.Equal(t, "v1.2.0 (commit: abc1234, built: 2026-01-02, "+runtime.Version()+")", Full())
}

func TestUserAgent(t *testing.T) {
	old := Version
	t.Cleanup(func() { Version = old })

	Version = "v1.2.0"
	assert.Equal(t, "sfbulk/v1.2.0", UserAgent())
}
