package version

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withBuild(t *testing.T, v, built, commit string) {
	t.Helper()
	origVersion, origBuildTime, origCommit := Version, BuildTime, Commit
	t.Cleanup(func() {
		Version, BuildTime, Commit = origVersion, origBuildTime, origCommit
	})
	Version, BuildTime, Commit = v, built, commit
}

func TestInfo(t *testing.T) {
	withBuild(t, "1.0.0", "2026-01-01", "abcdef0123456789")

	info := Info("kadalid")
	assert.True(t, strings.HasPrefix(info, "kadalid 1.0.0"), info)
	assert.Contains(t, info, "(abcdef01)")
	assert.NotContains(t, info, "abcdef0123456789")
	assert.Contains(t, info, "2026-01-01")
	assert.Contains(t, info, runtime.GOOS+"/"+runtime.GOARCH)
}

func TestShortCommit(t *testing.T) {
	withBuild(t, "1.0.0", "2026-01-01", "abc123")
	assert.Equal(t, "abc123", ShortCommit())
}

func TestMap(t *testing.T) {
	withBuild(t, "1.0.0", "2026-01-01", "abcdef0123456789")

	m := Map()
	assert.Equal(t, "1.0.0", m["version"])
	assert.Equal(t, "2026-01-01", m["buildTime"])
	assert.Equal(t, "abcdef0123456789", m["commit"])
	assert.Equal(t, runtime.GOOS, m["os"])
	assert.Equal(t, runtime.GOARCH, m["arch"])
	assert.True(t, strings.HasPrefix(m["goVersion"], "go1."))
}
