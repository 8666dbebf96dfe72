package log

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(buf *bytes.Buffer, formatter Formatter, level Level) Logger {
	return NewLogger(
		WithLevel(level),
		WithFormatter(formatter),
		WithOutput(NewConsoleOutput(WithCustomWriter(buf))),
	)
}

func TestTextFormatterSortsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf, &TextFormatter{DisableColors: true, DisableTimestamp: true}, InfoLevel)

	logger.WithComponent("cluster-manager").Info("cluster created", ClusterID("c1"), TenantID("acme"))

	assert.Equal(t, "INFO cluster created cluster_id=c1 component=cluster-manager tenant_id=acme\n", buf.String())
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf, &JSONFormatter{}, InfoLevel)

	logger.Warn("sweep slow", Int("examined", 3), Str("message", "shadowed"))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "WARN", decoded["level"])
	assert.Equal(t, "sweep slow", decoded["message"])
	assert.EqualValues(t, 3, decoded["examined"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newBufferLogger(&buf, &TextFormatter{DisableColors: true, DisableTimestamp: true}, WarnLevel)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Error("shown")

	assert.Equal(t, "ERROR shown\n", buf.String())
}

func TestChildLoggerDoesNotLeakFields(t *testing.T) {
	var buf bytes.Buffer
	parent := newBufferLogger(&buf, &TextFormatter{DisableColors: true, DisableTimestamp: true}, InfoLevel)

	parent.With(ClusterID("c1")).Info("child")
	parent.Info("parent")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "cluster_id=c1")
	assert.NotContains(t, lines[1], "cluster_id")
}

func TestRedactionHook(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(
		WithFormatter(&TextFormatter{DisableColors: true, DisableTimestamp: true}),
		WithOutput(NewConsoleOutput(WithCustomWriter(&buf))),
		WithHook(NewRedactionHook([]string{"api_key"})),
	)

	logger.Info("auth", Str("api_key", "secret"))
	assert.Equal(t, "INFO auth api_key=[REDACTED]\n", buf.String())
}

func TestContextRequestID(t *testing.T) {
	logger := NewTestLogger()
	ctx := ContextWithRequestID(context.Background(), "req-1")

	logger.WithContext(ctx).Info("handled")
	assert.True(t, logger.AssertLoggedWithField(InfoLevel, "handled", RequestIDKey, "req-1"))
}

func TestApplyConfig(t *testing.T) {
	_, err := ApplyConfig(&Config{Level: "verbose"})
	assert.Error(t, err)

	_, err = ApplyConfig(&Config{Level: "info", Format: "xml"})
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "kadalid.log")
	logger, err := ApplyConfig(&Config{Level: "debug", Format: "json", File: path})
	require.NoError(t, err)
	logger.Debug("to file", ClusterID("c1"))
	require.NoError(t, logger.(*BaseLogger).Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"cluster_id":"c1"`)
}

func TestFileOutputRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotate.log")
	out := NewFileOutput(path, WithMaxSize(10), WithMaxBackups(2))
	defer out.Close()

	entry := &Entry{Level: InfoLevel}
	require.NoError(t, out.Write(entry, []byte("0123456789")))
	require.NoError(t, out.Write(entry, []byte("abc")))

	rotated, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(rotated))

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(current))
}

func TestTestLoggerSharesSinkWithChildren(t *testing.T) {
	logger := NewTestLogger()
	logger.WithComponent("idle-reaper").Error("terminate failed", ClusterID("c9"))

	assert.True(t, logger.AssertLogged(ErrorLevel, "terminate failed"))
	assert.True(t, logger.AssertLoggedWithField(ErrorLevel, "terminate failed", ComponentKey, "idle-reaper"))
	assert.False(t, logger.AssertLogged(InfoLevel, "terminate failed"))
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{"debug": DebugLevel, "WARNING": WarnLevel, "": InfoLevel} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
