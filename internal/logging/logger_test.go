package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stripekit/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel(" WARN "))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestSetup_Text(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := Setup(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
	require.NoError(t, err)
	defer closeFn()

	logger.Debug("隐藏")
	logger.Info("✅ 请求成功", "status", 200)

	out := buf.String()
	assert.NotContains(t, out, "隐藏")
	assert.Contains(t, out, "✅ 请求成功")
	assert.Contains(t, out, "status=200")
	assert.NotContains(t, out, "\x1b[", "non-terminal writers get no color")
}

func TestSetup_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := Setup(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	require.NoError(t, err)
	defer closeFn()

	logger.Debug("debug line", "path", "/v1/balance")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug line", entry["msg"])
	assert.Equal(t, "/v1/balance", entry["path"])
}

func TestSetup_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "stripekit.log")
	var buf bytes.Buffer
	logger, closeFn, err := Setup(config.LoggingConfig{Level: "info", FilePath: path}, &buf)
	require.NoError(t, err)

	logger.With("component", "probe").WithGroup("call").Warn("⚠️ 重试", "attempt", 2)
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, "[WARN] ⚠️ 重试 component=probe call.attempt=2")
	assert.Contains(t, line, "[PID:")
	assert.Contains(t, buf.String(), "⚠️ 重试")
}

func TestLineHandler_Truncates(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewLineHandler(&buf, slog.LevelInfo))
	logger.Info(strings.Repeat("x", maxFileMessage+10))
	assert.Contains(t, buf.String(), "... (截断)")
}
