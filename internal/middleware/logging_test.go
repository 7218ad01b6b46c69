package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestEngine(logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(Logging(logger, "🌐", "Web请求"))
	engine.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "hello") })
	engine.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	engine.GET("/boom", func(c *gin.Context) { c.Status(http.StatusBadGateway) })
	return engine
}

func TestLogging_Levels(t *testing.T) {
	tests := []struct {
		path  string
		level string
		emoji string
	}{
		{"/ok?x=1", "level=DEBUG", "✅"},
		{"/missing", "level=WARN", "⚠️"},
		{"/boom", "level=ERROR", "❌"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
			engine := newTestEngine(logger)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("User-Agent", strings.Repeat("a", 80))
			engine.ServeHTTP(httptest.NewRecorder(), req)

			out := buf.String()
			// 每个请求只记录一行
			assert.Equal(t, 1, strings.Count(out, "\n"))
			assert.Contains(t, out, tt.level)
			assert.Contains(t, out, tt.emoji)
			assert.Contains(t, out, "Web请求")
			assert.Contains(t, out, "GET "+tt.path)
			assert.Contains(t, out, strings.Repeat("a", 47)+"...")
		})
	}
}

func TestLogging_FiltersByHandlerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	engine := newTestEngine(logger)

	engine.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Empty(t, buf.String())
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "512B", formatBytes(512))
	assert.Equal(t, "1.5KB", formatBytes(1536))
	assert.Equal(t, "2.0MB", formatBytes(2*1024*1024))

	assert.Equal(t, "500.00μs", formatDuration(500*time.Microsecond))
	assert.Equal(t, "12.0ms", formatDuration(12*time.Millisecond))
	assert.Equal(t, "1.50s", formatDuration(1500*time.Millisecond))

	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "❓", getStatusEmoji(0))
	assert.Equal(t, "🔄", getStatusEmoji(http.StatusFound))
}
