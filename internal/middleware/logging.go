package middleware

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// slowRequestThreshold 超过该耗时的请求按警告记录
const slowRequestThreshold = 10 * time.Second

// Logging returns a gin middleware that logs each request with the given
// emoji prefix and label. Successful requests log at debug, 4xx at warn and
// 5xx at error.
func Logging(logger *slog.Logger, prefix, label string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status_code", status,
			"bytes_written", formatBytes(int64(max(c.Writer.Size(), 0))),
			"duration", formatDuration(duration),
			"client_ip", c.ClientIP(),
			"user_agent", truncateString(c.Request.UserAgent(), 50),
		}

		level := slog.LevelDebug
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level,
			fmt.Sprintf("%s %s %s %s %s → %d (%s)", prefix, label, getStatusEmoji(status),
				c.Request.Method, path, status, formatDuration(duration)),
			attrs...)

		// SSE连接本身就是长连接，不算慢请求
		if duration > slowRequestThreshold && !isEventStream(c) {
			logger.Warn(fmt.Sprintf("🐌 慢请求 %s %s", c.Request.Method, path),
				"duration", formatDuration(duration),
				"status_code", status)
		}
	}
}

func isEventStream(c *gin.Context) bool {
	return strings.HasPrefix(c.Writer.Header().Get("Content-Type"), "text/event-stream")
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func getStatusEmoji(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "✅"
	case statusCode >= 300 && statusCode < 400:
		return "🔄"
	case statusCode >= 400 && statusCode < 500:
		return "⚠️"
	case statusCode >= 500:
		return "❌"
	default:
		return "❓"
	}
}

func formatBytes(bytes int64) string {
	if bytes < 1024 {
		return fmt.Sprintf("%dB", bytes)
	} else if bytes < 1024*1024 {
		return fmt.Sprintf("%.1fKB", float64(bytes)/1024)
	}
	return fmt.Sprintf("%.1fMB", float64(bytes)/(1024*1024))
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.2fμs", float64(d.Nanoseconds())/1000)
	} else if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d.Nanoseconds())/1000000)
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
