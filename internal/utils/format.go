// Package utils 提供命令行输出用的格式化函数
package utils

import (
	"fmt"
	"time"
)

// FormatResponseTime 友好格式化响应时间: 850μs, 42ms, 1.5s, 2m3s
func FormatResponseTime(d time.Duration) string {
	switch {
	case d <= 0:
		return "0ms"
	case d < time.Microsecond:
		return "< 1μs"
	case d < time.Millisecond:
		return fmt.Sprintf("%dμs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < 10*time.Second:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Minute:
		return fmt.Sprintf("%.0fs", d.Seconds())
	default:
		minutes := int(d / time.Minute)
		seconds := (d - time.Duration(minutes)*time.Minute).Seconds()
		return fmt.Sprintf("%dm%.0fs", minutes, seconds)
	}
}

// FormatFileSize 格式化数据库文件大小
func FormatFileSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatPercentage 格式化百分比，total 为 0 时返回 0.0%
func FormatPercentage(value, total int64) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(value)/float64(total)*100)
}

// Truncate 截断过长的字符串，用于表格输出
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// FormatUptime 格式化运行时间: 3天 2小时 5分钟
func FormatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%d天 %d小时 %d分钟", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%d小时 %d分钟", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%d分钟 %d秒", minutes, seconds)
	default:
		return fmt.Sprintf("%d秒", seconds)
	}
}
