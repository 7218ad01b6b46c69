package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"stripekit/internal/tracking"
	"stripekit/internal/utils"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// handleHealth 有健康检查器时按最近一次探测结果返回 200 或 503
func (ws *WebServer) handleHealth(c *gin.Context) {
	if ws.opts.Checker == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	status := ws.opts.Checker.GetStatus()
	body := gin.H{
		"status":            "healthy",
		"never_checked":     status.NeverChecked,
		"last_check":        status.LastCheck,
		"response_time":     utils.FormatResponseTime(status.ResponseTime),
		"http_status":       status.HTTPStatus,
		"consecutive_fails": status.ConsecutiveFails,
	}
	if !status.Healthy {
		body["status"] = "unhealthy"
		body["error"] = status.LastError
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

// handleStatus处理状态API
func (ws *WebServer) handleStatus(c *gin.Context) {
	status := gin.H{
		"status":     "running",
		"version":    ws.opts.Version,
		"uptime":     utils.FormatUptime(time.Since(ws.startTime)),
		"start_time": ws.startTime.Format("2006-01-02 15:04:05"),
	}
	if cl := ws.opts.Client; cl != nil {
		status["base_url"] = cl.BaseURL()
		status["policy"] = cl.DefaultPolicy().String()
	}
	if ws.opts.Tracker != nil {
		status["request_log"] = ws.opts.Tracker.Enabled()
	}
	c.JSON(http.StatusOK, status)
}

// handleStats 进程内调用统计
func (ws *WebServer) handleStats(c *gin.Context) {
	if ws.opts.Monitor == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "monitor not enabled"})
		return
	}

	s := ws.opts.Monitor.Snapshot()
	paths := make([]gin.H, 0, len(s.Paths))
	for _, p := range s.Paths {
		var avg time.Duration
		if p.TotalCalls > 0 {
			avg = p.TotalResponseTime / time.Duration(p.TotalCalls)
		}
		paths = append(paths, gin.H{
			"name":              p.Name,
			"total_calls":       p.TotalCalls,
			"successful_calls":  p.SuccessfulCalls,
			"failed_calls":      p.FailedCalls,
			"retry_count":       p.RetryCount,
			"avg_response_time": utils.FormatResponseTime(avg),
			"last_status":       p.LastStatus,
			"last_used":         p.LastUsed,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"total_calls":        s.TotalCalls,
		"successful_calls":   s.SuccessfulCalls,
		"failed_calls":       s.FailedCalls,
		"total_attempts":     s.TotalAttempts,
		"retried_calls":      s.RetriedCalls,
		"transient_failures": s.TransientFailures,
		"terminal_failures":  s.TerminalFailures,
		"success_rate":       s.SuccessRate,
		"avg_response_time":  utils.FormatResponseTime(s.AvgResponseTime),
		"p95_response_time":  utils.FormatResponseTime(s.P95ResponseTime),
		"min_response_time":  utils.FormatResponseTime(s.MinResponseTime),
		"max_response_time":  utils.FormatResponseTime(s.MaxResponseTime),
		"errors_by_kind":     s.ErrorsByKind,
		"paths":              paths,
		"uptime":             utils.FormatUptime(s.Uptime),
	})
}

// handleRequests 分页查询请求记录
func (ws *WebServer) handleRequests(c *gin.Context) {
	filter, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	logs, err := ws.opts.Tracker.GetRequestLogs(ctx, filter)
	if err != nil {
		ws.trackerError(c, err)
		return
	}
	total, err := ws.opts.Tracker.CountRequestLogs(ctx, filter)
	if err != nil {
		ws.trackerError(c, err)
		return
	}
	if logs == nil {
		logs = []tracking.RequestLog{}
	}

	c.JSON(http.StatusOK, gin.H{
		"requests": logs,
		"total":    total,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	})
}

// handleRequestSummary 汇总 since 之后的请求
func (ws *WebServer) handleRequestSummary(c *gin.Context) {
	since, err := parseSince(c.Query("since"), time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	summary, err := ws.opts.Tracker.Summary(c.Request.Context(), since)
	if err != nil {
		ws.trackerError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (ws *WebServer) handleStorage(c *gin.Context) {
	stats, err := ws.opts.Tracker.Stats(c.Request.Context())
	if err != nil {
		ws.trackerError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (ws *WebServer) handleEventStats(c *gin.Context) {
	if ws.opts.Bus == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event bus not enabled"})
		return
	}
	c.JSON(http.StatusOK, ws.opts.Bus.GetStats())
}

func (ws *WebServer) trackerError(c *gin.Context, err error) {
	if ws.opts.Tracker == nil || errors.Is(err, tracking.ErrDisabled) {
		c.JSON(http.StatusNotFound, gin.H{"error": "request log not enabled"})
		return
	}
	ws.logger.Error(fmt.Sprintf("❌ 查询请求记录失败: %v", err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func parseFilter(c *gin.Context) (tracking.Filter, error) {
	f := tracking.Filter{
		Status: c.Query("status"),
		Method: c.Query("method"),
		Path:   c.Query("path"),
		Limit:  defaultPageSize,
	}
	switch f.Status {
	case "", tracking.StatusSuccess, tracking.StatusFailed:
	default:
		return f, fmt.Errorf("invalid status %q", f.Status)
	}

	var err error
	if f.Since, err = parseSince(c.Query("since"), time.Now()); err != nil {
		return f, err
	}
	if v := c.Query("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit <= 0 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		f.Limit = min(f.Limit, maxPageSize)
	}
	if v := c.Query("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil || f.Offset < 0 {
			return f, fmt.Errorf("invalid offset %q", v)
		}
	}
	return f, nil
}

// parseSince accepts an RFC 3339 timestamp or a duration such as "24h" counted
// back from now. Empty means no lower bound.
func parseSince(v string, now time.Time) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid since %q: want RFC 3339 or a duration", v)
	}
	return t, nil
}
