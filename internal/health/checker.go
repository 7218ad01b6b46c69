// Package health periodically probes the API with a cheap read and keeps the
// result for status endpoints and logs.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"stripekit/client"
	"stripekit/config"
	"stripekit/internal/events"
	"stripekit/request"
	"stripekit/retry"
	"stripekit/stripeerr"
)

// Status represents the health status of the API
type Status struct {
	Healthy          bool          `json:"healthy"`
	NeverChecked     bool          `json:"never_checked"` // 表示从未被检测过
	LastCheck        time.Time     `json:"last_check"`
	ResponseTime     time.Duration `json:"response_time"`
	ConsecutiveFails int           `json:"consecutive_fails"`
	HTTPStatus       int           `json:"http_status"`
	RequestID        string        `json:"request_id,omitempty"`
	LastError        string        `json:"last_error,omitempty"`
	TotalChecks      int64         `json:"total_checks"`
	TotalFailures    int64         `json:"total_failures"`
}

// Checker runs the health check loop
type Checker struct {
	client *client.Client
	bus    *events.Bus
	logger *slog.Logger

	mu       sync.RWMutex
	status   Status
	path     string
	interval time.Duration

	reset  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChecker creates a checker. bus may be nil.
func NewChecker(c *client.Client, cfg config.ProbeConfig, logger *slog.Logger, bus *events.Bus) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Checker{
		client: c,
		bus:    bus,
		logger: logger,
		status: Status{NeverChecked: true},
		reset:  make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	h.apply(cfg)
	return h
}

func (h *Checker) apply(cfg config.ProbeConfig) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.path = cfg.Path
	if h.path == "" {
		h.path = config.Default().Probe.Path
	}
	h.interval = cfg.Interval
	if h.interval <= 0 {
		h.interval = config.Default().Probe.Interval
	}
}

// Start starts the health checking routine
func (h *Checker) Start() {
	h.wg.Add(1)
	go h.healthCheckLoop()
}

// Stop stops the health checking routine
func (h *Checker) Stop() {
	h.cancel()
	h.wg.Wait()
}

// UpdateConfig 更新探测路径和间隔，间隔变化在下一个周期生效
func (h *Checker) UpdateConfig(cfg config.ProbeConfig) {
	h.apply(cfg)
	select {
	case h.reset <- struct{}{}:
	default:
	}
}

func (h *Checker) currentInterval() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.interval
}

func (h *Checker) healthCheckLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.currentInterval())
	defer ticker.Stop()

	h.Check(h.ctx)

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-h.reset:
			ticker.Reset(h.currentInterval())
		case <-ticker.C:
			h.Check(h.ctx)
		}
	}
}

// Check performs one probe and returns the updated status. Probes never retry:
// the loop itself is the retry.
func (h *Checker) Check(ctx context.Context) Status {
	h.mu.RLock()
	path := h.path
	h.mu.RUnlock()

	start := time.Now()
	resp, err := h.client.Do(ctx, request.Get(path), retry.NoRetry())
	responseTime := time.Since(start)

	if err != nil {
		httpStatus := 0
		var se *stripeerr.Error
		if errors.As(err, &se) {
			httpStatus = se.HTTPStatus
		}
		if ctx.Err() != nil {
			// 停止过程中被取消的探测不计入状态
			return h.GetStatus()
		}
		return h.updateStatus(false, responseTime, httpStatus, "", err)
	}
	return h.updateStatus(true, responseTime, resp.Status, resp.RequestID(), nil)
}

func (h *Checker) updateStatus(healthy bool, responseTime time.Duration, httpStatus int, requestID string, err error) Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	wasHealthy := h.status.Healthy
	firstCheck := h.status.NeverChecked

	h.status.LastCheck = time.Now()
	h.status.ResponseTime = responseTime
	h.status.NeverChecked = false
	h.status.HTTPStatus = httpStatus
	h.status.RequestID = requestID
	h.status.TotalChecks++

	if healthy {
		h.status.Healthy = true
		h.status.ConsecutiveFails = 0
		h.status.LastError = ""
		if !wasHealthy {
			h.logger.Info(fmt.Sprintf("✅ [健康检查] API可用: %s - 响应时间: %dms", h.path, responseTime.Milliseconds()))
		} else {
			h.logger.Debug(fmt.Sprintf("✅ [健康检查] API正常: %s - 状态码: %d, 响应时间: %dms",
				h.path, httpStatus, responseTime.Milliseconds()))
		}
	} else {
		h.status.Healthy = false
		h.status.ConsecutiveFails++
		h.status.TotalFailures++
		h.status.LastError = err.Error()
		if wasHealthy || firstCheck {
			h.logger.Warn(fmt.Sprintf("❌ [健康检查] API标记为不可用: %s - 状态码: %d, 连续失败: %d次, 错误: %v",
				h.path, httpStatus, h.status.ConsecutiveFails, err))
		} else {
			h.logger.Debug(fmt.Sprintf("❌ [健康检查] API仍然不可用: %s - 连续失败: %d次",
				h.path, h.status.ConsecutiveFails))
		}
	}

	if h.bus != nil && (firstCheck || wasHealthy != healthy) {
		eventType := events.EventAPIHealthy
		if !healthy {
			eventType = events.EventAPIUnhealthy
		}
		h.bus.Publish(events.Event{
			Type:     eventType,
			Source:   "health",
			Priority: events.PriorityHigh,
			Data: map[string]any{
				"path":              h.path,
				"http_status":       httpStatus,
				"response_time_ms":  responseTime.Milliseconds(),
				"consecutive_fails": h.status.ConsecutiveFails,
			},
		})
	}
	return h.status
}

// GetStatus returns a copy of the status
func (h *Checker) GetStatus() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// IsHealthy returns the health status of the API
func (h *Checker) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status.Healthy
}
