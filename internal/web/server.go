// Package web serves the status API of a running probe: health, in-process
// statistics, the persistent request log, Prometheus metrics and a live event
// stream.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"stripekit/client"
	"stripekit/internal/events"
	"stripekit/internal/health"
	"stripekit/internal/metrics"
	"stripekit/internal/middleware"
	"stripekit/internal/monitor"
	"stripekit/internal/tracking"
)

// Options wires the components the server reports on. Nil components disable
// their routes.
type Options struct {
	Addr        string
	MetricsPath string
	Version     string

	Client   *client.Client
	Monitor  *monitor.Metrics
	Tracker  *tracking.Tracker
	Checker  *health.Checker
	Bus      *events.Bus
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// WebServer represents the status API server
type WebServer struct {
	opts      Options
	engine    *gin.Engine
	server    *http.Server
	listener  net.Listener
	logger    *slog.Logger
	startTime time.Time
}

// NewWebServer creates a new status server
func NewWebServer(opts Options) *WebServer {
	// 设置gin为release模式以减少日志输出
	gin.SetMode(gin.ReleaseMode)
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}

	engine := gin.New()
	engine.Use(middleware.Logging(opts.Logger, "🌐", "Web请求"))
	engine.Use(gin.Recovery())

	ws := &WebServer{
		opts:      opts,
		engine:    engine,
		logger:    opts.Logger,
		startTime: time.Now(),
	}
	ws.setupRoutes()
	return ws
}

// Handler exposes the router, mainly for tests
func (ws *WebServer) Handler() http.Handler { return ws.engine }

// Start binds the listen address and serves in the background
func (ws *WebServer) Start() error {
	ln, err := net.Listen("tcp", ws.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ws.opts.Addr, err)
	}
	ws.listener = ln
	ws.server = &http.Server{
		Handler:      ws.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE连接需要禁用写入超时
		IdleTimeout:  300 * time.Second,
	}

	go func() {
		if err := ws.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			ws.logger.Error(fmt.Sprintf("❌ 状态服务器运行失败: %v", err))
		}
	}()

	ws.logger.Info(fmt.Sprintf("✅ 状态服务器启动成功！访问地址: http://%s", ln.Addr()))
	return nil
}

// Addr returns the bound address once started
func (ws *WebServer) Addr() string {
	if ws.listener == nil {
		return ws.opts.Addr
	}
	return ws.listener.Addr().String()
}

// Stop优雅关闭状态服务器
func (ws *WebServer) Stop(ctx context.Context) error {
	if ws.server == nil {
		return nil
	}

	ws.logger.Info("🛑 正在关闭状态服务器...")
	err := ws.server.Shutdown(ctx)
	if err != nil {
		ws.logger.Error(fmt.Sprintf("❌ 状态服务器关闭失败: %v", err))
	} else {
		ws.logger.Info("✅ 状态服务器已安全关闭")
	}
	return err
}

// setupRoutes设置路由
func (ws *WebServer) setupRoutes() {
	ws.engine.GET("/health", ws.handleHealth)
	if ws.opts.Gatherer != nil {
		ws.engine.GET(ws.opts.MetricsPath, gin.WrapH(metrics.Handler(ws.opts.Gatherer)))
	}

	api := ws.engine.Group("/api/v1")
	{
		api.GET("/status", ws.handleStatus)
		api.GET("/stats", ws.handleStats)
		api.GET("/requests", ws.handleRequests)
		api.GET("/requests/summary", ws.handleRequestSummary)
		api.GET("/storage", ws.handleStorage)
		api.GET("/events", ws.handleEventStats)
		api.GET("/stream", ws.handleSSE)
	}
}
