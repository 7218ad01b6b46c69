// Package stripemock is a scriptable stand-in for the Stripe API used by tests and
// by the `mock` command.
package stripemock

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"stripekit/internal/middleware"
)

// Hit 服务端收到的一次请求
type Hit struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
	Time     time.Time
}

type route struct {
	method     string
	pattern    []string
	responders []Responder
	next       int
}

// Server 基于 gin 的 Stripe 模拟服务
type Server struct {
	engine *gin.Engine
	logger *slog.Logger

	mu     sync.Mutex
	routes []*route
	hits   []Hit

	httpServer *http.Server
}

// New creates a mock server. Unscripted requests get Stripe's 404 error body.
func New(logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	if logger == nil {
		logger = slog.Default()
	}

	engine := gin.New()
	s := &Server{engine: engine, logger: logger}

	engine.Use(s.recordHits())
	engine.Use(middleware.Logging(logger, "🧪", "模拟请求"))
	engine.Use(gin.Recovery())
	engine.NoRoute(s.dispatch)

	return s
}

// Handle scripts the responses for method and path. Path segments starting with ':'
// match any value. Responders play in order and the last one repeats.
func (s *Server) Handle(method, path string, responders ...Responder) {
	if len(responders) == 0 {
		responders = []Responder{Status(http.StatusOK)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = append(s.routes, &route{
		method:     strings.ToUpper(method),
		pattern:    splitPath(path),
		responders: responders,
	})
}

// Hits returns the requests received for method and path, in arrival order.
func (s *Server) Hits(method, path string) []Hit {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Hit
	for _, h := range s.hits {
		if h.Method == strings.ToUpper(method) && h.Path == path {
			out = append(out, h)
		}
	}
	return out
}

// AllHits returns every recorded request.
func (s *Server) AllHits() []Hit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Hit(nil), s.hits...)
}

// Reset drops all scripted routes and recorded hits.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = nil
	s.hits = nil
}

func (s *Server) Handler() http.Handler { return s.engine }

// Start serves on a random local port. The caller closes the returned server.
func (s *Server) Start() *httptest.Server {
	return httptest.NewServer(s.engine)
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(fmt.Sprintf("🧪 Stripe模拟服务启动 - 地址: http://%s", addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("🛑 正在关闭Stripe模拟服务...")
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) recordHits() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}
		s.mu.Lock()
		s.hits = append(s.hits, Hit{
			Method:   c.Request.Method,
			Path:     c.Request.URL.Path,
			RawQuery: c.Request.URL.RawQuery,
			Header:   c.Request.Header.Clone(),
			Body:     body,
			Time:     time.Now(),
		})
		s.mu.Unlock()
		c.Next()
	}
}

func (s *Server) dispatch(c *gin.Context) {
	resp := s.next(c.Request.Method, c.Request.URL.Path)

	if resp.delay > 0 {
		select {
		case <-time.After(resp.delay):
		case <-c.Request.Context().Done():
			c.Abort()
			return
		}
	}

	for k, vs := range resp.header {
		for _, v := range vs {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Writer.Header().Set("Request-Id", fmt.Sprintf("req_mock_%d", time.Now().UnixNano()))
	c.Status(resp.status)
	if len(resp.body) > 0 {
		c.Writer.Write(resp.body)
	}
}

func (s *Server) next(method, path string) Responder {
	segments := splitPath(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	var match *route
	for _, r := range s.routes {
		if r.method != method || !matchSegments(r.pattern, segments) {
			continue
		}
		// 精确匹配优先于带参数的匹配
		if match == nil || (!hasParams(r.pattern) && hasParams(match.pattern)) {
			match = r
		}
	}
	if match == nil {
		return notFound(method, path)
	}

	resp := match.responders[match.next]
	if match.next < len(match.responders)-1 {
		match.next++
	}
	return resp
}

func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

func matchSegments(pattern, segments []string) bool {
	if len(pattern) != len(segments) {
		return false
	}
	for i, p := range pattern {
		if strings.HasPrefix(p, ":") {
			continue
		}
		if p != segments[i] {
			return false
		}
	}
	return true
}

func hasParams(pattern []string) bool {
	for _, p := range pattern {
		if strings.HasPrefix(p, ":") {
			return true
		}
	}
	return false
}
