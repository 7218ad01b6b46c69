package web

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"stripekit/internal/events"
)

const sseHeartbeat = 15 * time.Second

// handleSSE 推送事件总线上的事件，?types=call,health 只订阅指定类别
func (ws *WebServer) handleSSE(c *gin.Context) {
	if ws.opts.Bus == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event bus not enabled"})
		return
	}

	clientID := c.Query("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}
	wanted := parseEventFilter(c.Query("types"))

	ch, cancel := ws.opts.Bus.Subscribe(256, wanted...)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	ws.logger.Debug("SSE客户端已连接", "client_id", clientID, "types", wanted)

	c.SSEvent("connection", gin.H{
		"status":    "established",
		"client_id": clientID,
		"timestamp": time.Now().Format("2006-01-02 15:04:05"),
	})
	c.Writer.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(events.EventTypeMapping[event.Type], event)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"timestamp": time.Now().Unix()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
	ws.logger.Debug("SSE客户端断开连接", "client_id", clientID)
}

// parseEventFilter 把前端类别 (call, attempt, health, config) 还原成事件类型
func parseEventFilter(param string) []events.EventType {
	if param == "" {
		return nil
	}
	categories := make(map[string]bool)
	for _, name := range strings.Split(param, ",") {
		categories[strings.TrimSpace(name)] = true
	}
	var out []events.EventType
	for eventType, category := range events.EventTypeMapping {
		if categories[category] {
			out = append(out, eventType)
		}
	}
	if out == nil {
		// 未知类别不应退化为订阅全部
		out = []events.EventType{""}
	}
	return out
}
