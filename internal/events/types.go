package events

import "time"

// 事件类型枚举
type EventType string

const (
	// 调用生命周期事件
	EventAttempt       EventType = "attempt"
	EventCallCompleted EventType = "call_completed"

	// 健康检查事件
	EventAPIHealthy   EventType = "api_healthy"
	EventAPIUnhealthy EventType = "api_unhealthy"

	// 系统级事件
	EventConfigChanged EventType = "config_changed"
)

// 事件优先级
type EventPriority int

const (
	PriorityLow    EventPriority = iota // 单次尝试
	PriorityNormal                      // 调用完成
	PriorityHigh                        // 健康状态变化、配置变化
)

// 事件结构
type Event struct {
	Type      EventType      `json:"type"`
	Source    string         `json:"source"` // 事件来源组件
	Timestamp time.Time      `json:"timestamp"`
	Priority  EventPriority  `json:"priority"`
	Data      map[string]any `json:"data"`
}

// 前端事件类型映射，SSE 的 event 字段
var EventTypeMapping = map[EventType]string{
	EventAttempt:       "attempt",
	EventCallCompleted: "call",
	EventAPIHealthy:    "health",
	EventAPIUnhealthy:  "health",
	EventConfigChanged: "config",
}
