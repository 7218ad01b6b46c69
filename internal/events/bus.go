package events

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"stripekit/client"
)

// 统计信息
type BusStats struct {
	TotalEvents     int64               `json:"total_events"`
	ProcessedEvents int64               `json:"processed_events"`
	DroppedEvents   int64               `json:"dropped_events"`
	EventsByType    map[EventType]int64 `json:"events_by_type"`
	Subscribers     int                 `json:"subscribers"`
	StartTime       time.Time           `json:"start_time"`
}

type subscription struct {
	ch    chan Event
	types []EventType // 为空表示全部
}

func (s *subscription) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// Bus 进程内事件总线，同时实现 client.Observer。
// 发布从不阻塞：总线缓冲区或订阅者缓冲区已满时事件被丢弃。
type Bus struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	eventChan chan Event

	mu          sync.RWMutex
	subscribers map[int]*subscription
	nextID      int
	running     bool

	stats   BusStats
	statsMu sync.Mutex

	wg sync.WaitGroup
}

var _ client.Observer = (*Bus)(nil)

// NewBus 创建事件总线，调用 Start 后开始分发
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
		eventChan:   make(chan Event, 1000),
		subscribers: make(map[int]*subscription),
		stats: BusStats{
			EventsByType: make(map[EventType]int64),
			StartTime:    time.Now(),
		},
	}
}

// Start 启动分发协程
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.wg.Add(1)
	go b.eventProcessor()
	b.logger.Debug("📣 事件总线已启动")
}

// Stop 停止分发并关闭所有订阅通道
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()

	b.mu.Lock()
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	b.logger.Debug("📣 事件总线已停止")
}

// Publish 发布事件，缺省时间戳取当前时间
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	running := b.running
	b.mu.RUnlock()
	if !running {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.statsMu.Lock()
	b.stats.TotalEvents++
	b.stats.EventsByType[event.Type]++
	b.statsMu.Unlock()

	select {
	case b.eventChan <- event:
	default:
		b.statsMu.Lock()
		b.stats.DroppedEvents++
		b.statsMu.Unlock()
		b.logger.Warn("⚠️ 事件总线缓冲区已满，丢弃事件", "type", event.Type, "source", event.Source)
	}
}

// Subscribe returns a channel receiving events of the given types, or of every
// type when none are given, and a function that cancels the subscription.
// The channel is closed on cancel or when the bus stops.
func (b *Bus) Subscribe(buffer int, types ...EventType) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscription{ch: make(chan Event, buffer), types: types}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub.ch)
			}
		})
	}
}

// GetStats 获取统计信息
func (b *Bus) GetStats() BusStats {
	b.statsMu.Lock()
	stats := BusStats{
		TotalEvents:     b.stats.TotalEvents,
		ProcessedEvents: b.stats.ProcessedEvents,
		DroppedEvents:   b.stats.DroppedEvents,
		EventsByType:    make(map[EventType]int64, len(b.stats.EventsByType)),
		StartTime:       b.stats.StartTime,
	}
	for k, v := range b.stats.EventsByType {
		stats.EventsByType[k] = v
	}
	b.statsMu.Unlock()

	b.mu.RLock()
	stats.Subscribers = len(b.subscribers)
	b.mu.RUnlock()
	return stats
}

// OnAttempt 发布单次尝试事件
func (b *Bus) OnAttempt(info client.AttemptInfo) {
	data := map[string]any{
		"method":       info.Method,
		"path":         info.Path,
		"attempt":      info.Attempt,
		"status":       info.Status,
		"request_id":   info.RequestID,
		"should_retry": info.Hint.String(),
		"duration_ms":  info.Duration.Milliseconds(),
	}
	if info.Err != nil {
		data["error"] = info.Err.Error()
	}
	b.Publish(Event{Type: EventAttempt, Source: "client", Priority: PriorityLow, Data: data})
}

// OnComplete 发布调用完成事件
func (b *Bus) OnComplete(info client.CallInfo) {
	data := map[string]any{
		"method":      info.Method,
		"path":        info.Path,
		"policy":      info.Policy,
		"request_id":  info.RequestID,
		"attempts":    info.Attempts,
		"status":      info.Status,
		"success":     info.Succeeded(),
		"duration_ms": info.Duration.Milliseconds(),
	}
	if info.Err != nil {
		data["error"] = info.Err.Error()
		data["error_kind"] = info.ErrorKind().String()
	}
	b.Publish(Event{
		Type:      EventCallCompleted,
		Source:    "client",
		Timestamp: info.Start.Add(info.Duration),
		Priority:  PriorityNormal,
		Data:      data,
	})
}

// 事件处理器
func (b *Bus) eventProcessor() {
	defer b.wg.Done()
	for {
		select {
		case event := <-b.eventChan:
			b.dispatch(event)
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Bus) dispatch(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var dropped int64
	for _, sub := range b.subscribers {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			dropped++
		}
	}

	b.statsMu.Lock()
	b.stats.ProcessedEvents++
	b.stats.DroppedEvents += dropped
	b.statsMu.Unlock()
	if dropped > 0 {
		b.logger.Debug("订阅者缓冲区已满，丢弃事件", "type", event.Type, "dropped", dropped)
	}
}
