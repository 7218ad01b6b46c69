// Package tracking persists one row per finished API call so past requests,
// their attempts and their failures can be inspected later.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"stripekit/client"
	"stripekit/config"
)

// ErrDisabled is returned by queries on a tracker built with enabled: false.
var ErrDisabled = errors.New("request log is disabled")

const maxRetry = 3

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// RequestRecord 一次逻辑调用的持久化记录
type RequestRecord struct {
	RequestID       string
	StripeRequestID string
	IdempotencyKey  string
	Method          string
	Path            string
	Policy          string
	Status          string
	HTTPStatus      int
	Attempts        int
	ErrorKind       string
	ErrorType       string
	ErrorCode       string
	ErrorMessage    string
	StartTime       time.Time
	Duration        time.Duration
}

// recordFromCall 把客户端的调用结果转换为日志记录
func recordFromCall(info client.CallInfo) RequestRecord {
	rec := RequestRecord{
		RequestID:       uuid.NewString(),
		StripeRequestID: info.RequestID,
		IdempotencyKey:  info.IdempotencyKey,
		Method:          info.Method,
		Path:            info.Path,
		Policy:          info.Policy,
		Status:          StatusSuccess,
		HTTPStatus:      info.Status,
		Attempts:        info.Attempts,
		StartTime:       info.Start,
		Duration:        info.Duration,
	}
	if info.Err != nil {
		rec.Status = StatusFailed
		rec.ErrorKind = info.ErrorKind().String()
		rec.ErrorMessage = info.Err.Error()
		if apiErr := info.APIError(); apiErr != nil {
			rec.ErrorType = string(apiErr.Type)
			rec.ErrorCode = string(apiErr.Code)
			if apiErr.RawCode != "" {
				rec.ErrorCode = apiErr.RawCode
			}
		}
	}
	return rec
}

// Tracker 请求日志跟踪器，实现 client.Observer
// 事件写入缓冲通道，由后台协程批量落库
type Tracker struct {
	config   config.RequestLogConfig
	adapter  DatabaseAdapter
	location *time.Location
	logger   *slog.Logger

	eventChan chan RequestRecord
	flushChan chan chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

var _ client.Observer = (*Tracker)(nil)

// NewTracker 创建请求日志跟踪器
// enabled 为 false 时返回空实现，所有记录被忽略
func NewTracker(cfg config.RequestLogConfig, timezone string, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return &Tracker{config: cfg, logger: logger}, nil
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 24 * time.Hour
	}

	dbConfig := buildDatabaseConfig(cfg, timezone)
	adapter, err := NewDatabaseAdapter(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database adapter: %w", err)
	}
	if err := adapter.Open(); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := adapter.InitSchema(); err != nil {
		adapter.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	location := time.UTC
	if dbConfig.Timezone != "" {
		if loc, err := time.LoadLocation(dbConfig.Timezone); err == nil {
			location = loc
		} else {
			logger.Warn("加载时区失败，使用UTC", "timezone", dbConfig.Timezone, "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		config:    cfg,
		adapter:   adapter,
		location:  location,
		logger:    logger,
		eventChan: make(chan RequestRecord, cfg.BufferSize),
		flushChan: make(chan chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}

	t.wg.Add(1)
	go t.processEvents()

	if cfg.RetentionDays > 0 {
		t.wg.Add(1)
		go t.periodicCleanup()
	}

	logger.Info("✅ 请求日志初始化完成",
		"database_type", adapter.GetDatabaseType(),
		"buffer_size", cfg.BufferSize,
		"batch_size", cfg.BatchSize,
		"retention_days", cfg.RetentionDays)

	return t, nil
}

// Enabled reports whether records are persisted. A nil tracker is disabled.
func (t *Tracker) Enabled() bool {
	return t != nil && t.adapter != nil
}

// OnAttempt 单次尝试不落库，尝试次数随调用结果一起记录
func (t *Tracker) OnAttempt(client.AttemptInfo) {}

// OnComplete 记录一次调用结果，缓冲区满时丢弃并计数
func (t *Tracker) OnComplete(info client.CallInfo) {
	t.Record(recordFromCall(info))
}

// Record queues rec for the next batch write.
func (t *Tracker) Record(rec RequestRecord) {
	if !t.Enabled() {
		return
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}

	select {
	case t.eventChan <- rec:
	default:
		n := t.dropped.Add(1)
		t.logger.Warn("⚠️ 请求日志缓冲区已满，丢弃记录",
			"path", rec.Path,
			"dropped_total", n)
	}
}

// Dropped returns how many records were discarded because the buffer was full.
func (t *Tracker) Dropped() int64 {
	return t.dropped.Load()
}

// Flush blocks until every record queued before the call is written.
func (t *Tracker) Flush(ctx context.Context) error {
	if !t.Enabled() {
		return nil
	}
	done := make(chan struct{})
	select {
	case t.flushChan <- done:
	case <-t.ctx.Done():
		return fmt.Errorf("request log is closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止后台协程，写入剩余记录后关闭数据库
func (t *Tracker) Close() error {
	if !t.Enabled() {
		return nil
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.logger.Debug("正在关闭请求日志...")
	t.cancel()
	t.wg.Wait()

	if err := t.adapter.Close(); err != nil {
		return fmt.Errorf("failed to close database adapter: %w", err)
	}

	t.logger.Info("✅ 请求日志关闭完成", "dropped", t.dropped.Load())
	return nil
}

func (t *Tracker) now() time.Time {
	return time.Now().In(t.location)
}
