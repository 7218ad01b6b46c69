package tracking

import (
	"context"
	"fmt"
	"time"
)

const insertRequestLog = `INSERT INTO request_logs (
	request_id, stripe_request_id, idempotency_key, method, path, policy,
	status, http_status, attempts, error_kind, error_type, error_code, error_message,
	start_time, duration_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// vacuum threshold: 删除记录数超过该值才回收空间
const vacuumThreshold = 1000

// processEvents 异步事件处理循环
func (t *Tracker) processEvents() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]RequestRecord, 0, t.config.BatchSize)

	for {
		select {
		case rec := <-t.eventChan:
			batch = append(batch, rec)
			if len(batch) >= t.config.BatchSize {
				t.flushBatch(batch)
				batch = batch[:0]
			}

		case done := <-t.flushChan:
			batch = t.drain(batch)
			t.flushBatch(batch)
			batch = batch[:0]
			close(done)

		case <-ticker.C:
			if len(batch) > 0 {
				t.flushBatch(batch)
				batch = batch[:0]
			}

		case <-t.ctx.Done():
			// 优雅关闭，处理通道中剩余的记录
			batch = t.drain(batch)
			t.flushBatch(batch)
			t.logger.Debug("请求日志写入协程已停止")
			return
		}
	}
}

// drain 非阻塞地取出通道中已排队的记录，按批次大小写入
func (t *Tracker) drain(batch []RequestRecord) []RequestRecord {
	for {
		select {
		case rec := <-t.eventChan:
			batch = append(batch, rec)
			if len(batch) >= t.config.BatchSize {
				t.flushBatch(batch)
				batch = batch[:0]
			}
		default:
			return batch
		}
	}
}

// flushBatch 批量写入，失败时按次数线性退避重试
func (t *Tracker) flushBatch(records []RequestRecord) {
	if len(records) == 0 {
		return
	}

	for retryCount := 1; retryCount <= maxRetry; retryCount++ {
		err := t.processBatch(records)
		if err == nil {
			if retryCount > 1 {
				t.logger.Info("请求日志重试写入成功",
					"retry_count", retryCount-1,
					"batch_size", len(records))
			}
			return
		}

		t.logger.Warn("请求日志写入失败",
			"error", err,
			"retry", retryCount,
			"max_retry", maxRetry,
			"batch_size", len(records))
		if retryCount < maxRetry {
			time.Sleep(time.Duration(retryCount) * 100 * time.Millisecond)
		}
	}

	t.logger.Error("❌ 请求日志批次写入最终失败", "batch_size", len(records))
}

// processBatch 在一个事务中写入一批记录
func (t *Tracker) processBatch(records []RequestRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	tx, err := t.adapter.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertRequestLog)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		start := rec.StartTime
		if start.IsZero() {
			start = t.now()
		}
		_, err := stmt.ExecContext(ctx,
			rec.RequestID, rec.StripeRequestID, rec.IdempotencyKey, rec.Method, rec.Path, rec.Policy,
			rec.Status, rec.HTTPStatus, rec.Attempts, rec.ErrorKind, rec.ErrorType, rec.ErrorCode, rec.ErrorMessage,
			start.UnixMilli(), rec.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("failed to insert request %s: %w", rec.RequestID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// periodicCleanup 定期清理过期记录
func (t *Tracker) periodicCleanup() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(t.ctx, 5*time.Minute)
			if _, err := t.cleanupOldRecords(ctx, t.now()); err != nil {
				t.logger.Error("清理过期请求日志失败", "error", err)
			}
			cancel()
		case <-t.ctx.Done():
			return
		}
	}
}

// cleanupOldRecords 删除 retention_days 之前的记录
func (t *Tracker) cleanupOldRecords(ctx context.Context, now time.Time) (int64, error) {
	if t.config.RetentionDays <= 0 {
		return 0, nil
	}

	cutoff := now.AddDate(0, 0, -t.config.RetentionDays)
	result, err := t.adapter.DB().ExecContext(ctx,
		"DELETE FROM request_logs WHERE start_time < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old records: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		t.logger.Info("🧹 已清理过期请求日志",
			"deleted", deleted,
			"cutoff", cutoff.Format(time.RFC3339))
	}
	if deleted > vacuumThreshold {
		if err := t.adapter.VacuumDatabase(ctx); err != nil {
			t.logger.Warn("数据库空间回收失败", "error", err)
		}
	}
	return deleted, nil
}
