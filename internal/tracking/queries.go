package tracking

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Filter selects request log rows. Zero fields match everything.
type Filter struct {
	Status string // "success" | "failed"
	Method string
	Path   string // 前缀匹配
	Since  time.Time
	Limit  int
	Offset int
}

// RequestLog 查询返回的请求记录
type RequestLog struct {
	ID              int64         `json:"id"`
	RequestID       string        `json:"request_id"`
	StripeRequestID string        `json:"stripe_request_id,omitempty"`
	IdempotencyKey  string        `json:"idempotency_key,omitempty"`
	Method          string        `json:"method"`
	Path            string        `json:"path"`
	Policy          string        `json:"policy"`
	Status          string        `json:"status"`
	HTTPStatus      int           `json:"http_status"`
	Attempts        int           `json:"attempts"`
	ErrorKind       string        `json:"error_kind,omitempty"`
	ErrorType       string        `json:"error_type,omitempty"`
	ErrorCode       string        `json:"error_code,omitempty"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	StartTime       time.Time     `json:"start_time"`
	Duration        time.Duration `json:"duration"`
}

// Summary 请求日志汇总
type Summary struct {
	Total         int64            `json:"total"`
	Succeeded     int64            `json:"succeeded"`
	Failed        int64            `json:"failed"`
	Retried       int64            `json:"retried"`        // 超过一次尝试的调用数
	ExtraAttempts int64            `json:"extra_attempts"` // 重试产生的额外尝试总数
	AvgDurationMs float64          `json:"avg_duration_ms"`
	ErrorCodes    map[string]int64 `json:"error_codes"`
}

// StorageStats 存储层统计信息
type StorageStats struct {
	DatabaseType   string          `json:"database_type"`
	TotalRecords   int64           `json:"total_records"`
	EarliestRecord *time.Time      `json:"earliest_record,omitempty"`
	LatestRecord   *time.Time      `json:"latest_record,omitempty"`
	DatabaseSize   int64           `json:"database_size_bytes"`
	Connections    ConnectionStats `json:"connections"`
	Dropped        int64           `json:"dropped"`
}

func (f Filter) where() (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if f.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, f.Status)
	}
	if f.Method != "" {
		clauses = append(clauses, "method = ?")
		args = append(args, strings.ToUpper(f.Method))
	}
	if f.Path != "" {
		clauses = append(clauses, "path LIKE ? ESCAPE '!'")
		args = append(args, escapeLike(f.Path)+"%")
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "start_time >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

// GetRequestLogs 查询请求记录，按开始时间倒序
func (t *Tracker) GetRequestLogs(ctx context.Context, f Filter) ([]RequestLog, error) {
	if !t.Enabled() {
		return nil, ErrDisabled
	}

	where, args := f.where()
	query := `SELECT id, request_id, stripe_request_id, idempotency_key, method, path, policy,
		status, http_status, attempts, error_kind, error_type, error_code, error_message,
		start_time, duration_ms
		FROM request_logs` + where + " ORDER BY start_time DESC, id DESC" + limitOffset(f.Limit, f.Offset)

	rows, err := t.adapter.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query request logs: %w", err)
	}
	defer rows.Close()

	var logs []RequestLog
	for rows.Next() {
		var (
			l          RequestLog
			startMs    int64
			durationMs int64
		)
		if err := rows.Scan(&l.ID, &l.RequestID, &l.StripeRequestID, &l.IdempotencyKey,
			&l.Method, &l.Path, &l.Policy, &l.Status, &l.HTTPStatus, &l.Attempts,
			&l.ErrorKind, &l.ErrorType, &l.ErrorCode, &l.ErrorMessage,
			&startMs, &durationMs); err != nil {
			return nil, fmt.Errorf("failed to scan request log: %w", err)
		}
		l.StartTime = time.UnixMilli(startMs).In(t.location)
		l.Duration = time.Duration(durationMs) * time.Millisecond
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate request logs: %w", err)
	}
	return logs, nil
}

// CountRequestLogs counts rows matching f; Limit and Offset are ignored.
func (t *Tracker) CountRequestLogs(ctx context.Context, f Filter) (int64, error) {
	if !t.Enabled() {
		return 0, ErrDisabled
	}

	where, args := f.where()
	var n int64
	if err := t.adapter.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM request_logs"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count request logs: %w", err)
	}
	return n, nil
}

// Summary 汇总 since 之后的请求，零值表示全部
func (t *Tracker) Summary(ctx context.Context, since time.Time) (*Summary, error) {
	if !t.Enabled() {
		return nil, ErrDisabled
	}

	where, args := Filter{Since: since}.where()
	db := t.adapter.DB()

	s := &Summary{ErrorCodes: make(map[string]int64)}
	query := `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN attempts > 1 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN attempts > 1 THEN attempts - 1 ELSE 0 END), 0),
		COALESCE(AVG(duration_ms), 0)
		FROM request_logs` + where
	if err := db.QueryRowContext(ctx, query, args...).Scan(
		&s.Total, &s.Succeeded, &s.Failed, &s.Retried, &s.ExtraAttempts, &s.AvgDurationMs); err != nil {
		return nil, fmt.Errorf("failed to summarize request logs: %w", err)
	}

	codeWhere := " WHERE status = 'failed' AND error_code <> ''"
	if where != "" {
		codeWhere += " AND " + strings.TrimPrefix(where, " WHERE ")
	}
	rows, err := db.QueryContext(ctx,
		"SELECT error_code, COUNT(*) FROM request_logs"+codeWhere+" GROUP BY error_code", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to group error codes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			code string
			n    int64
		)
		if err := rows.Scan(&code, &n); err != nil {
			return nil, fmt.Errorf("failed to scan error code: %w", err)
		}
		s.ErrorCodes[code] = n
	}
	return s, rows.Err()
}

// Stats 获取存储层统计信息
func (t *Tracker) Stats(ctx context.Context) (*StorageStats, error) {
	if !t.Enabled() {
		return nil, ErrDisabled
	}

	db := t.adapter.DB()
	stats := &StorageStats{
		DatabaseType: t.adapter.GetDatabaseType(),
		Connections:  t.adapter.GetConnectionStats(),
		Dropped:      t.dropped.Load(),
	}

	var earliest, latest *int64
	err := db.QueryRowContext(ctx, "SELECT COUNT(*), MIN(start_time), MAX(start_time) FROM request_logs").
		Scan(&stats.TotalRecords, &earliest, &latest)
	if err != nil {
		return nil, fmt.Errorf("failed to read record range: %w", err)
	}
	if earliest != nil {
		e := time.UnixMilli(*earliest).In(t.location)
		stats.EarliestRecord = &e
	}
	if latest != nil {
		l := time.UnixMilli(*latest).In(t.location)
		stats.LatestRecord = &l
	}

	if size, err := t.adapter.DatabaseSize(ctx); err == nil {
		stats.DatabaseSize = size
	} else {
		t.logger.Debug("读取数据库大小失败", "error", err)
	}
	return stats, nil
}
