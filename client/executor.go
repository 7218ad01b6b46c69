package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"stripekit/request"
	"stripekit/retry"
	"stripekit/stripeerr"
	"stripekit/transport"
)

const acceptEncoding = "gzip, deflate, br"

// decodeFunc 在成功响应上运行，失败时不再重试
type decodeFunc func(resp *transport.Response) *stripeerr.Error

// Do sends req under policy and returns the first successful response. The zero
// policy means DefaultPolicy. Failures are always *stripeerr.Error.
func (c *Client) Do(ctx context.Context, req request.Request, policy retry.Policy) (*transport.Response, error) {
	return c.execute(ctx, req, policy, nil)
}

// Execute sends req under policy and decodes the successful body into T. A body
// that is not UTF-8 or does not match T fails the call without retrying.
func Execute[T any](ctx context.Context, c *Client, req request.Request, policy retry.Policy) (T, error) {
	var out T
	_, err := c.execute(ctx, req, policy, func(resp *transport.Response) *stripeerr.Error {
		if !utf8.Valid(resp.Body) {
			return stripeerr.InvalidEncoding(resp.Status)
		}
		if err := json.Unmarshal(resp.Body, &out); err != nil {
			return stripeerr.Deserialize(resp.Status, fmt.Sprintf("could not deserialize %T", out), err)
		}
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// call 一次逻辑调用的状态，所有尝试共享
type call struct {
	settings *settings
	req      request.Request
	policy   retry.Policy
	url      string
	body     []byte
	key      string
	start    time.Time

	attempt   retry.Attempt
	lastErr   *stripeerr.Error
	status    int
	requestID string
}

func (c *Client) execute(ctx context.Context, req request.Request, policy retry.Policy, decode decodeFunc) (*transport.Response, error) {
	s := c.settings.Load()
	if policy.IsZero() {
		policy = s.policy
	}

	cl := &call{
		settings: s,
		req:      req,
		policy:   policy,
		url:      req.URL(s.baseURL),
		// 请求体只生成一次，每次尝试都发送相同的字节
		body:  req.Body(),
		key:   resolveIdempotencyKey(req, policy),
		start: time.Now(),
	}

	for {
		decision := policy.Test(cl.attempt)
		if !decision.Continue {
			if cl.attempt.Tries == 0 {
				cl.lastErr = stripeerr.InvalidStrategy(policy.String())
			}
			c.logger.DebugContext(ctx, fmt.Sprintf("⏹️ [重试决策] 停止: %s", decision.Reason),
				"method", req.Method(), "path", req.Path(), "attempts", cl.attempt.Tries)
			return nil, c.finish(ctx, cl)
		}

		if decision.Delay > 0 {
			c.logger.InfoContext(ctx, fmt.Sprintf("🔄 [重试决策] %s，等待 %v 后重试", decision.Reason, decision.Delay),
				"method", req.Method(),
				"path", req.Path(),
				"attempt", cl.attempt.Tries+1,
				"last_status", cl.attempt.Status,
				"idempotency_key", cl.key)
			if err := sleepContext(ctx, decision.Delay); err != nil {
				cl.lastErr = stripeerr.Transport(err)
				return nil, c.finish(ctx, cl)
			}
		}
		if err := ctx.Err(); err != nil {
			cl.lastErr = stripeerr.Transport(err)
			return nil, c.finish(ctx, cl)
		}

		resp, err := c.attempt(ctx, cl)
		if err != nil {
			if ctx.Err() != nil {
				return nil, c.finish(ctx, cl)
			}
			continue
		}

		if decode != nil {
			if decodeErr := decode(resp); decodeErr != nil {
				cl.lastErr = decodeErr
				return nil, c.finish(ctx, cl)
			}
		}
		cl.lastErr = nil
		c.finish(ctx, cl)
		return resp, nil
	}
}

// attempt 发送一次请求并把结果记录到 cl；返回的 error 只表示本次尝试失败
func (c *Client) attempt(ctx context.Context, cl *call) (*transport.Response, error) {
	httpReq, err := c.newHTTPRequest(ctx, cl)
	if err != nil {
		// URL 无法构造，重试也无济于事，用 HintFalse 让任何策略立即停止
		cl.attempt.Tries++
		cl.lastErr = stripeerr.Transport(err)
		cl.attempt.Status, cl.attempt.Hint = 0, retry.HintFalse
		return nil, cl.lastErr
	}

	started := time.Now()
	resp, err := c.transport.Send(ctx, httpReq)
	cl.attempt.Tries++

	info := AttemptInfo{
		Method:         cl.req.Method(),
		Path:           cl.req.Path(),
		IdempotencyKey: cl.key,
		Attempt:        cl.attempt.Tries,
		Duration:       time.Since(started),
	}

	var decErr *transport.DecompressError
	if errors.As(err, &decErr) {
		// 响应已到达但无法解压：2xx 说明操作已生效，禁止重放
		cl.lastErr = stripeerr.Deserialize(decErr.Status, "failed to decode response body", err)
		cl.status = decErr.Status
		cl.attempt.Status, cl.attempt.Hint = decErr.Status, retry.HintAbsent
		if decErr.Status >= 200 && decErr.Status < 300 {
			cl.attempt.Hint = retry.HintFalse
		}
		info.Status, info.Hint, info.Err = decErr.Status, cl.attempt.Hint, cl.lastErr
		c.logger.WarnContext(ctx, fmt.Sprintf("🗜️ [请求失败] 第 %d 次尝试响应解压失败: %v", cl.attempt.Tries, err),
			"method", info.Method, "path", info.Path, "status", decErr.Status)
		c.notifyAttempt(info)
		return nil, cl.lastErr
	}
	if err != nil {
		cl.lastErr = stripeerr.Transport(err)
		cl.attempt.Status, cl.attempt.Hint = 0, retry.HintAbsent
		cl.status = 0
		info.Err = cl.lastErr
		c.logger.DebugContext(ctx, fmt.Sprintf("🔌 [请求失败] 第 %d 次尝试传输错误: %v", cl.attempt.Tries, err),
			"method", info.Method, "path", info.Path)
		c.notifyAttempt(info)
		return nil, cl.lastErr
	}

	cl.requestID = resp.RequestID()
	cl.status = resp.Status
	info.Status = resp.Status
	info.RequestID = cl.requestID

	if resp.Status >= 200 && resp.Status < 300 {
		c.logger.DebugContext(ctx, fmt.Sprintf("✅ [请求成功] 第 %d 次尝试", cl.attempt.Tries),
			"method", info.Method, "path", info.Path, "status", resp.Status, "request_id", cl.requestID)
		c.notifyAttempt(info)
		return resp, nil
	}

	cl.lastErr = stripeerr.ParseAPIError(resp.Status, resp.Body)
	cl.attempt.Status = resp.Status
	cl.attempt.Hint = retry.ParseHint(resp.Header.Get(retry.ShouldRetryHeader))
	info.Hint = cl.attempt.Hint
	info.Err = cl.lastErr
	c.logger.DebugContext(ctx, fmt.Sprintf("⚠️ [请求失败] 第 %d 次尝试返回 %d", cl.attempt.Tries, resp.Status),
		"method", info.Method,
		"path", info.Path,
		"request_id", cl.requestID,
		"should_retry", cl.attempt.Hint.String(),
		"error", cl.lastErr.Error())
	c.notifyAttempt(info)
	return nil, cl.lastErr
}

func (c *Client) newHTTPRequest(ctx context.Context, cl *call) (*http.Request, error) {
	var body io.Reader
	if cl.body != nil {
		body = bytes.NewReader(cl.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, cl.req.Method(), cl.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for k, vs := range cl.req.Header() {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	s := cl.settings
	if s.secretKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.secretKey)
	}
	httpReq.Header.Set("Stripe-Version", s.apiVersion)
	httpReq.Header.Set("User-Agent", s.userAgent)
	httpReq.Header.Set("Accept-Encoding", acceptEncoding)
	if len(cl.body) > 0 {
		httpReq.Header.Set("Content-Type", cl.req.ContentType())
	}
	if account := firstNonEmpty(cl.req.StripeAccount(), s.stripeAccount); account != "" {
		httpReq.Header.Set("Stripe-Account", account)
	}
	if cl.key != "" {
		httpReq.Header.Set(retry.IdempotencyKeyHeader, cl.key)
	}
	return httpReq, nil
}

func (c *Client) finish(ctx context.Context, cl *call) error {
	info := CallInfo{
		Method:         cl.req.Method(),
		Path:           cl.req.Path(),
		IdempotencyKey: cl.key,
		Policy:         cl.policy.String(),
		RequestID:      cl.requestID,
		Attempts:       cl.attempt.Tries,
		Status:         cl.status,
		Start:          cl.start,
		Duration:       time.Since(cl.start),
	}

	var err error
	if cl.lastErr != nil {
		err = cl.lastErr
		info.Err = cl.lastErr
		c.logger.WarnContext(ctx, fmt.Sprintf("❌ [请求终止] %s %s 失败: %v", info.Method, info.Path, cl.lastErr),
			"attempts", info.Attempts,
			"policy", info.Policy,
			"kind", cl.lastErr.Kind.String(),
			"request_id", info.RequestID,
			"duration", info.Duration)
	} else {
		c.logger.DebugContext(ctx, fmt.Sprintf("✅ [请求完成] %s %s", info.Method, info.Path),
			"attempts", info.Attempts, "duration", info.Duration)
	}

	for _, o := range c.observers {
		o.OnComplete(info)
	}
	return err
}

func (c *Client) notifyAttempt(info AttemptInfo) {
	for _, o := range c.observers {
		o.OnAttempt(info)
	}
}

// resolveIdempotencyKey 每次逻辑调用只解析一次，所有尝试复用同一个键。
// 请求上显式设置的键优先；策略生成的键只用于 POST，GET/DELETE 上 Stripe 会忽略它
func resolveIdempotencyKey(req request.Request, policy retry.Policy) string {
	if key := req.IdempotencyKey(); key != "" {
		return key
	}
	if policy.Kind() == retry.KindRetry && req.Method() != http.MethodPost {
		return ""
	}
	key, _ := policy.IdempotencyKey()
	return key
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
