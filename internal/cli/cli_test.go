package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stripekit/internal/stripemock"
	"stripekit/internal/tracking"
)

// run executes the root command with args and returns stdout.
func run(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.ExecuteContext(ctx)
	if err != nil {
		t.Logf("stderr:\n%s", stderr.String())
	}
	return stdout.String(), err
}

// writeConfig writes a config pointing at baseURL with fast retries and a
// file-backed request log, and returns its path.
func writeConfig(t *testing.T, baseURL string, requestLog bool) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`api:
  base_url: %s
  secret_key: sk_test_123
retry:
  strategy: retry
  max_attempts: 3
  base_delay: 1ms
  max_delay: 2ms
  multiplier: 2
logging:
  level: warn
request_log:
  enabled: %t
  database_path: %s
  flush_interval: 1h
`, baseURL, requestLog, filepath.Join(dir, "requests.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func startMock(t *testing.T, mock *stripemock.Server) string {
	t.Helper()
	srv := mock.Start()
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestRequestCommand(t *testing.T) {
	mock := stripemock.New(nil)
	mock.Handle(http.MethodGet, "/v1/balance", stripemock.JSON(http.StatusOK, map[string]any{"object": "balance", "livemode": false}))
	mock.Handle(http.MethodPost, "/v1/refunds",
		stripemock.Status(http.StatusServiceUnavailable),
		stripemock.JSON(http.StatusOK, map[string]string{"id": "re_1", "object": "refund"}),
	)
	mock.Handle(http.MethodGet, "/v1/refunds/re_missing",
		stripemock.APIError(http.StatusNotFound, "invalid_request_error", "resource_missing", "No such refund: 're_missing'"))
	cfg := writeConfig(t, startMock(t, mock), false)
	ctx := context.Background()

	t.Run("GET输出缩进JSON", func(t *testing.T) {
		out, err := run(t, ctx, "--config", cfg, "request", "get", "/v1/balance", "-d", "expand[]=available")
		require.NoError(t, err)
		assert.Contains(t, out, `"object": "balance"`)

		hits := mock.Hits(http.MethodGet, "/v1/balance")
		require.Len(t, hits, 1)
		assert.Equal(t, "Bearer sk_test_123", hits[0].Header.Get("Authorization"))
		q, err := url.ParseQuery(hits[0].RawQuery)
		require.NoError(t, err)
		assert.Equal(t, "available", q.Get("expand[]"))
	})

	t.Run("POST重试复用幂等键", func(t *testing.T) {
		out, err := run(t, ctx, "--config", cfg, "request", "POST", "/v1/refunds",
			"-d", "charge=ch_1", "-d", "metadata[order]=42", "--retries", "3", "--raw")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"re_1","object":"refund"}`, out)

		hits := mock.Hits(http.MethodPost, "/v1/refunds")
		require.Len(t, hits, 2)
		key := hits[0].Header.Get("Idempotency-Key")
		assert.NotEmpty(t, key)
		assert.Equal(t, key, hits[1].Header.Get("Idempotency-Key"))
		assert.Equal(t, hits[0].Body, hits[1].Body)

		form, err := url.ParseQuery(string(hits[0].Body))
		require.NoError(t, err)
		assert.Equal(t, "ch_1", form.Get("charge"))
		assert.Equal(t, "42", form.Get("metadata[order]"))
	})

	t.Run("API错误", func(t *testing.T) {
		_, err := run(t, ctx, "--config", cfg, "request", "GET", "/v1/refunds/re_missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "No such refund")
		assert.Len(t, mock.Hits(http.MethodGet, "/v1/refunds/re_missing"), 1)
	})

	t.Run("参数校验", func(t *testing.T) {
		_, err := run(t, ctx, "--config", cfg, "request", "PUT", "/v1/balance")
		assert.ErrorContains(t, err, "unsupported method")
		_, err = run(t, ctx, "--config", cfg, "request", "POST", "/v1/refunds", "-d", "novalue")
		assert.ErrorContains(t, err, "key=value")
		_, err = run(t, ctx, "--config", cfg, "request", "GET", "/v1/balance", "--once", "--no-retry")
		assert.Error(t, err)

		before := len(mock.Hits(http.MethodGet, "/v1/balance"))
		for _, n := range []string{"0", "-1"} {
			_, err = run(t, ctx, "--config", cfg, "request", "GET", "/v1/balance", "--retries", n)
			assert.ErrorContains(t, err, "--retries must be at least 1")
		}
		_, err = run(t, ctx, "--config", cfg, "refunds", "list", "--retries", "0")
		assert.ErrorContains(t, err, "--retries must be at least 1")
		// 参数错误时不发出请求
		assert.Len(t, mock.Hits(http.MethodGet, "/v1/balance"), before)
	})

	t.Run("指定的配置文件不存在", func(t *testing.T) {
		_, err := run(t, ctx, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "request", "GET", "/v1/balance")
		assert.Error(t, err)
	})
}

func TestRefundsCommands(t *testing.T) {
	mock := stripemock.New(nil).WithFixtures()
	cfg := writeConfig(t, startMock(t, mock), false)
	ctx := context.Background()

	create := func(args ...string) map[string]any {
		t.Helper()
		out, err := run(t, ctx, append([]string{"--config", cfg, "refunds", "create"}, args...)...)
		require.NoError(t, err)
		var refund map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &refund))
		return refund
	}

	pending := create("--charge", "ch_1", "--amount", "4242", "--reason", "requested_by_customer", "--metadata", "order=42")
	id := pending["id"].(string)
	assert.Equal(t, "requires_action", pending["status"])
	assert.Equal(t, "requested_by_customer", pending["reason"])
	create("--charge", "ch_1", "--idempotency-key", "refund-ch_1-second")
	hits := mock.Hits(http.MethodPost, "/v1/refunds")
	require.Len(t, hits, 2)
	assert.Equal(t, "refund-ch_1-second", hits[1].Header.Get("Idempotency-Key"))

	t.Run("get", func(t *testing.T) {
		out, err := run(t, ctx, "--config", cfg, "refunds", "get", id)
		require.NoError(t, err)
		assert.Contains(t, out, id)
	})

	t.Run("list表格", func(t *testing.T) {
		out, err := run(t, ctx, "--config", cfg, "refunds", "list", "--charge", "ch_1")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "ID"))
		assert.Contains(t, out, id)
		assert.Contains(t, out, "4242 usd")
	})

	t.Run("list --all 跟随分页", func(t *testing.T) {
		out, err := run(t, ctx, "--config", cfg, "refunds", "list", "--all", "--limit", "1", "--json")
		require.NoError(t, err)
		var refunds []map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &refunds))
		assert.Len(t, refunds, 2)
		assert.Len(t, mock.Hits(http.MethodGet, "/v1/refunds"), 3)
	})

	t.Run("update", func(t *testing.T) {
		out, err := run(t, ctx, "--config", cfg, "refunds", "update", id, "--metadata", "note=hi")
		require.NoError(t, err)
		assert.Contains(t, out, `"note": "hi"`)
	})

	t.Run("cancel", func(t *testing.T) {
		out, err := run(t, ctx, "--config", cfg, "refunds", "cancel", id)
		require.NoError(t, err)
		assert.Contains(t, out, `"status": "canceled"`)

		_, err = run(t, ctx, "--config", cfg, "refunds", "cancel", id)
		assert.ErrorContains(t, err, "cannot be canceled")
	})

	t.Run("参数校验", func(t *testing.T) {
		_, err := run(t, ctx, "--config", cfg, "refunds", "create", "--amount", "5")
		assert.Error(t, err)
		_, err = run(t, ctx, "--config", cfg, "refunds", "create", "--charge", "ch_1", "--reason", "bored")
		assert.ErrorContains(t, err, "invalid refund reason")
		_, err = run(t, ctx, "--config", cfg, "refunds", "list", "--limit", "0")
		assert.Error(t, err)
	})
}

func TestLogsCommand(t *testing.T) {
	mock := stripemock.New(nil)
	mock.Handle(http.MethodGet, "/v1/balance", stripemock.JSON(http.StatusOK, map[string]string{"object": "balance"}))
	mock.Handle(http.MethodPost, "/v1/refunds",
		stripemock.APIError(http.StatusPaymentRequired, "card_error", "card_declined", "Your card was declined."))
	base := startMock(t, mock)
	cfg := writeConfig(t, base, true)
	ctx := context.Background()

	_, err := run(t, ctx, "--config", cfg, "request", "GET", "/v1/balance")
	require.NoError(t, err)
	_, err = run(t, ctx, "--config", cfg, "request", "POST", "/v1/refunds", "-d", "charge=ch_1")
	require.Error(t, err)

	out, err := run(t, ctx, "--config", cfg, "logs")
	require.NoError(t, err)
	assert.Contains(t, out, "/v1/balance")
	assert.Contains(t, out, "api/card_declined")
	assert.Contains(t, out, "2 of 2 records")

	out, err = run(t, ctx, "--config", cfg, "logs", "--status", "failed", "--json")
	require.NoError(t, err)
	var logs []tracking.RequestLog
	require.NoError(t, json.Unmarshal([]byte(out), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "card_declined", logs[0].ErrorCode)
	assert.Equal(t, http.StatusPaymentRequired, logs[0].HTTPStatus)

	out, err = run(t, ctx, "--config", cfg, "logs", "--summary", "--since", "1h", "--json")
	require.NoError(t, err)
	var summary tracking.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.EqualValues(t, 2, summary.Total)
	assert.EqualValues(t, 1, summary.Failed)
	assert.EqualValues(t, 1, summary.ErrorCodes["card_declined"])

	out, err = run(t, ctx, "--config", cfg, "logs", "--summary")
	require.NoError(t, err)
	assert.Contains(t, out, "50.0%")

	_, err = run(t, ctx, "--config", cfg, "logs", "--status", "weird")
	assert.Error(t, err)

	disabled := writeConfig(t, base, false)
	_, err = run(t, ctx, "--config", disabled, "logs")
	assert.ErrorContains(t, err, "request log is disabled")
}

func TestProbeCommand(t *testing.T) {
	mock := stripemock.New(nil)
	mock.Handle(http.MethodGet, "/v1/balance", stripemock.JSON(http.StatusOK, map[string]string{"object": "balance"}))
	mock.Handle(http.MethodGet, "/v1/down", stripemock.Status(http.StatusBadGateway))
	cfg := writeConfig(t, startMock(t, mock), false)

	t.Run("once", func(t *testing.T) {
		out, err := run(t, context.Background(), "--config", cfg, "probe", "--once")
		require.NoError(t, err)
		assert.Contains(t, out, "✅ healthy /v1/balance status=200")
	})

	t.Run("持续探测直到取消", func(t *testing.T) {
		before := len(mock.Hits(http.MethodGet, "/v1/balance"))
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()

		_, err := run(t, ctx, "--config", cfg, "probe", "--interval", "20ms", "--report-interval", "50ms", "--listen", "127.0.0.1:0")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(mock.Hits(http.MethodGet, "/v1/balance"))-before, 2)
	})
}

func TestProbeOnceUnhealthy(t *testing.T) {
	mock := stripemock.New(nil)
	mock.Handle(http.MethodGet, "/v1/balance", stripemock.Status(http.StatusBadGateway))
	cfg := writeConfig(t, startMock(t, mock), false)

	out, err := run(t, context.Background(), "--config", cfg, "probe", "--once")
	require.Error(t, err)
	assert.Contains(t, out, "❌ unhealthy /v1/balance status=502")
	// 探测从不重试
	assert.Len(t, mock.Hits(http.MethodGet, "/v1/balance"), 1)
}

func TestConfigCommands(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "")
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	ctx := context.Background()

	out, err := run(t, ctx, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = run(t, ctx, "--config", path, "config", "init")
	assert.ErrorContains(t, err, "already exists")
	_, err = run(t, ctx, "--config", path, "config", "init", "--force")
	assert.NoError(t, err)

	out, err = run(t, ctx, "--config", path, "--api-key", "sk_test_abcdefghijklmnop", "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "base_url: https://api.stripe.com/")
	assert.Contains(t, out, "sk_test_")
	assert.NotContains(t, out, "abcdefghijklmnop")
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, context.Background(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "stripekit dev")
	assert.Contains(t, out, "Commit: unknown")
}

func TestMockCommand(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := run(t, ctx, "mock", "--addr", "127.0.0.1:0")
	assert.NoError(t, err)
}

func TestParseData(t *testing.T) {
	values, err := parseData([]string{"a=1", "a=2", "metadata[k]=x=y", "empty="})
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, values["a"])
	assert.Equal(t, "x=y", values.Get("metadata[k]"))
	assert.Equal(t, "", values.Get("empty"))

	_, err = parseData([]string{"=v"})
	assert.Error(t, err)
}
