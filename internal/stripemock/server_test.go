package stripemock

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doRequest(t *testing.T, method, rawURL, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, rawURL, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestServer_RespondersPlayInOrder(t *testing.T) {
	mock := New(nil)
	mock.Handle(http.MethodGet, "/v1/refunds/:id",
		Status(http.StatusInternalServerError),
		JSON(http.StatusOK, map[string]string{"id": "re_1"}).Header("X-Extra", "yes"),
	)
	srv := mock.Start()
	defer srv.Close()

	resp, _ := doRequest(t, http.MethodGet, srv.URL+"/v1/refunds/re_1", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	for i := 0; i < 2; i++ {
		resp, body := doRequest(t, http.MethodGet, srv.URL+"/v1/refunds/re_1", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode, "last responder repeats")
		assert.Equal(t, "yes", resp.Header.Get("X-Extra"))
		assert.NotEmpty(t, resp.Header.Get("Request-Id"))
		assert.JSONEq(t, `{"id":"re_1"}`, string(body))
	}

	assert.Len(t, mock.Hits(http.MethodGet, "/v1/refunds/re_1"), 3)
	assert.Empty(t, mock.Hits(http.MethodPost, "/v1/refunds/re_1"))
}

func TestServer_UnscriptedRouteIsStripe404(t *testing.T) {
	mock := New(nil)
	srv := mock.Start()
	defer srv.Close()

	resp, body := doRequest(t, http.MethodGet, srv.URL+"/v1/nothing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var env struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(body, &env))
	assert.Equal(t, "invalid_request_error", env.Error.Type)
	assert.Contains(t, env.Error.Message, "GET: /v1/nothing")
}

func TestServer_RecordsHeadersAndBody(t *testing.T) {
	mock := New(nil)
	mock.Handle(http.MethodPost, "/v1/refunds", JSON(http.StatusOK, map[string]string{"id": "re_1"}))
	srv := mock.Start()
	defer srv.Close()

	doRequest(t, http.MethodPost, srv.URL+"/v1/refunds?expand[]=charge", "amount=500")

	hits := mock.Hits(http.MethodPost, "/v1/refunds")
	require.Len(t, hits, 1)
	assert.Equal(t, "amount=500", string(hits[0].Body))
	assert.Equal(t, "application/x-www-form-urlencoded", hits[0].Header.Get("Content-Type"))
	assert.Contains(t, hits[0].RawQuery, "expand")

	mock.Reset()
	assert.Empty(t, mock.AllHits())
}

func TestServer_ExactRouteWinsOverParam(t *testing.T) {
	mock := New(nil)
	mock.Handle(http.MethodGet, "/v1/refunds/:id", Status(http.StatusTeapot))
	mock.Handle(http.MethodGet, "/v1/refunds/re_special", Status(http.StatusAccepted))
	srv := mock.Start()
	defer srv.Close()

	resp, _ := doRequest(t, http.MethodGet, srv.URL+"/v1/refunds/re_special", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/v1/refunds/re_other", "")
	assert.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestServer_Delay(t *testing.T) {
	mock := New(nil)
	mock.Handle(http.MethodGet, "/v1/balance", Status(http.StatusOK).Delay(100*time.Millisecond))
	srv := mock.Start()
	defer srv.Close()

	start := time.Now()
	resp, _ := doRequest(t, http.MethodGet, srv.URL+"/v1/balance", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestFixtures_RefundLifecycle(t *testing.T) {
	mock := New(nil).WithFixtures()
	srv := mock.Start()
	defer srv.Close()

	form := url.Values{"charge": {"ch_1"}, "amount": {"4242"}}
	resp, body := doRequest(t, http.MethodPost, srv.URL+"/v1/refunds", form.Encode())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var refund map[string]any
	require.NoError(t, json.Unmarshal(body, &refund))
	id := refund["id"].(string)
	assert.Equal(t, "requires_action", refund["status"])

	resp, body = doRequest(t, http.MethodPost, srv.URL+"/v1/refunds/"+id+"/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &refund))
	assert.Equal(t, "canceled", refund["status"])

	// 已取消的退款不能再次取消
	resp, _ = doRequest(t, http.MethodPost, srv.URL+"/v1/refunds/"+id+"/cancel", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doRequest(t, http.MethodGet, srv.URL+"/v1/refunds?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Data    []map[string]any `json:"data"`
		HasMore bool             `json:"has_more"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list.Data, 1)
	assert.False(t, list.HasMore)

	resp, _ = doRequest(t, http.MethodGet, srv.URL+"/v1/refunds/re_missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doRequest(t, http.MethodPost, srv.URL+"/v1/refunds", "amount=5")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Len(t, mock.Hits(http.MethodPost, "/v1/refunds"), 2)
}

func TestServer_Run(t *testing.T) {
	mock := New(nil).WithFixtures()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- mock.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
