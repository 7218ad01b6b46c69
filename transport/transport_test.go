package transport

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stripekit/config"
)

const refundJSON = `{"id":"re_123","object":"refund","amount":500,"status":"succeeded"}`

func compress(t *testing.T, encoding string, data string) []byte {
	t.Helper()
	var buf bytes.Buffer
	switch encoding {
	case "gzip":
		w := gzip.NewWriter(&buf)
		w.Write([]byte(data))
		require.NoError(t, w.Close())
	case "deflate":
		w := zlib.NewWriter(&buf)
		w.Write([]byte(data))
		require.NoError(t, w.Close())
	case "deflate-raw":
		w, err := flate.NewWriter(&buf, flate.DefaultCompression)
		require.NoError(t, err)
		w.Write([]byte(data))
		require.NoError(t, w.Close())
	case "br":
		w := brotli.NewWriter(&buf)
		w.Write([]byte(data))
		require.NoError(t, w.Close())
	default:
		buf.WriteString(data)
	}
	return buf.Bytes()
}

func TestHTTPTransport_Decompression(t *testing.T) {
	for _, encoding := range []string{"", "gzip", "deflate", "br", "zstd-unknown"} {
		t.Run("编码_"+encoding, func(t *testing.T) {
			payload := compress(t, encoding, refundJSON)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if encoding != "" {
					w.Header().Set("Content-Encoding", encoding)
				}
				w.Header().Set("Request-Id", "req_abc")
				w.WriteHeader(http.StatusOK)
				w.Write(payload)
			}))
			defer server.Close()

			tr := NewWithClient(server.Client(), nil)
			req, err := http.NewRequest(http.MethodGet, server.URL+"/v1/refunds/re_123", nil)
			require.NoError(t, err)

			resp, err := tr.Send(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.Status)
			assert.Equal(t, "req_abc", resp.RequestID())
			if encoding == "zstd-unknown" {
				// 未知编码原样返回
				assert.Equal(t, payload, resp.Body)
				return
			}
			assert.JSONEq(t, refundJSON, string(resp.Body))
			assert.Empty(t, resp.Header.Get("Content-Encoding"))
		})
	}
}

func TestHTTPTransport_CorruptGzip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Write([]byte("definitely not gzip"))
	}))
	defer server.Close()

	tr := NewWithClient(server.Client(), nil)
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	_, err := tr.Send(context.Background(), req)
	require.Error(t, err)

	var decErr *DecompressError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, http.StatusOK, decErr.Status)
	assert.Equal(t, "gzip", decErr.Encoding)
}

func TestHTTPTransport_Deflate(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"zlib封装", compress(t, "deflate", refundJSON)},
		{"裸DEFLATE回退", compress(t, "deflate-raw", refundJSON)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Encoding", "deflate")
				w.WriteHeader(http.StatusOK)
				w.Write(tt.payload)
			}))
			defer server.Close()

			tr := NewWithClient(server.Client(), nil)
			req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/refunds", nil)
			resp, err := tr.Send(context.Background(), req)
			require.NoError(t, err)
			assert.JSONEq(t, refundJSON, string(resp.Body))
		})
	}

	t.Run("zlib校验和损坏", func(t *testing.T) {
		payload := compress(t, "deflate", refundJSON)
		payload[len(payload)-1] ^= 0xff
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Encoding", "deflate")
			w.Write(payload)
		}))
		defer server.Close()

		tr := NewWithClient(server.Client(), nil)
		req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
		_, err := tr.Send(context.Background(), req)
		assert.ErrorIs(t, err, zlib.ErrChecksum)
	})
}

func TestHTTPTransport_ContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	tr := NewWithClient(server.Client(), nil)
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	start := time.Now()
	_, err := tr.Send(ctx, req)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCreateTransport_Proxy(t *testing.T) {
	base := config.Default().Transport

	t.Run("无代理", func(t *testing.T) {
		tr, err := CreateTransport(base)
		require.NoError(t, err)
		assert.True(t, tr.DisableCompression)
		assert.Equal(t, 10, tr.MaxIdleConnsPerHost)
		assert.Equal(t, "代理未启用", GetProxyInfo(base))
	})

	t.Run("HTTP代理", func(t *testing.T) {
		cfg := base
		cfg.Proxy = config.ProxyConfig{Enabled: true, Type: "http", Host: "127.0.0.1", Port: 8080}
		tr, err := CreateTransport(cfg)
		require.NoError(t, err)

		req, _ := http.NewRequest(http.MethodGet, "https://api.stripe.com/v1/balance", nil)
		proxyURL, err := tr.Proxy(req)
		require.NoError(t, err)
		assert.Equal(t, "http://127.0.0.1:8080", proxyURL.String())
		assert.Equal(t, "代理已启用: http://127.0.0.1:8080", GetProxyInfo(cfg))
	})

	t.Run("SOCKS5代理带认证", func(t *testing.T) {
		cfg := base
		cfg.Proxy = config.ProxyConfig{Enabled: true, Type: "socks5", URL: "socks5://127.0.0.1:1080", Username: "u", Password: "p"}
		tr, err := CreateTransport(cfg)
		require.NoError(t, err)
		assert.Nil(t, tr.Proxy)
		assert.NotNil(t, tr.DialContext)
		info := GetProxyInfo(cfg)
		assert.Contains(t, info, "socks5://127.0.0.1:1080")
		assert.Contains(t, info, "认证")
		assert.NotContains(t, info, "p@")
	})

	t.Run("无效代理", func(t *testing.T) {
		cfg := base
		cfg.Proxy = config.ProxyConfig{Enabled: true, Type: "http"}
		_, err := CreateTransport(cfg)
		assert.Error(t, err)
	})
}

func TestCreateClient_Timeout(t *testing.T) {
	cfg := config.Default().Transport
	cfg.Timeout = 3 * time.Second
	client, err := CreateClient(cfg)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, client.Timeout)
}
