package transport

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"

	"stripekit/config"
)

// Response 一次尝试的完整响应，响应体已读取并解压
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// RequestID returns the Request-Id header Stripe assigns to every response.
func (r *Response) RequestID() string {
	if r == nil {
		return ""
	}
	return r.Header.Get("Request-Id")
}

// DecompressError reports a response that arrived but whose body could not be
// decoded according to its Content-Encoding.
type DecompressError struct {
	Status   int
	Encoding string
	Err      error
}

func (e *DecompressError) Error() string {
	return fmt.Sprintf("failed to decompress %s content (status %d): %v", e.Encoding, e.Status, e.Err)
}

func (e *DecompressError) Unwrap() error { return e.Err }

// HTTPTransport sends requests with a shared http.Client.
type HTTPTransport struct {
	client *http.Client
	logger *slog.Logger
}

// New builds an HTTPTransport from the transport section of the configuration.
func New(cfg config.TransportConfig, logger *slog.Logger) (*HTTPTransport, error) {
	client, err := CreateClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, logger), nil
}

// NewWithClient wraps an existing http.Client, e.g. the one from httptest.Server.
func NewWithClient(client *http.Client, logger *slog.Logger) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransport{client: client, logger: logger}
}

// Send performs one HTTP exchange and reads the whole body.
func (t *HTTPTransport) Send(ctx context.Context, req *http.Request) (*Response, error) {
	resp, err := t.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	encoding := resp.Header.Get("Content-Encoding")
	body, err := t.decompress(ctx, encoding, raw)
	if err != nil {
		return nil, &DecompressError{Status: resp.StatusCode, Encoding: encoding, Err: err}
	}
	header := resp.Header.Clone()
	if header.Get("Content-Encoding") != "" && !bytes.Equal(body, raw) {
		header.Del("Content-Encoding")
		header.Del("Content-Length")
	}

	return &Response{Status: resp.StatusCode, Header: header, Body: body}, nil
}

func (t *HTTPTransport) decompress(ctx context.Context, encoding string, body []byte) ([]byte, error) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	if encoding == "" || encoding == "identity" || len(body) == 0 {
		return body, nil
	}

	var reader io.Reader
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		// HTTP 的 deflate 是 zlib 封装；部分服务端发送裸 DEFLATE，头校验失败时回退
		zr, err := zlib.NewReader(bytes.NewReader(body))
		switch {
		case err == nil:
			defer zr.Close()
			reader = zr
		case errors.Is(err, zlib.ErrHeader):
			fl := flate.NewReader(bytes.NewReader(body))
			defer fl.Close()
			reader = fl
		default:
			return nil, fmt.Errorf("failed to create zlib reader: %w", err)
		}
	case "br":
		reader = brotli.NewReader(bytes.NewReader(body))
	default:
		t.logger.WarnContext(ctx, fmt.Sprintf("⚠️ 未知的响应编码 %s，按原样返回", encoding))
		return body, nil
	}

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	t.logger.DebugContext(ctx, fmt.Sprintf("🗜️ [%s] 响应解压完成: %d -> %d 字节", strings.ToUpper(encoding), len(body), len(decompressed)))
	return decompressed, nil
}
