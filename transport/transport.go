// Package transport builds the HTTP client used to talk to the Stripe API.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/net/proxy"

	"stripekit/config"
)

// CreateTransport creates an HTTP transport with timeouts, connection pooling and
// the configured proxy.
func CreateTransport(cfg config.TransportConfig) (*http.Transport, error) {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		// 自行处理 Content-Encoding，以便支持 br
		DisableCompression: true,
	}

	if !cfg.Proxy.Enabled {
		return transport, nil
	}

	proxyURL, err := buildProxyURL(cfg.Proxy)
	if err != nil {
		return nil, err
	}

	switch cfg.Proxy.Type {
	case "http", "https":
		transport.Proxy = http.ProxyURL(proxyURL)
	case "socks5":
		var auth *proxy.Auth
		if cfg.Proxy.Username != "" {
			auth = &proxy.Auth{User: cfg.Proxy.Username, Password: cfg.Proxy.Password}
		}
		dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		transport.Proxy = nil
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = cd.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported proxy type: %s", cfg.Proxy.Type)
	}

	return transport, nil
}

// CreateClient wraps CreateTransport in an http.Client whose timeout bounds a single attempt.
func CreateClient(cfg config.TransportConfig) (*http.Client, error) {
	transport, err := CreateTransport(cfg)
	if err != nil {
		return nil, err
	}
	return &http.Client{Transport: transport, Timeout: cfg.Timeout}, nil
}

// GetProxyInfo describes the active proxy for startup logs. Credentials are never included.
func GetProxyInfo(cfg config.TransportConfig) string {
	if !cfg.Proxy.Enabled {
		return "代理未启用"
	}
	proxyURL, err := buildProxyURL(cfg.Proxy)
	if err != nil {
		return fmt.Sprintf("代理配置无效: %v", err)
	}
	info := fmt.Sprintf("代理已启用: %s://%s", cfg.Proxy.Type, proxyURL.Host)
	if cfg.Proxy.Username != "" || proxyURL.User != nil {
		info += " (认证)"
	}
	return info
}

func buildProxyURL(p config.ProxyConfig) (*url.URL, error) {
	if p.URL != "" {
		u, err := url.Parse(p.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("invalid proxy URL %q: missing host", p.URL)
		}
		return u, nil
	}
	if p.Host == "" || p.Port == 0 {
		return nil, fmt.Errorf("proxy URL or host:port must be specified")
	}

	scheme := p.Type
	if scheme == "" {
		scheme = "http"
	}
	u := &url.URL{Scheme: scheme, Host: net.JoinHostPort(p.Host, strconv.Itoa(p.Port))}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u, nil
}
