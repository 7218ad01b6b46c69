// Package client executes Stripe API requests with retries, idempotency keys and
// error classification.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"stripekit/config"
	"stripekit/retry"
	"stripekit/transport"
)

// Transport sends one HTTP request and returns the fully read response.
type Transport interface {
	Send(ctx context.Context, req *http.Request) (*transport.Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *http.Request) (*transport.Response, error)

func (f TransportFunc) Send(ctx context.Context, req *http.Request) (*transport.Response, error) {
	return f(ctx, req)
}

// Options configures New. Zero fields fall back to the defaults of the config package.
type Options struct {
	BaseURL       string
	SecretKey     string
	APIVersion    string
	UserAgent     string
	StripeAccount string
	Policy        retry.Policy
	Transport     Transport
	Logger        *slog.Logger
	Observers     []Observer
}

// settings 可热更新的部分，整体替换，进行中的调用继续使用开始时的快照
type settings struct {
	baseURL       string
	secretKey     string
	apiVersion    string
	userAgent     string
	stripeAccount string
	policy        retry.Policy
}

// Client is safe for concurrent use. Create it once and share it.
type Client struct {
	settings  atomic.Pointer[settings]
	transport Transport
	logger    *slog.Logger
	observers []Observer
}

// New creates a client from opts.
func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Transport == nil {
		opts.Transport = transport.NewWithClient(http.DefaultClient, opts.Logger)
	}

	defaults := config.Default()
	s := &settings{
		baseURL:       firstNonEmpty(opts.BaseURL, defaults.API.BaseURL),
		secretKey:     opts.SecretKey,
		apiVersion:    firstNonEmpty(opts.APIVersion, defaults.API.APIVersion),
		userAgent:     firstNonEmpty(opts.UserAgent, defaults.API.UserAgent),
		stripeAccount: opts.StripeAccount,
		policy:        opts.Policy,
	}
	if s.policy.IsZero() {
		s.policy = retry.FromConfig(defaults.Retry)
	}

	c := &Client{
		transport: opts.Transport,
		logger:    opts.Logger,
		observers: append([]Observer(nil), opts.Observers...),
	}
	c.settings.Store(s)
	return c
}

// NewFromConfig creates a client and its HTTP transport from cfg.
func NewFromConfig(cfg *config.Config, logger *slog.Logger, observers ...Observer) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tr, err := transport.New(cfg.Transport, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	return New(Options{
		BaseURL:       cfg.API.BaseURL,
		SecretKey:     cfg.API.SecretKey,
		APIVersion:    cfg.API.APIVersion,
		UserAgent:     cfg.API.UserAgent,
		StripeAccount: cfg.API.StripeAccount,
		Policy:        retry.FromConfig(cfg.Retry),
		Transport:     tr,
		Logger:        logger,
		Observers:     observers,
	}), nil
}

// Apply swaps in the api and retry sections of cfg. Calls already in flight keep
// the settings they started with. Transport changes need a new client.
func (c *Client) Apply(cfg *config.Config) {
	c.settings.Store(&settings{
		baseURL:       cfg.API.BaseURL,
		secretKey:     cfg.API.SecretKey,
		apiVersion:    cfg.API.APIVersion,
		userAgent:     cfg.API.UserAgent,
		stripeAccount: cfg.API.StripeAccount,
		policy:        retry.FromConfig(cfg.Retry),
	})
	c.logger.Info("🔄 客户端配置已更新",
		"base_url", cfg.API.BaseURL,
		"api_key", config.MaskKey(cfg.API.SecretKey),
		"policy", retry.FromConfig(cfg.Retry).String())
}

// DefaultPolicy is used for calls made with the zero retry.Policy.
func (c *Client) DefaultPolicy() retry.Policy {
	return c.settings.Load().policy
}

func (c *Client) BaseURL() string {
	return c.settings.Load().baseURL
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
