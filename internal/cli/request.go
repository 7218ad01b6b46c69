package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"stripekit/request"
	"stripekit/retry"
)

// policyFlags 所有发起调用的命令共用的重试参数
type policyFlags struct {
	retries int
	once    bool
	noRetry bool
	flags   *pflag.FlagSet
}

func (p *policyFlags) register(cmd *cobra.Command) {
	p.flags = cmd.Flags()
	cmd.Flags().IntVar(&p.retries, "retries", 0, "retry up to N attempts using the configured backoff")
	cmd.Flags().BoolVar(&p.once, "once", false, "send exactly one attempt")
	cmd.Flags().BoolVar(&p.noRetry, "no-retry", false, "send one attempt and never retry")
	cmd.MarkFlagsMutuallyExclusive("retries", "once", "no-retry")
}

// policy 未指定任何参数时返回零值，即使用配置中的默认策略
func (p *policyFlags) policy(a *app) (retry.Policy, error) {
	switch {
	case p.once:
		return retry.Once(), nil
	case p.noRetry:
		return retry.NoRetry(), nil
	case p.retries < 1 && p.flags != nil && p.flags.Changed("retries"):
		return retry.Policy{}, fmt.Errorf("--retries must be at least 1, got %d", p.retries)
	case p.retries > 0:
		rc := a.cfg.Retry
		rc.Strategy = "retry"
		rc.MaxAttempts = p.retries
		return retry.FromConfig(rc), nil
	default:
		return retry.Policy{}, nil
	}
}

func newRequestCommand(a *app) *cobra.Command {
	var (
		data           []string
		idempotencyKey string
		account        string
		raw            bool
		pf             policyFlags
	)

	cmd := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "Send an API request and print the response body",
		Example: `  stripekit request GET /v1/balance
  stripekit request POST /v1/refunds -d charge=ch_123 -d "metadata[order]=42" --retries 3
  stripekit request GET /v1/refunds -d limit=3 --no-retry`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := strings.ToUpper(args[0])
			switch method {
			case http.MethodGet, http.MethodPost, http.MethodDelete:
			default:
				return fmt.Errorf("unsupported method %q, want GET, POST or DELETE", args[0])
			}

			values, err := parseData(data)
			if err != nil {
				return err
			}
			policy, err := pf.policy(a)
			if err != nil {
				return err
			}

			req := request.New(method, args[1])
			if len(values) > 0 {
				if method == http.MethodPost {
					req = req.WithBody(request.ContentTypeForm, []byte(values.Encode()))
				} else {
					req = req.WithQuery(values)
				}
			}
			if idempotencyKey != "" {
				req = req.WithIdempotencyKey(idempotencyKey)
			}
			if account != "" {
				req = req.WithStripeAccount(account)
			}

			c, tracker, err := a.newClient()
			if err != nil {
				return err
			}
			defer a.closeTracker(tracker)

			resp, err := c.Do(cmd.Context(), req, policy)
			if err != nil {
				return err
			}
			a.logger.Debug("📨 响应",
				"status", resp.Status,
				"request_id", resp.RequestID())
			return writeBody(cmd.OutOrStdout(), resp.Body, raw)
		},
	}

	cmd.Flags().StringArrayVarP(&data, "data", "d", nil, "request parameter key=value, repeatable")
	cmd.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "Idempotency-Key header (POST only; generated when retrying)")
	cmd.Flags().StringVar(&account, "stripe-account", "", "connected account id sent as Stripe-Account")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the body as received instead of indenting it")
	pf.register(cmd)
	return cmd
}

// parseData 解析 -d key=value 参数，保持 Stripe 的方括号嵌套写法原样传递
func parseData(pairs []string) (url.Values, error) {
	values := url.Values{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", pair)
		}
		values.Add(key, value)
	}
	return values, nil
}

// writeBody 输出响应体，JSON 默认缩进
func writeBody(w io.Writer, body []byte, raw bool) error {
	if !raw {
		var buf bytes.Buffer
		if err := json.Indent(&buf, body, "", "  "); err == nil {
			buf.WriteByte('\n')
			_, err = w.Write(buf.Bytes())
			return err
		}
	}
	_, err := w.Write(body)
	return err
}

// writeJSON 输出解码后的资源对象
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
