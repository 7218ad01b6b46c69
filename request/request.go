// Package request describes a single logical Stripe API call independently of how
// many times it is sent.
package request

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	ContentTypeForm = "application/x-www-form-urlencoded"
	ContentTypeJSON = "application/json"
)

// Request 一次逻辑调用的完整描述。构造完成后不可变，With* 方法返回新值，
// 因此同一个 Request 可以安全地在多次尝试和多个 goroutine 之间共享
type Request struct {
	method         string
	path           string
	query          url.Values
	body           []byte
	contentType    string
	idempotencyKey string
	stripeAccount  string
	header         http.Header
}

// New creates a request for method and path. The path is relative to the API base
// URL, e.g. "/v1/refunds".
func New(method, path string) Request {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return Request{method: strings.ToUpper(method), path: path}
}

func Get(path string) Request    { return New(http.MethodGet, path) }
func Post(path string) Request   { return New(http.MethodPost, path) }
func Delete(path string) Request { return New(http.MethodDelete, path) }

// Pathf builds a path from format, escaping every argument as a single path segment.
func Pathf(format string, ids ...string) string {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = url.PathEscape(id)
	}
	return fmt.Sprintf(format, args...)
}

// WithQuery returns a copy of r with values merged into its query string.
func (r Request) WithQuery(values url.Values) Request {
	q := cloneValues(r.query)
	for k, vs := range values {
		q[k] = append(q[k], vs...)
	}
	r.query = q
	return r
}

// WithForm encodes params with EncodeForm. GET and DELETE requests carry the
// parameters in the query string, every other method in a form body.
func (r Request) WithForm(params any) (Request, error) {
	values, err := EncodeForm(params)
	if err != nil {
		return r, err
	}
	if r.method == http.MethodGet || r.method == http.MethodDelete {
		return r.WithQuery(values), nil
	}
	r.body = []byte(values.Encode())
	r.contentType = ContentTypeForm
	return r, nil
}

// WithJSON returns a copy of r with v marshalled as a JSON body.
func (r Request) WithJSON(v any) (Request, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return r, fmt.Errorf("编码JSON请求体失败: %w", err)
	}
	r.body = data
	r.contentType = ContentTypeJSON
	return r, nil
}

// WithBody returns a copy of r with a raw body of the given content type.
func (r Request) WithBody(contentType string, body []byte) Request {
	r.body = append([]byte(nil), body...)
	r.contentType = contentType
	return r
}

func (r Request) WithIdempotencyKey(key string) Request {
	r.idempotencyKey = key
	return r
}

// WithStripeAccount makes the call on behalf of a connected account.
func (r Request) WithStripeAccount(id string) Request {
	r.stripeAccount = id
	return r
}

func (r Request) WithHeader(key, value string) Request {
	h := r.header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set(key, value)
	r.header = h
	return r
}

func (r Request) Method() string         { return r.method }
func (r Request) Path() string           { return r.path }
func (r Request) ContentType() string    { return r.contentType }
func (r Request) IdempotencyKey() string { return r.idempotencyKey }
func (r Request) StripeAccount() string  { return r.stripeAccount }
func (r Request) HasBody() bool          { return len(r.body) > 0 }

// Body returns a copy of the materialized body.
func (r Request) Body() []byte {
	if r.body == nil {
		return nil
	}
	return append([]byte(nil), r.body...)
}

func (r Request) Query() url.Values { return cloneValues(r.query) }

func (r Request) Header() http.Header { return r.header.Clone() }

// URL resolves the request against base, e.g. "https://api.stripe.com/".
func (r Request) URL(base string) string {
	u := strings.TrimRight(base, "/") + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	return u
}

func (r Request) String() string {
	return r.method + " " + r.path
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
