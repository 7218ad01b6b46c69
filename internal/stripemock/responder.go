package stripemock

import (
	"encoding/json"
	"net/http"
	"time"
)

// Responder 一条预设的响应，同一路由上的多个 Responder 按顺序播放，最后一个重复使用
type Responder struct {
	status int
	body   []byte
	header http.Header
	delay  time.Duration
}

// JSON responds with v marshalled as JSON. It panics if v cannot be marshalled,
// since fixtures are fixed at test-writing time.
func JSON(status int, v any) Responder {
	data, err := json.Marshal(v)
	if err != nil {
		panic("stripemock: cannot marshal fixture: " + err.Error())
	}
	return Responder{status: status, body: data, header: http.Header{"Content-Type": {"application/json"}}}
}

// Raw responds with body as is.
func Raw(status int, body []byte) Responder {
	return Responder{status: status, body: append([]byte(nil), body...), header: http.Header{}}
}

// Status responds with an empty body.
func Status(code int) Responder {
	return Responder{status: code, header: http.Header{}}
}

// APIError responds with a Stripe error object.
func APIError(status int, errType, code, message string) Responder {
	obj := map[string]any{"type": errType, "message": message}
	if code != "" {
		obj["code"] = code
	}
	return JSON(status, map[string]any{"error": obj})
}

// Header returns a copy of r that also sets the given response header.
func (r Responder) Header(key, value string) Responder {
	h := r.header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set(key, value)
	r.header = h
	return r
}

// ShouldRetry sets the Stripe-Should-Retry hint.
func (r Responder) ShouldRetry(v bool) Responder {
	if v {
		return r.Header("Stripe-Should-Retry", "true")
	}
	return r.Header("Stripe-Should-Retry", "false")
}

// Delay holds the response for d, or until the client goes away.
func (r Responder) Delay(d time.Duration) Responder {
	r.delay = d
	return r
}

func notFound(method, path string) Responder {
	return APIError(http.StatusNotFound, "invalid_request_error", "",
		"Unrecognized request URL ("+method+": "+path+"). Please see https://stripe.com/docs or we can help at https://support.stripe.com/.")
}
