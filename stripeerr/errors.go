package stripeerr

import (
	"errors"
	"fmt"
)

// Kind 错误分类
type Kind int

const (
	KindTransport       Kind = iota + 1 // 连接失败、DNS、超时等传输层错误，可重试
	KindAPI                             // 远端返回的结构化错误，可重试（受策略和提示头约束）
	KindInvalidEncoding                 // 响应不是合法的 UTF-8，终止
	KindDeserialize                     // 响应与期望的结构不匹配，或错误体无法解析，终止
	KindInvalidStrategy                 // 策略一次尝试都不允许，属于编程错误
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAPI:
		return "api"
	case KindInvalidEncoding:
		return "invalid_encoding"
	case KindDeserialize:
		return "deserialize"
	case KindInvalidStrategy:
		return "invalid_strategy"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by the request executor.
type Error struct {
	Kind       Kind
	Message    string
	HTTPStatus int       // 0 unless the error came from an HTTP response
	API        *APIError // set for KindAPI
	Err        error     // underlying cause, if any
}

// Sentinels for errors.Is; they match any *Error of the same Kind.
var (
	ErrTransport       = &Error{Kind: KindTransport}
	ErrAPI             = &Error{Kind: KindAPI}
	ErrInvalidEncoding = &Error{Kind: KindInvalidEncoding}
	ErrDeserialize     = &Error{Kind: KindDeserialize}
	ErrInvalidStrategy = &Error{Kind: KindInvalidStrategy}
)

func (e *Error) Error() string {
	switch e.Kind {
	case KindAPI:
		if e.API != nil {
			return fmt.Sprintf("stripe: %s (status %d): %s", e.API.describe(), e.HTTPStatus, e.API.Message)
		}
		return fmt.Sprintf("stripe: api error (status %d)", e.HTTPStatus)
	case KindTransport:
		if e.Err != nil {
			return "stripe: transport error: " + e.Err.Error()
		}
	}
	if e.Err != nil {
		return fmt.Sprintf("stripe: %s: %v", e.Message, e.Err)
	}
	return "stripe: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinel errors by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.API == nil && t.Err == nil
}

// Code returns the Stripe error code of an API error, or "" for every other kind.
func (e *Error) Code() ErrorCode {
	if e.API == nil {
		return ""
	}
	return e.API.Code
}

// Transport wraps a connection-level failure.
func Transport(err error) *Error {
	return &Error{Kind: KindTransport, Message: "transport error", Err: err}
}

// InvalidEncoding reports a response body that is not valid UTF-8.
func InvalidEncoding(status int) *Error {
	return &Error{Kind: KindInvalidEncoding, Message: "response was not valid UTF-8", HTTPStatus: status}
}

// Deserialize reports a body that does not match the expected shape.
func Deserialize(status int, msg string, err error) *Error {
	return &Error{Kind: KindDeserialize, Message: msg, HTTPStatus: status, Err: err}
}

// InvalidStrategy reports a retry policy that authorized no attempt.
func InvalidStrategy(policy string) *Error {
	return &Error{Kind: KindInvalidStrategy, Message: fmt.Sprintf("invalid retry strategy %s: no attempt authorized", policy)}
}

// Retryable reports whether err is transient: a connection failure, or an
// HTTP failure whose status (409, 429, 5xx) usually clears on its own. It
// classifies an outcome; retry decisions are made by the policy.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case KindTransport:
		return true
	case KindAPI, KindDeserialize:
		return e.HTTPStatus == 409 || e.HTTPStatus == 429 || e.HTTPStatus >= 500
	default:
		return false
	}
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
