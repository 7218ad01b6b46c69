package client

import (
	"errors"
	"time"

	"stripekit/retry"
	"stripekit/stripeerr"
)

// Observer is notified about every attempt and every finished logical call.
// Implementations must not block; they run on the calling goroutine.
type Observer interface {
	OnAttempt(AttemptInfo)
	OnComplete(CallInfo)
}

// AttemptInfo 单次尝试的结果
type AttemptInfo struct {
	Method         string
	Path           string
	IdempotencyKey string
	Attempt        int // 从 1 开始
	Status         int // 传输失败时为 0
	RequestID      string
	Hint           retry.Hint
	Err            error
	Duration       time.Duration
}

// CallInfo 一次逻辑调用的最终结果
type CallInfo struct {
	Method         string
	Path           string
	IdempotencyKey string
	Policy         string
	RequestID      string // Stripe 返回的最后一个 Request-Id
	Attempts       int
	Status         int
	Err            error
	Start          time.Time
	Duration       time.Duration
}

func (c CallInfo) Succeeded() bool { return c.Err == nil }

// ErrorKind returns the classification of the final error, or 0 on success.
func (c CallInfo) ErrorKind() stripeerr.Kind {
	return stripeerr.KindOf(c.Err)
}

// APIError returns the Stripe error object of the final error, if any.
func (c CallInfo) APIError() *stripeerr.APIError {
	var se *stripeerr.Error
	if errors.As(c.Err, &se) {
		return se.API
	}
	return nil
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Attempt  func(AttemptInfo)
	Complete func(CallInfo)
}

func (o ObserverFuncs) OnAttempt(info AttemptInfo) {
	if o.Attempt != nil {
		o.Attempt(info)
	}
}

func (o ObserverFuncs) OnComplete(info CallInfo) {
	if o.Complete != nil {
		o.Complete(info)
	}
}
