package retry

import (
	"strconv"
	"strings"
	"time"
)

// Hint 远端服务通过 Stripe-Should-Retry 响应头给出的重试提示（三态）
type Hint int8

const (
	HintAbsent Hint = iota // 响应中没有该头部
	HintTrue               // 服务端明确建议重试
	HintFalse              // 服务端明确禁止重试
)

// ShouldRetryHeader is the response header carrying the retry hint.
const ShouldRetryHeader = "Stripe-Should-Retry"

func (h Hint) String() string {
	switch h {
	case HintTrue:
		return "true"
	case HintFalse:
		return "false"
	default:
		return "absent"
	}
}

// ParseHint converts a Stripe-Should-Retry header value into a Hint.
// Values that do not parse as a boolean are treated as absent.
func ParseHint(value string) Hint {
	value = strings.TrimSpace(value)
	if value == "" {
		return HintAbsent
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return HintAbsent
	}
	if b {
		return HintTrue
	}
	return HintFalse
}

// Attempt 上一次尝试的结果摘要，只在重试循环内部存在
type Attempt struct {
	Status int  // 最近一次观察到的HTTP状态码，0 表示没有（尚未尝试或传输层失败）
	Hint   Hint // 最近一次的重试提示
	Tries  int  // 已经完成的尝试次数
}

// Decision 重试决策结果
type Decision struct {
	Continue bool          // 是否继续发送请求
	Delay    time.Duration // 发送前需要等待的时间
	Reason   string        // 决策原因（用于日志）
}

// Stop returns a decision that ends the retry loop.
func Stop(reason string) Decision {
	return Decision{Reason: reason}
}

// ContinueAfter returns a decision that sends the next attempt after delay.
func ContinueAfter(delay time.Duration, reason string) Decision {
	return Decision{Continue: true, Delay: delay, Reason: reason}
}
