package retry

import (
	"fmt"

	"stripekit/config"
)

// Kind 策略类型
type Kind int

const (
	KindUnset      Kind = iota // 零值，由客户端替换为默认策略
	KindOnce                   // 只尝试一次
	KindNoRetry                // 只尝试一次，调用方明确表示不重试
	KindIdempotent             // 只尝试一次，携带调用方提供的幂等键
	KindRetry                  // 最多尝试 n 次，尝试之间指数退避
)

func (k Kind) String() string {
	switch k {
	case KindOnce:
		return "once"
	case KindNoRetry:
		return "no_retry"
	case KindIdempotent:
		return "idempotent"
	case KindRetry:
		return "retry"
	default:
		return "unset"
	}
}

// Policy 重试策略，纯值类型，可以自由复制和比较
type Policy struct {
	kind        Kind
	maxAttempts int
	key         string
	backoff     Backoff
}

// Once authorizes exactly one attempt.
func Once() Policy {
	return Policy{kind: KindOnce, maxAttempts: 1}
}

// NoRetry authorizes exactly one attempt. It behaves like Once and exists so call
// sites can state that retrying was considered and rejected.
func NoRetry() Policy {
	return Policy{kind: KindNoRetry, maxAttempts: 1}
}

// Idempotent authorizes one attempt carrying the given idempotency key.
func Idempotent(key string) Policy {
	return Policy{kind: KindIdempotent, maxAttempts: 1, key: key}
}

// RetryUpTo authorizes up to n attempts with DefaultBackoff between them.
// A non-positive n authorizes no attempt at all, which the executor reports
// as a misconfigured policy.
func RetryUpTo(n int) Policy {
	if n < 0 {
		n = 0
	}
	return Policy{kind: KindRetry, maxAttempts: n, backoff: DefaultBackoff}
}

// FromConfig builds the policy described by the retry section of the configuration.
func FromConfig(cfg config.RetryConfig) Policy {
	switch cfg.Strategy {
	case "once":
		return Once()
	case "no_retry":
		return NoRetry()
	default:
		return RetryUpTo(cfg.MaxAttempts).WithBackoff(Backoff{
			Base:       cfg.BaseDelay,
			Max:        cfg.MaxDelay,
			Multiplier: cfg.Multiplier,
		})
	}
}

// WithBackoff returns a copy of p using b between attempts. It only affects RetryUpTo policies.
func (p Policy) WithBackoff(b Backoff) Policy {
	p.backoff = b
	return p
}

func (p Policy) Kind() Kind { return p.kind }

// IsZero reports whether p is the zero Policy.
func (p Policy) IsZero() bool { return p.kind == KindUnset }

// MaxAttempts returns how many attempts the policy authorizes at most.
func (p Policy) MaxAttempts() int {
	if p.kind == KindUnset {
		return 1
	}
	return p.maxAttempts
}

func (p Policy) Backoff() Backoff { return p.backoff }

// IdempotencyKey returns the key a logical call made under p should carry.
// Retrying policies get a fresh random key on every call, so the caller must
// resolve it once per logical operation and reuse it for every attempt.
func (p Policy) IdempotencyKey() (string, bool) {
	switch p.kind {
	case KindIdempotent:
		return p.key, p.key != ""
	case KindRetry:
		return NewIdempotencyKey(), true
	default:
		return "", false
	}
}

// Test decides whether another attempt should be made given the outcome of the previous one.
func (p Policy) Test(a Attempt) Decision {
	// 服务端明确表示不要重试
	if a.Hint == HintFalse {
		return Stop("服务端返回 Stripe-Should-Retry: false")
	}

	switch p.kind {
	case KindRetry:
		if a.Tries >= p.maxAttempts {
			return Stop(fmt.Sprintf("已达到最大尝试次数 %d", p.maxAttempts))
		}
		// 客户端错误通常无法通过重试解决，409 冲突和服务端明确建议重试的除外
		if a.Tries > 0 && isClientError(a.Status) && a.Hint != HintTrue {
			return Stop(fmt.Sprintf("客户端错误 %d，无需重试", a.Status))
		}
		if a.Tries == 0 {
			return ContinueAfter(0, "首次尝试")
		}
		return ContinueAfter(p.backoff.Delay(a.Tries), fmt.Sprintf("第 %d 次重试", a.Tries))
	default:
		if a.Tries == 0 {
			return ContinueAfter(0, "首次尝试")
		}
		return Stop("策略只允许一次尝试")
	}
}

func (p Policy) String() string {
	switch p.kind {
	case KindRetry:
		return fmt.Sprintf("retry(%d)", p.maxAttempts)
	default:
		return p.kind.String()
	}
}

func isClientError(status int) bool {
	return status >= 400 && status < 500 && status != 409
}
