package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"stripekit/config"
)

// attemptsAuthorized 模拟执行器循环，统计策略在持续失败下允许的尝试次数
func attemptsAuthorized(p Policy, status int, hint Hint) int {
	a := Attempt{}
	for {
		d := p.Test(a)
		if !d.Continue {
			return a.Tries
		}
		a.Tries++
		a.Status = status
		a.Hint = hint
		if a.Tries > 1000 {
			return a.Tries
		}
	}
}

func TestPolicy_SingleAttemptKinds(t *testing.T) {
	for _, p := range []Policy{Once(), NoRetry(), Idempotent("key-1"), {}} {
		t.Run(p.String(), func(t *testing.T) {
			first := p.Test(Attempt{})
			assert.True(t, first.Continue)
			assert.Zero(t, first.Delay)

			assert.False(t, p.Test(Attempt{Tries: 1, Status: 500}).Continue)
			assert.Equal(t, 1, attemptsAuthorized(p, 500, HintAbsent))
			assert.Equal(t, 1, p.MaxAttempts())
		})
	}
}

func TestPolicy_RetryUpTo_ServerErrors(t *testing.T) {
	p := RetryUpTo(5)
	assert.Equal(t, 5, attemptsAuthorized(p, 500, HintAbsent))
	assert.Equal(t, 5, attemptsAuthorized(p, 503, HintTrue))
	assert.Equal(t, 5, attemptsAuthorized(p, 0, HintAbsent), "transport failures stay retryable")
	assert.Equal(t, 5, attemptsAuthorized(p, 409, HintAbsent), "conflicts are retryable")
}

func TestPolicy_RetryUpTo_ClientErrorsStop(t *testing.T) {
	p := RetryUpTo(5)
	assert.Equal(t, 1, attemptsAuthorized(p, 404, HintAbsent))
	assert.Equal(t, 1, attemptsAuthorized(p, 400, HintAbsent))
	assert.Equal(t, 5, attemptsAuthorized(p, 429, HintTrue), "explicit hint overrides client error")
}

func TestPolicy_ShouldRetryFalseStops(t *testing.T) {
	for _, p := range []Policy{Once(), RetryUpTo(5), RetryUpTo(100)} {
		assert.Equal(t, 1, attemptsAuthorized(p, 500, HintFalse), p.String())
	}
}

func TestPolicy_ZeroAttempts(t *testing.T) {
	d := RetryUpTo(0).Test(Attempt{})
	assert.False(t, d.Continue)
	assert.False(t, RetryUpTo(-3).Test(Attempt{}).Continue)
	assert.Equal(t, 0, RetryUpTo(-3).MaxAttempts())
}

func TestPolicy_RetryDelaysFollowBackoff(t *testing.T) {
	b := Backoff{Base: 10 * time.Millisecond, Max: 35 * time.Millisecond, Multiplier: 2}
	p := RetryUpTo(5).WithBackoff(b)

	var delays []time.Duration
	for tries := 0; tries < 5; tries++ {
		d := p.Test(Attempt{Tries: tries, Status: 500})
		require.True(t, d.Continue)
		delays = append(delays, d.Delay)
	}
	assert.Equal(t, []time.Duration{0, 10 * time.Millisecond, 20 * time.Millisecond, 35 * time.Millisecond, 35 * time.Millisecond}, delays)
}

func TestPolicy_IdempotencyKey(t *testing.T) {
	_, ok := Once().IdempotencyKey()
	assert.False(t, ok)
	_, ok = NoRetry().IdempotencyKey()
	assert.False(t, ok)

	key, ok := Idempotent("order-42").IdempotencyKey()
	assert.True(t, ok)
	assert.Equal(t, "order-42", key)

	_, ok = Idempotent("").IdempotencyKey()
	assert.False(t, ok)

	k1, ok := RetryUpTo(3).IdempotencyKey()
	require.True(t, ok)
	k2, _ := RetryUpTo(3).IdempotencyKey()
	assert.Len(t, k1, 36)
	assert.NotEqual(t, k1, k2)
}

func TestFromConfig(t *testing.T) {
	assert.Equal(t, KindOnce, FromConfig(config.RetryConfig{Strategy: "once"}).Kind())
	assert.Equal(t, KindNoRetry, FromConfig(config.RetryConfig{Strategy: "no_retry"}).Kind())

	p := FromConfig(config.RetryConfig{
		Strategy:    "retry",
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		MaxDelay:    3 * time.Second,
		Multiplier:  1.5,
	})
	assert.Equal(t, KindRetry, p.Kind())
	assert.Equal(t, 4, p.MaxAttempts())
	assert.Equal(t, Backoff{Base: time.Second, Max: 3 * time.Second, Multiplier: 1.5}, p.Backoff())
	assert.Equal(t, "retry(4)", p.String())
}

func TestParseHint(t *testing.T) {
	assert.Equal(t, HintAbsent, ParseHint(""))
	assert.Equal(t, HintTrue, ParseHint("true"))
	assert.Equal(t, HintFalse, ParseHint("false"))
	assert.Equal(t, HintFalse, ParseHint(" FALSE "))
	assert.Equal(t, HintAbsent, ParseHint("maybe"))
}

// TestBackoff_MonotonicAndBounded 属性测试：退避延迟单调不减且有上界
func TestBackoff_MonotonicAndBounded(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := Backoff{
			Base:       time.Duration(rapid.Int64Range(1, int64(time.Second)).Draw(t, "base")),
			Multiplier: rapid.Float64Range(1, 4).Draw(t, "multiplier"),
		}
		b.Max = b.Base * time.Duration(rapid.Int64Range(1, 50).Draw(t, "maxFactor"))

		if b.Delay(0) != 0 {
			t.Fatalf("first attempt must not wait, got %v", b.Delay(0))
		}
		prev := time.Duration(0)
		for tries := 1; tries < 80; tries++ {
			d := b.Delay(tries)
			if d < prev {
				t.Fatalf("delay decreased at %d: %v < %v", tries, d, prev)
			}
			if d > b.Max {
				t.Fatalf("delay %v exceeds max %v", d, b.Max)
			}
			prev = d
		}
	})
}

// TestPolicy_AttemptCountProperty 属性测试：RetryUpTo(n) 在可重试状态下恰好允许 n 次尝试
func TestPolicy_AttemptCountProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "n")
		status := rapid.SampledFrom([]int{0, 409, 500, 502, 503, 504}).Draw(t, "status")
		got := attemptsAuthorized(RetryUpTo(n).WithBackoff(Backoff{}), status, HintAbsent)
		if got != n {
			t.Fatalf("RetryUpTo(%d) authorized %d attempts for status %d", n, got, status)
		}
	})
}
