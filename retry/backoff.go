package retry

import (
	"math"
	"time"
)

// Backoff 指数退避参数
// 算法：Base * (Multiplier ^ (retry-1))，不超过 Max
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff waits 500ms before the first retry, doubling up to 8s.
var DefaultBackoff = Backoff{
	Base:       500 * time.Millisecond,
	Max:        8 * time.Second,
	Multiplier: 2.0,
}

// Delay returns the wait before the attempt that follows tries completed attempts.
// The first attempt (tries == 0) never waits.
func (b Backoff) Delay(tries int) time.Duration {
	if tries <= 0 || b.Base <= 0 {
		return 0
	}

	multiplier := b.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	// 第一次重试(tries=1)使用基础延迟
	delay := float64(b.Base) * math.Pow(multiplier, float64(tries-1))

	maxDelay := b.Max
	if maxDelay < b.Base {
		maxDelay = b.Base
	}
	if delay > float64(maxDelay) || math.IsInf(delay, 0) || math.IsNaN(delay) {
		return maxDelay
	}
	return time.Duration(delay)
}
