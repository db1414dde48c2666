package executor

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Backoff computes jittered exponential delays between failed attempts in a
// fallback chain.
type Backoff struct {
	baseDelay time.Duration
	maxDelay  time.Duration
}

// NewBackoff builds a Backoff. Non-positive arguments fall back to defaults;
// a zero base disables waiting entirely, which tests rely on.
func NewBackoff(base, maxDelay time.Duration) Backoff {
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return Backoff{baseDelay: base, maxDelay: maxDelay}
}

// Delay returns the wait before trying the next candidate after attempt
// attemptIndex failed: base * 2^index, capped, with up to 50% jitter.
func (b Backoff) Delay(attemptIndex int) time.Duration {
	if b.baseDelay <= 0 {
		return 0
	}
	delay := float64(b.baseDelay) * math.Pow(2, float64(attemptIndex))
	if delay > float64(b.maxDelay) {
		delay = float64(b.maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
