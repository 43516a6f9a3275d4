package conn

import "time"

// Policy is the immutable reconnect configuration.
// Transport failures back off exponentially; credential rejections wait a fixed delay.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AuthErrorDelay time.Duration
}

// DefaultPolicy returns the stock policy: 5 attempts, 1s..30s backoff, 2s after auth errors.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    5,
		BaseDelay:      1 * time.Second,
		MaxDelay:       30 * time.Second,
		AuthErrorDelay: 2 * time.Second,
	}
}

// Backoff returns min(BaseDelay * 2^attempts, MaxDelay) where attempts is the
// counter value before it is incremented for the retry being scheduled.
func (p Policy) Backoff(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	// 1<<63 overflows int64.
	if attempts > 62 {
		return p.MaxDelay
	}
	wait := p.BaseDelay * time.Duration(1<<uint(attempts))
	if wait <= 0 || wait > p.MaxDelay {
		return p.MaxDelay
	}
	return wait
}

// AuthBackoff returns the fixed delay used after a credential rejection.
func (p Policy) AuthBackoff() time.Duration {
	return p.AuthErrorDelay
}
