// Package ratelimit throttles outbound frames on a realtime connection.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket that allows a fixed number of frames per period with an equal burst.
type Limiter struct {
	bucket  *rate.Limiter
	metrics *Metrics
}

// Metrics tracks statistics about limiter usage.
type Metrics struct {
	waits   atomic.Int64
	passed  atomic.Int64
	dropped atomic.Int64
}

// New creates a Limiter that admits frames per period.
func New(frames int, period time.Duration) *Limiter {
	return &Limiter{
		bucket:  rate.NewLimiter(perSecond(frames, period), frames),
		metrics: &Metrics{},
	}
}

func perSecond(frames int, period time.Duration) rate.Limit {
	if frames <= 0 || period <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(frames) / period.Seconds())
}

// Wait blocks until a frame may be sent or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	l.metrics.waits.Add(1)
	if err := l.bucket.Wait(ctx); err != nil {
		l.metrics.dropped.Add(1)
		return err
	}
	l.metrics.passed.Add(1)
	return nil
}

// Metrics returns a snapshot of the current limiter statistics.
func (l *Limiter) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		Waits:   l.metrics.waits.Load(),
		Passed:  l.metrics.passed.Load(),
		Dropped: l.metrics.dropped.Load(),
	}
}

// MetricsSnapshot is a point-in-time capture of limiter statistics.
type MetricsSnapshot struct {
	// Waits is the number of frames that asked for admission.
	Waits int64
	// Passed is the number of frames admitted.
	Passed int64
	// Dropped is the number of frames refused or cancelled while waiting.
	Dropped int64
}
