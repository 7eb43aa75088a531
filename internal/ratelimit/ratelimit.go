package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a token bucket shared by every request to one upstream
type Limiter struct {
	rate   float64 // tokens per second
	burst  float64
	tokens float64
	last   time.Time
	now    func() time.Time
	mu     sync.Mutex
}

// New creates a limiter allowing rps requests per second with a burst of
// one second's worth of tokens. A non-positive rate means one per second.
func New(rps float64) *Limiter {
	if rps <= 0 {
		rps = 1.0
	}
	burst := rps
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		rate:   rps,
		burst:  burst,
		tokens: burst,
		last:   time.Now(),
		now:    time.Now,
	}
}

// Wait blocks until a token is available or ctx is done
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		delay := l.reserve()
		if delay <= 0 {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve takes a token when one is available, otherwise it reports how long
// until the next one accrues
func (l *Limiter) reserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if elapsed := now.Sub(l.last).Seconds(); elapsed > 0 {
		l.tokens += elapsed * l.rate
		if l.tokens > l.burst {
			l.tokens = l.burst
		}
	}
	l.last = now

	if l.tokens >= 1.0 {
		l.tokens -= 1.0
		return 0
	}

	missing := 1.0 - l.tokens
	return time.Duration(missing / l.rate * float64(time.Second))
}
