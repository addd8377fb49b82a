package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"
)

// RetryPolicy defines bounded exponential backoff for transient failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	IsRetryable func(error) bool
	// OnRetry is called before sleeping ahead of the given attempt (1-based).
	OnRetry func(attempt int, err error, delay time.Duration)
	Sleep   func(ctx context.Context, d time.Duration) error
}

func NewRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) RetryPolicy {
	return RetryPolicy{MaxAttempts: maxAttempts, BaseDelay: baseDelay, MaxDelay: maxDelay}.withDefaults()
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 200 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 2 * time.Second
	}
	if p.IsRetryable == nil {
		p.IsRetryable = DefaultIsRetryable
	}
	if p.Sleep == nil {
		p.Sleep = SleepContext
	}
	return p
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempt
// budget is spent. The last error is returned unchanged.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p = p.withDefaults()
	var lastErr error
	for i := 0; i < p.MaxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !p.IsRetryable(err) || i == p.MaxAttempts-1 {
			break
		}
		delay := p.Delay(i)
		if p.OnRetry != nil {
			p.OnRetry(i+2, err, delay)
		}
		if err := p.Sleep(ctx, delay); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// Delay returns the backoff before the attempt following attempt index i.
func (p RetryPolicy) Delay(i int) time.Duration {
	p = p.withDefaults()
	pow := math.Pow(2, float64(i))
	d := time.Duration(float64(p.BaseDelay) * pow)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d += time.Duration(float64(d) * p.Jitter * jitterFloat())
	}
	return d
}

// DefaultIsRetryable retries everything except context cancellation.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func jitterFloat() float64 {
	rngMu.Lock()
	defer rngMu.Unlock()
	return rng.Float64()
}
