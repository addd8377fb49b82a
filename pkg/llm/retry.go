package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/harunnryd/uketsuke/pkg/conversation"
	"github.com/harunnryd/uketsuke/pkg/metrics"
	"github.com/harunnryd/uketsuke/pkg/resilience"
)

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	Sleep       func(ctx context.Context, d time.Duration) error
}

// RetryBackend retries unavailable and rate-limited completions with bounded
// exponential backoff. Rejected requests fail on the first attempt. An invalid response is retried once; if the retry is
// still invalid the failure is reported as unavailable.
type RetryBackend struct {
	inner CompletionBackend
	cfg   RetryConfig
	obs   metrics.Observer
}

func WithRetry(inner CompletionBackend, cfg RetryConfig) *RetryBackend {
	return &RetryBackend{inner: inner, cfg: cfg}
}

func (b *RetryBackend) Name() string { return b.inner.Name() }

// SetObserver allows metrics emission for retries.
func (b *RetryBackend) SetObserver(obs metrics.Observer) { b.obs = obs }

func (b *RetryBackend) CreateCompletion(ctx context.Context, messages []conversation.Turn, opts CompletionOptions) (string, error) {
	maxAttempts := b.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	calls, invalid := 0, 0
	policy := resilience.RetryPolicy{
		// one extra slot so an invalid response is retried even at the budget edge
		MaxAttempts: maxAttempts + 1,
		BaseDelay:   b.cfg.BaseDelay,
		MaxDelay:    b.cfg.MaxDelay,
		Jitter:      b.cfg.Jitter,
		Sleep:       b.cfg.Sleep,
		IsRetryable: func(err error) bool {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, resilience.ErrCircuitOpen) || IsRejected(err) {
				return false
			}
			if IsInvalidResponse(err) {
				invalid++
				return invalid <= 1
			}
			return calls < maxAttempts
		},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			slog.Warn("llm_retry",
				"provider", b.inner.Name(),
				"attempt", attempt,
				"delay_ms", delay.Milliseconds(),
				"reason_code", string(ReasonOf(err)),
				"error", err,
			)
			metrics.Record(b.obs, metrics.EventRetry, float64(attempt), map[string]string{
				"provider":  b.inner.Name(),
				"component": "llm",
			}, nil)
		},
	}
	var out string
	err := policy.Do(ctx, func(ctx context.Context) error {
		calls++
		text, err := b.inner.CreateCompletion(ctx, messages, opts)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	if err == nil {
		return out, nil
	}
	if IsInvalidResponse(err) {
		return "", &BackendError{Kind: KindUnavailable, Provider: b.inner.Name(), Err: err}
	}
	return "", err
}
