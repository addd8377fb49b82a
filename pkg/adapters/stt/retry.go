package stt

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/harunnryd/uketsuke/pkg/errorsx"
	"github.com/harunnryd/uketsuke/pkg/metrics"
	"github.com/harunnryd/uketsuke/pkg/resilience"
)

type timeoutTranscriber struct {
	inner   Transcriber
	timeout time.Duration
}

// WithTimeout bounds each transcription call.
func WithTimeout(inner Transcriber, timeout time.Duration) Transcriber {
	if timeout <= 0 {
		return inner
	}
	return &timeoutTranscriber{inner: inner, timeout: timeout}
}

func (t *timeoutTranscriber) Name() string { return t.inner.Name() }

func (t *timeoutTranscriber) Transcribe(ctx context.Context, audio []byte, modelID string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	text, err := t.inner.Transcribe(callCtx, audio, modelID)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return "", errorsx.Wrap(&TranscriptionError{Provider: t.inner.Name(), Err: err}, errorsx.ReasonSTTTimeout)
	}
	return text, err
}

type retryTranscriber struct {
	inner  Transcriber
	policy resilience.RetryPolicy
	obs    metrics.Observer
}

// WithRetry retries failed transcriptions with bounded exponential backoff.
// The exhausted error is still a TranscriptionError.
func WithRetry(inner Transcriber, policy resilience.RetryPolicy, obs metrics.Observer) Transcriber {
	if policy.MaxAttempts <= 1 {
		return inner
	}
	return &retryTranscriber{inner: inner, policy: policy, obs: obs}
}

func (r *retryTranscriber) Name() string { return r.inner.Name() }

func (r *retryTranscriber) Transcribe(ctx context.Context, audio []byte, modelID string) (string, error) {
	policy := r.policy
	policy.IsRetryable = func(err error) bool {
		return ctx.Err() == nil && !errors.Is(err, context.Canceled)
	}
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		slog.Warn("stt_retry",
			"provider", r.inner.Name(),
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
		metrics.Record(r.obs, metrics.EventRetry, float64(attempt), map[string]string{
			"provider":  r.inner.Name(),
			"component": "stt",
		}, nil)
	}
	var out string
	err := policy.Do(ctx, func(ctx context.Context) error {
		text, err := r.inner.Transcribe(ctx, audio, modelID)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	if err != nil {
		return "", Fail(r.inner.Name(), err)
	}
	return out, nil
}
