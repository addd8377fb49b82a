package llm

import (
	"context"
	"errors"
	"time"

	"github.com/harunnryd/uketsuke/pkg/conversation"
)

// TimeoutBackend bounds each completion call. A call that outlives its own
// deadline (while the caller's context is still live) is reported as unavailable.
type TimeoutBackend struct {
	inner   CompletionBackend
	timeout time.Duration
}

func WithTimeout(inner CompletionBackend, timeout time.Duration) CompletionBackend {
	if timeout <= 0 {
		return inner
	}
	return &TimeoutBackend{inner: inner, timeout: timeout}
}

func (b *TimeoutBackend) Name() string { return b.inner.Name() }

func (b *TimeoutBackend) CreateCompletion(ctx context.Context, messages []conversation.Turn, opts CompletionOptions) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	text, err := b.inner.CreateCompletion(callCtx, messages, opts)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		if _, ok := KindOf(err); !ok {
			return "", Unavailable(b.inner.Name(), err)
		}
	}
	return text, err
}
