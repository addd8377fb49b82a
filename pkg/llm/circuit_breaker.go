package llm

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/uketsuke/pkg/conversation"
	"github.com/harunnryd/uketsuke/pkg/metrics"
	"github.com/harunnryd/uketsuke/pkg/resilience"
)

// CircuitBreakerBackend wraps a CompletionBackend with rate-limit circuit breaking.
type CircuitBreakerBackend struct {
	inner   CompletionBackend
	breaker *resilience.CircuitBreaker
	obs     metrics.Observer
	open    bool
	mu      sync.Mutex
}

func WithCircuitBreaker(inner CompletionBackend, breaker *resilience.CircuitBreaker) *CircuitBreakerBackend {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(3, 30*time.Second)
	}
	return &CircuitBreakerBackend{inner: inner, breaker: breaker}
}

func (a *CircuitBreakerBackend) Name() string { return a.inner.Name() }

// SetObserver allows metrics emission for breaker events.
func (a *CircuitBreakerBackend) SetObserver(obs metrics.Observer) { a.obs = obs }

func (a *CircuitBreakerBackend) CreateCompletion(ctx context.Context, messages []conversation.Turn, opts CompletionOptions) (string, error) {
	if !a.breaker.Allow() {
		a.setOpen(true)
		a.record(metrics.EventBreakerDenied)
		return "", RateLimited(a.Name(), resilience.ErrCircuitOpen)
	}
	a.setOpen(false)
	text, err := a.inner.CreateCompletion(ctx, messages, opts)
	if err != nil {
		if resilience.IsRateLimit(err) {
			a.record(metrics.EventRateLimit)
		}
		a.breaker.OnError(err)
		return "", err
	}
	a.breaker.OnSuccess()
	return text, nil
}

func (a *CircuitBreakerBackend) record(name string) {
	metrics.Record(a.obs, name, 1, map[string]string{
		"provider":  a.inner.Name(),
		"component": "llm",
	}, nil)
}

func (a *CircuitBreakerBackend) setOpen(open bool) {
	a.mu.Lock()
	changed := a.open != open
	a.open = open
	a.mu.Unlock()
	if !changed {
		return
	}
	if open {
		a.record(metrics.EventBreakerOpen)
		return
	}
	a.record(metrics.EventBreakerClose)
}
