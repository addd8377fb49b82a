package call

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Registry tracks the orchestrators of active calls. A session leaves the
// registry when it closes, whoever closes it.
type Registry struct {
	sessions sync.Map
	count    atomic.Int64
	draining atomic.Bool
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) Add(o *Orchestrator) {
	id := o.Session().ID
	if _, loaded := r.sessions.LoadOrStore(id, o); loaded {
		return
	}
	r.count.Add(1)
	o.Session().OnClose(func(string) { r.forget(id) })
}

func (r *Registry) Get(id string) (*Orchestrator, bool) {
	if v, ok := r.sessions.Load(id); ok {
		return v.(*Orchestrator), true
	}
	return nil, false
}

// Remove closes the session with the given id.
func (r *Registry) Remove(ctx context.Context, id, reason string) {
	if o, ok := r.Get(id); ok {
		o.Close(ctx, reason)
	}
}

func (r *Registry) CloseAll(ctx context.Context, reason string) {
	r.sessions.Range(func(_, value any) bool {
		value.(*Orchestrator).Close(ctx, reason)
		return true
	})
}

func (r *Registry) forget(id string) {
	if _, ok := r.sessions.LoadAndDelete(id); ok {
		r.count.Add(-1)
	}
}

func (r *Registry) Count() int64 {
	return r.count.Load()
}

func (r *Registry) SetDraining(v bool) {
	r.draining.Store(v)
}

func (r *Registry) Draining() bool {
	return r.draining.Load()
}

func (r *Registry) WaitForEmpty(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if r.Count() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
